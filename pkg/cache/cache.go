/*
 * Copyright 2025 the Pulseboard Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache holds recent metric snapshots in memory, bounded by age and
// aggregate serialized size.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/pkg/logger"
)

const (
	defaultMaxSizeBytes = 50 * 1024 * 1024
	defaultMaxAge       = 30 * time.Minute

	sweepInterval = 5 * time.Minute

	// evictTargetRatio is how far below the ceiling cleanup drives usage
	// once age-based purging alone is not enough.
	evictTargetRatio = 0.8
)

// entry is one cached payload with its bookkeeping.
type entry struct {
	key       string
	data      json.RawMessage
	storedAt  time.Time
	sizeBytes int64
	element   *list.Element // position in age order, oldest at back
}

// Config bounds the cache.
type Config struct {
	MaxSizeBytes int64
	MaxAge       time.Duration
}

// Cache is a process-local, TTL and size-evicting store of serialized
// snapshots. All methods are safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	entries   map[string]*entry
	ageOrder  *list.List // front = newest
	usedBytes int64

	maxSizeBytes int64
	maxAge       time.Duration

	lastCleanup time.Time
	logger      logger.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// Stats reports cache occupancy.
type Stats struct {
	Entries      int       `json:"entries"`
	UsedBytes    int64     `json:"used_bytes"`
	MaxSizeBytes int64     `json:"max_size_bytes"`
	OldestEntry  time.Time `json:"oldest_entry,omitempty"`
	LastCleanup  time.Time `json:"last_cleanup,omitempty"`
}

// New creates a cache and starts its background sweeper. Call Stop to end
// the sweeper.
func New(config Config, log logger.Logger) *Cache {
	if config.MaxSizeBytes <= 0 {
		config.MaxSizeBytes = defaultMaxSizeBytes
	}

	if config.MaxAge <= 0 {
		config.MaxAge = defaultMaxAge
	}

	c := &Cache{
		entries:      make(map[string]*entry),
		ageOrder:     list.New(),
		maxSizeBytes: config.MaxSizeBytes,
		maxAge:       config.MaxAge,
		logger:       log,
		done:         make(chan struct{}),
	}

	go c.sweepLoop()

	return c
}

// Store serializes data and caches it under key, replacing any previous
// entry. If the insertion pushes usage past the ceiling, cleanup runs
// immediately.
func (c *Cache) Store(key string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	e := &entry{
		key:       key,
		data:      payload,
		storedAt:  time.Now(),
		sizeBytes: int64(len(payload)),
	}
	e.element = c.ageOrder.PushFront(e)
	c.entries[key] = e
	c.usedBytes += e.sizeBytes

	if c.usedBytes > c.maxSizeBytes {
		removed := c.cleanupLocked()
		c.logger.Debug().Int("removed", removed).Int64("used_bytes", c.usedBytes).
			Msg("Cache over budget after insert, cleaned up")
	}

	return nil
}

// Get returns the cached value for key unmarshaled into dst, or false if the
// key is absent or expired. Expired entries are evicted lazily here.
func (c *Cache) Get(key string, dst interface{}) (bool, error) {
	c.mu.Lock()

	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}

	if time.Since(e.storedAt) > c.maxAge {
		c.removeLocked(e)
		c.mu.Unlock()

		return false, nil
	}

	payload := e.data
	c.mu.Unlock()

	if dst == nil {
		return true, nil
	}

	return true, json.Unmarshal(payload, dst)
}

// PerformCleanup purges expired entries and, when usage exceeds the ceiling,
// evicts the globally oldest entries until usage is at most 80% of it.
// Returns the number of entries removed.
func (c *Cache) PerformCleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cleanupLocked()
}

func (c *Cache) cleanupLocked() int {
	removed := 0
	cutoff := time.Now().Add(-c.maxAge)

	for el := c.ageOrder.Back(); el != nil; {
		e := el.Value.(*entry)
		if e.storedAt.After(cutoff) {
			break
		}

		el = el.Prev()
		c.removeLocked(e)
		removed++
	}

	// Within budget, nothing else to do. Evicting below the ceiling would
	// throw away live entries on every sweep.
	if c.usedBytes > c.maxSizeBytes {
		target := int64(float64(c.maxSizeBytes) * evictTargetRatio)

		for c.usedBytes > target {
			el := c.ageOrder.Back()
			if el == nil {
				break
			}

			c.removeLocked(el.Value.(*entry))
			removed++
		}
	}

	c.lastCleanup = time.Now()

	return removed
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.ageOrder.Remove(e.element)
	c.usedBytes -= e.sizeBytes
}

// ClearAll drops every entry.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.ageOrder.Init()
	c.usedBytes = 0
}

// GetStats reports current occupancy.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Entries:      len(c.entries),
		UsedBytes:    c.usedBytes,
		MaxSizeBytes: c.maxSizeBytes,
		LastCleanup:  c.lastCleanup,
	}

	if back := c.ageOrder.Back(); back != nil {
		stats.OldestEntry = back.Value.(*entry).storedAt
	}

	return stats
}

// Stop ends the background sweeper. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// sweepLoop periodically cleans up if no cleanup ran recently.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()

			if time.Since(c.lastCleanup) >= sweepInterval {
				removed := c.cleanupLocked()
				if removed > 0 {
					c.logger.Debug().Int("removed", removed).Msg("Background cache sweep")
				}
			}

			c.mu.Unlock()
		}
	}
}
