/*
 * Copyright 2025 the Pulseboard Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package collector fans out to per-service adapters, isolates their
// failures, and merges results into one snapshot per cycle.
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulseboard/pulseboard/pkg/cache"
	"github.com/pulseboard/pulseboard/pkg/db"
	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

// defaultMemoryPressureBytes is the process RSS above which a successful
// cycle proactively cleans the cache.
const defaultMemoryPressureBytes = 512 * 1024 * 1024

// Orchestrator runs collection cycles. At most one cycle runs at a time; a
// concurrent CollectAll fails fast with ErrCollectionInProgress.
type Orchestrator struct {
	db        db.Service
	cache     *cache.Cache
	publisher SnapshotPublisher
	logger    logger.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter

	collecting atomic.Bool

	memoryPressureBytes int64
}

// collectResult is one settled per-instance collection.
type collectResult struct {
	instanceID string
	name       string
	payload    models.MetricPayload
	err        error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher attaches an optional snapshot push sink.
func WithPublisher(p SnapshotPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMemoryPressureThreshold overrides the RSS threshold that triggers a
// post-cycle cache cleanup.
func WithMemoryPressureThreshold(bytes int64) Option {
	return func(o *Orchestrator) { o.memoryPressureBytes = bytes }
}

// New creates an Orchestrator over the given store and cache.
func New(database db.Service, metricsCache *cache.Cache, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:                  database,
		cache:               metricsCache,
		logger:              log,
		adapters:            make(map[string]Adapter),
		memoryPressureBytes: defaultMemoryPressureBytes,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// RegisterAdapter binds an adapter to a service type. One adapter kind per
// service type; a second registration replaces the first.
func (o *Orchestrator) RegisterAdapter(serviceType string, adapter Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.adapters[serviceType] = adapter
}

func (o *Orchestrator) adapterFor(serviceType string) (Adapter, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	adapter, ok := o.adapters[serviceType]

	return adapter, ok
}

// IsCurrentlyCollecting reports whether a cycle is in flight.
func (o *Orchestrator) IsCurrentlyCollecting() bool {
	return o.collecting.Load()
}

// CollectAll runs one collection cycle: concurrent fan-out to every enabled,
// configured instance, merge into a snapshot, persist, and cache. A failing
// adapter is logged and omitted from the snapshot; it never aborts siblings
// or the cycle. A storage write failure is returned alongside the snapshot.
func (o *Orchestrator) CollectAll(ctx context.Context) (*models.Snapshot, error) {
	if !o.collecting.CompareAndSwap(false, true) {
		return nil, ErrCollectionInProgress
	}
	defer o.collecting.Store(false)

	start := time.Now()

	snapshot := &models.Snapshot{
		Timestamp: start.Unix(),
		Results:   make(map[string]models.MetricPayload),
	}

	instances, err := o.db.GetAllServiceInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}

	results := o.fanOut(ctx, instances)

	for _, result := range results {
		if result.err != nil {
			snapshot.Failed++
			o.logger.Error().Err(result.err).
				Str("instance_id", result.instanceID).
				Str("name", result.name).
				Msg("Adapter collection failed, omitting instance from snapshot")

			continue
		}

		snapshot.Succeeded++
		snapshot.Results[result.instanceID] = result.payload
	}

	snapshot.DurationMs = time.Since(start).Milliseconds()

	o.logger.Info().
		Int("succeeded", snapshot.Succeeded).
		Int("failed", snapshot.Failed).
		Int64("duration_ms", snapshot.DurationMs).
		Msg("Collection cycle completed")

	var persistErr error

	if len(snapshot.Results) > 0 {
		if persistErr = o.db.InsertMetrics(ctx, snapshot); persistErr != nil {
			o.logger.Error().Err(persistErr).Msg("Failed to persist snapshot")
		}
	}

	cacheKey := snapshotCacheKey(snapshot.Timestamp)
	if err := o.cache.Store(cacheKey, snapshot); err != nil {
		o.logger.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache snapshot")
	}

	o.relieveMemoryPressure()

	if o.publisher != nil {
		if err := o.publisher.PublishSnapshot(ctx, snapshot); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to push snapshot to sink")
		}
	}

	return snapshot, persistErr
}

// snapshotCacheKey is the cache key for a cycle's snapshot.
func snapshotCacheKey(timestamp int64) string {
	return fmt.Sprintf("metrics:%d", timestamp)
}

// fanOut launches one collection per eligible instance and waits for all of
// them to settle. Unconfigured instances and instances without a registered
// adapter are skipped before any network call.
func (o *Orchestrator) fanOut(ctx context.Context, instances []models.ServiceInstance) []collectResult {
	var wg sync.WaitGroup

	resultChan := make(chan collectResult, len(instances))

	for i := range instances {
		instance := instances[i]

		if !instance.Enabled {
			continue
		}

		if !instance.IsConfigured() {
			o.logger.Warn().
				Str("instance_id", instance.ID).
				Str("name", instance.Name).
				Msg("Skipping instance with missing URL or credentials")

			continue
		}

		adapter, ok := o.adapterFor(instance.ServiceType)
		if !ok {
			o.logger.Warn().
				Str("instance_id", instance.ID).
				Str("service_type", instance.ServiceType).
				Msgf("Skipping instance: %v", errAdapterNotRegistered)

			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			payload, err := o.collectOne(ctx, adapter, &instance)
			resultChan <- collectResult{
				instanceID: instance.ID,
				name:       instance.Name,
				payload:    payload,
				err:        err,
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]collectResult, 0, len(instances))

	for result := range resultChan {
		results = append(results, result)
	}

	return results
}

// collectOne invokes one adapter, converting a panic into an error so a
// misbehaving adapter cannot take down the cycle.
func (o *Orchestrator) collectOne(ctx context.Context, adapter Adapter, instance *models.ServiceInstance) (payload models.MetricPayload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()

	return adapter.Collect(ctx, instance)
}

// relieveMemoryPressure cleans the cache when process RSS crosses the
// configured threshold.
func (o *Orchestrator) relieveMemoryPressure() {
	rss, err := processRSSBytes()
	if err != nil {
		o.logger.Debug().Err(err).Msg("Could not read process memory usage")
		return
	}

	if int64(rss) < o.memoryPressureBytes {
		return
	}

	removed := o.cache.PerformCleanup()
	o.logger.Info().
		Uint64("rss_bytes", rss).
		Int("entries_removed", removed).
		Msg("Memory pressure cache cleanup")
}

// ConfiguredServiceTypes returns the service types that have at least one
// enabled, fully configured instance, sorted.
func (o *Orchestrator) ConfiguredServiceTypes(ctx context.Context) ([]string, error) {
	instances, err := o.db.GetAllServiceInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}

	seen := make(map[string]struct{})

	for i := range instances {
		instance := &instances[i]
		if instance.Enabled && instance.IsConfigured() {
			seen[instance.ServiceType] = struct{}{}
		}
	}

	types := make([]string, 0, len(seen))
	for serviceType := range seen {
		types = append(types, serviceType)
	}

	sort.Strings(types)

	return types, nil
}
