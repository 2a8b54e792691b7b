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

// Package scheduler drives periodic collection cycles and storage
// housekeeping on a fixed ticker.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulseboard/pulseboard/pkg/collector"
	"github.com/pulseboard/pulseboard/pkg/logger"
)

// Housekeeping (retention sweep, cache pruning, VACUUM) runs once every
// defaultHousekeepingTicks collection ticks.
const defaultHousekeepingTicks = 120

var errInvalidInterval = errors.New("collection interval must be positive")

// Scheduler owns the collection ticker. Start may be called again with a new
// interval; the previous loop is stopped first.
type Scheduler struct {
	collector     Collector
	store         Store
	clock         Clock
	logger        logger.Logger
	retentionDays int

	housekeepingTicks int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	skippedTicks atomic.Int64
}

// New creates a Scheduler using the real clock.
func New(c Collector, store Store, retentionDays int, log logger.Logger) *Scheduler {
	return NewWithClock(c, store, retentionDays, log, realClock{})
}

// NewWithClock creates a Scheduler with an injected clock, for tests.
func NewWithClock(c Collector, store Store, retentionDays int, log logger.Logger, clock Clock) *Scheduler {
	return &Scheduler{
		collector:         c,
		store:             store,
		clock:             clock,
		logger:            log,
		retentionDays:     retentionDays,
		housekeepingTicks: defaultHousekeepingTicks,
	}
}

// Start launches the collection loop at the given interval. One immediate
// cycle runs before the first tick. Calling Start while a loop is running
// replaces it.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info().Dur("interval", interval).Msg("Starting collection scheduler")

	go s.run(loopCtx, interval, s.done)

	return nil
}

// Stop halts the collection loop and waits for it to exit. Safe to call
// multiple times or without a prior Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done

	s.cancel = nil
	s.done = nil
}

// SkippedTicks reports how many ticks were dropped because the previous
// cycle was still running.
func (s *Scheduler) SkippedTicks() int64 {
	return s.skippedTicks.Load()
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	s.collect(ctx)

	tickCount := 0

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Collection scheduler stopped")
			return
		case <-ticker.Chan():
			tickCount++

			s.collect(ctx)

			if tickCount%s.housekeepingTicks == 0 {
				s.housekeep(ctx)
			}
		}
	}
}

// collect runs one cycle unless one is already in flight, in which case the
// tick is dropped rather than queued.
func (s *Scheduler) collect(ctx context.Context) {
	if s.collector.IsCurrentlyCollecting() {
		skipped := s.skippedTicks.Add(1)
		s.logger.Warn().
			Int64("skipped_total", skipped).
			Msg("Previous collection cycle still running, skipping tick")

		return
	}

	if _, err := s.collector.CollectAll(ctx); err != nil {
		if errors.Is(err, collector.ErrCollectionInProgress) {
			s.skippedTicks.Add(1)
			return
		}

		s.logger.Error().Err(err).Msg("Collection cycle failed")
	}
}

func (s *Scheduler) housekeep(ctx context.Context) {
	start := s.clock.Now()

	removed, err := s.store.CleanupOldMetrics(ctx, s.retentionDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("Metric retention sweep failed")
	}

	pruned, err := s.store.PruneExpiredCacheRows(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Cache row pruning failed")
	}

	if err := s.store.Optimize(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Storage optimization failed")
	}

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Could not read storage stats")
	} else {
		s.logger.Info().
			Int64("metrics_removed", removed).
			Int64("cache_rows_pruned", pruned).
			Int64("metric_rows", stats.Metrics).
			Int64("disk_size_bytes", stats.DiskSizeBytes).
			Dur("elapsed", s.clock.Now().Sub(start)).
			Msg("Housekeeping completed")
	}
}
