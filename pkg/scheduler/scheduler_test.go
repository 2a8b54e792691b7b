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

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

// fakeClock hands out a manually driven ticker.
type fakeClock struct {
	ticks chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticks: make(chan time.Time)}
}

func (*fakeClock) Now() time.Time {
	return time.Now()
}

func (c *fakeClock) Ticker(time.Duration) Ticker {
	return &fakeTicker{ticks: c.ticks}
}

type fakeTicker struct {
	ticks chan time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time {
	return t.ticks
}

func (*fakeTicker) Stop() {}

// fakeCollector counts cycles and can simulate a busy orchestrator.
type fakeCollector struct {
	collects atomic.Int64
	busy     atomic.Bool
	done     chan struct{}
}

func (c *fakeCollector) CollectAll(context.Context) (*models.Snapshot, error) {
	c.collects.Add(1)

	if c.done != nil {
		c.done <- struct{}{}
	}

	return &models.Snapshot{Timestamp: time.Now().Unix()}, nil
}

func (c *fakeCollector) IsCurrentlyCollecting() bool {
	return c.busy.Load()
}

// MockStore is a mock implementation of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CleanupOldMetrics(ctx context.Context, daysToKeep int) (int64, error) {
	args := m.Called(ctx, daysToKeep)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) PruneExpiredCacheRows(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Optimize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) GetStats(ctx context.Context) (*models.DBStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.DBStats), args.Error(1)
}

func newTestScheduler(collector Collector, store Store, clock Clock) *Scheduler {
	return NewWithClock(collector, store, 30, logger.NewTestLogger(), clock)
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	s := newTestScheduler(&fakeCollector{}, &MockStore{}, newFakeClock())

	assert.ErrorIs(t, s.Start(context.Background(), 0), errInvalidInterval)
	assert.ErrorIs(t, s.Start(context.Background(), -time.Second), errInvalidInterval)
}

func TestStartRunsImmediateCycleThenTicks(t *testing.T) {
	clock := newFakeClock()
	collector := &fakeCollector{done: make(chan struct{}, 8)}

	s := newTestScheduler(collector, &MockStore{}, clock)
	require.NoError(t, s.Start(context.Background(), 30*time.Second))

	defer s.Stop()

	// One cycle fires before any tick arrives.
	<-collector.done
	assert.Equal(t, int64(1), collector.collects.Load())

	clock.ticks <- time.Now()
	<-collector.done

	clock.ticks <- time.Now()
	<-collector.done

	assert.Equal(t, int64(3), collector.collects.Load())
}

func TestBusyCollectorTickIsSkipped(t *testing.T) {
	clock := newFakeClock()
	collector := &fakeCollector{done: make(chan struct{}, 8)}

	s := newTestScheduler(collector, &MockStore{}, clock)
	require.NoError(t, s.Start(context.Background(), 30*time.Second))

	defer s.Stop()

	<-collector.done

	// Mark the orchestrator busy; the next ticks must be dropped, not queued.
	collector.busy.Store(true)

	clock.ticks <- time.Now()
	clock.ticks <- time.Now()

	collector.busy.Store(false)

	clock.ticks <- time.Now()
	<-collector.done

	assert.Equal(t, int64(2), collector.collects.Load())
	assert.Equal(t, int64(2), s.SkippedTicks())
}

func TestHousekeepingRunsOnSchedule(t *testing.T) {
	clock := newFakeClock()
	collector := &fakeCollector{done: make(chan struct{}, 8)}

	store := &MockStore{}
	store.On("CleanupOldMetrics", mock.Anything, 30).Return(int64(5), nil)
	store.On("PruneExpiredCacheRows", mock.Anything).Return(int64(2), nil)
	store.On("Optimize", mock.Anything).Return(nil)
	store.On("GetStats", mock.Anything).Return(&models.DBStats{Metrics: 100}, nil)

	s := newTestScheduler(collector, store, clock)
	s.housekeepingTicks = 2 // shorten the cadence for the test

	require.NoError(t, s.Start(context.Background(), 30*time.Second))

	<-collector.done

	clock.ticks <- time.Now()
	<-collector.done

	clock.ticks <- time.Now()
	<-collector.done

	// Stop drains the loop, so housekeeping for tick 2 has completed.
	s.Stop()

	store.AssertNumberOfCalls(t, "CleanupOldMetrics", 1)
	store.AssertNumberOfCalls(t, "Optimize", 1)
	store.AssertNumberOfCalls(t, "PruneExpiredCacheRows", 1)
}

func TestStopIsIdempotentAndRestartable(t *testing.T) {
	clock := newFakeClock()
	collector := &fakeCollector{done: make(chan struct{}, 8)}

	s := newTestScheduler(collector, &MockStore{}, clock)

	// Stop without Start is a no-op.
	s.Stop()

	require.NoError(t, s.Start(context.Background(), time.Minute))
	<-collector.done

	s.Stop()
	s.Stop()

	// Restart with a new interval replaces the loop.
	require.NoError(t, s.Start(context.Background(), time.Second))
	<-collector.done

	s.Stop()

	assert.Equal(t, int64(2), collector.collects.Load())
}

func TestStartReplacesRunningLoop(t *testing.T) {
	clock := newFakeClock()
	collector := &fakeCollector{done: make(chan struct{}, 8)}

	s := newTestScheduler(collector, &MockStore{}, clock)

	require.NoError(t, s.Start(context.Background(), time.Minute))
	<-collector.done

	require.NoError(t, s.Start(context.Background(), 10*time.Second))
	<-collector.done

	defer s.Stop()

	// Only one loop consumes ticks after the restart.
	clock.ticks <- time.Now()
	<-collector.done

	assert.Equal(t, int64(3), collector.collects.Load())
}
