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

package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/pkg/cache"
	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

// MockStore is a mock implementation of db.Service.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Setting), args.Error(1)
}

func (m *MockStore) SetSetting(ctx context.Context, key, value string, settingType models.SettingType) error {
	args := m.Called(ctx, key, value, settingType)
	return args.Error(0)
}

func (m *MockStore) SaveServiceInstance(ctx context.Context, instance *models.ServiceInstance) error {
	args := m.Called(ctx, instance)
	return args.Error(0)
}

func (m *MockStore) GetServiceInstance(ctx context.Context, id string) (*models.ServiceInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ServiceInstance), args.Error(1)
}

func (m *MockStore) GetAllServiceInstances(ctx context.Context) ([]models.ServiceInstance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.ServiceInstance), args.Error(1)
}

func (m *MockStore) GetServiceInstancesByType(ctx context.Context, serviceType string) ([]models.ServiceInstance, error) {
	args := m.Called(ctx, serviceType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.ServiceInstance), args.Error(1)
}

func (m *MockStore) InsertMetrics(ctx context.Context, snapshot *models.Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockStore) GetLatestMetrics(ctx context.Context, instanceID string) ([]models.MetricSample, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.MetricSample), args.Error(1)
}

func (m *MockStore) GetMetricHistory(ctx context.Context, instanceID, metricName string, hours int) ([]models.MetricSample, error) {
	args := m.Called(ctx, instanceID, metricName, hours)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.MetricSample), args.Error(1)
}

func (m *MockStore) CleanupOldMetrics(ctx context.Context, daysToKeep int) (int64, error) {
	args := m.Called(ctx, daysToKeep)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) PruneExpiredCacheRows(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetUIPreferences(ctx context.Context, userID, page string) ([]models.UIPreference, error) {
	args := m.Called(ctx, userID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.UIPreference), args.Error(1)
}

func (m *MockStore) SetUIPreference(ctx context.Context, pref *models.UIPreference) error {
	args := m.Called(ctx, pref)
	return args.Error(0)
}

func (m *MockStore) GetStats(ctx context.Context) (*models.DBStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.DBStats), args.Error(1)
}

func (m *MockStore) Checkpoint(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Optimize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Backup(ctx context.Context) (*models.BackupDump, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.BackupDump), args.Error(1)
}

func (m *MockStore) Restore(ctx context.Context, dump *models.BackupDump) error {
	args := m.Called(ctx, dump)
	return args.Error(0)
}

// MockAdapter is a mock implementation of Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Collect(ctx context.Context, instance *models.ServiceInstance) (models.MetricPayload, error) {
	args := m.Called(ctx, instance)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(models.MetricPayload), args.Error(1)
}

// blockingAdapter parks every Collect call until released.
type blockingAdapter struct {
	started chan struct{}
	release chan struct{}
}

func (a *blockingAdapter) Collect(_ context.Context, _ *models.ServiceInstance) (models.MetricPayload, error) {
	a.started <- struct{}{}
	<-a.release

	return models.MetricPayload{"status": 1.0}, nil
}

func testInstance(id, serviceType string) models.ServiceInstance {
	return models.ServiceInstance{
		ID:          id,
		ServiceType: serviceType,
		Name:        id,
		URL:         "https://example.com/" + id,
		Enabled:     true,
	}
}

func newTestOrchestrator(t *testing.T, store *MockStore, opts ...Option) *Orchestrator {
	t.Helper()

	metricsCache := cache.New(cache.Config{}, logger.NewTestLogger())
	t.Cleanup(metricsCache.Stop)

	return New(store, metricsCache, logger.NewTestLogger(), opts...)
}

func TestCollectAllMergesResults(t *testing.T) {
	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		testInstance("inst-1", "http"),
		testInstance("inst-2", "http"),
	}, nil)
	store.On("InsertMetrics", mock.Anything, mock.AnythingOfType("*models.Snapshot")).Return(nil)

	adapter := &MockAdapter{}
	adapter.On("Collect", mock.Anything, mock.MatchedBy(func(i *models.ServiceInstance) bool {
		return i.ID == "inst-1"
	})).Return(models.MetricPayload{"status": 1.0}, nil)
	adapter.On("Collect", mock.Anything, mock.MatchedBy(func(i *models.ServiceInstance) bool {
		return i.ID == "inst-2"
	})).Return(models.MetricPayload{"status": 1.0, "response_time_ms": 42.0}, nil)

	o := newTestOrchestrator(t, store)
	o.RegisterAdapter("http", adapter)

	snapshot, err := o.CollectAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, snapshot.Succeeded)
	assert.Zero(t, snapshot.Failed)
	assert.Len(t, snapshot.Results, 2)
	assert.False(t, o.IsCurrentlyCollecting())

	store.AssertExpectations(t)
	adapter.AssertExpectations(t)
}

func TestCollectAllIsolatesAdapterFailures(t *testing.T) {
	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		testInstance("good", "http"),
		testInstance("bad", "http"),
	}, nil)
	store.On("InsertMetrics", mock.Anything, mock.Anything).Return(nil)

	adapter := &MockAdapter{}
	adapter.On("Collect", mock.Anything, mock.MatchedBy(func(i *models.ServiceInstance) bool {
		return i.ID == "good"
	})).Return(models.MetricPayload{"status": 1.0}, nil)
	adapter.On("Collect", mock.Anything, mock.MatchedBy(func(i *models.ServiceInstance) bool {
		return i.ID == "bad"
	})).Return(nil, errors.New("connection refused"))

	o := newTestOrchestrator(t, store)
	o.RegisterAdapter("http", adapter)

	snapshot, err := o.CollectAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snapshot.Succeeded)
	assert.Equal(t, 1, snapshot.Failed)
	assert.Contains(t, snapshot.Results, "good")
	assert.NotContains(t, snapshot.Results, "bad")
}

func TestCollectAllRecoversAdapterPanic(t *testing.T) {
	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		testInstance("panicky", "http"),
	}, nil)

	adapter := &MockAdapter{}
	adapter.On("Collect", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("adapter bug") }).
		Return(nil, nil)

	o := newTestOrchestrator(t, store)
	o.RegisterAdapter("http", adapter)

	snapshot, err := o.CollectAll(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snapshot.Succeeded)
	assert.Equal(t, 1, snapshot.Failed)
}

func TestCollectAllSkipsDisabledUnconfiguredAndUnregistered(t *testing.T) {
	disabled := testInstance("disabled", "http")
	disabled.Enabled = false

	unconfigured := testInstance("unconfigured", "http")
	unconfigured.URL = ""

	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		disabled,
		unconfigured,
		testInstance("no-adapter", "unknown-type"),
	}, nil)

	o := newTestOrchestrator(t, store)
	o.RegisterAdapter("http", &MockAdapter{})

	snapshot, err := o.CollectAll(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snapshot.Succeeded)
	assert.Zero(t, snapshot.Failed)
	assert.Empty(t, snapshot.Results)

	// Nothing eligible ran, so nothing was persisted.
	store.AssertNotCalled(t, "InsertMetrics", mock.Anything, mock.Anything)
}

func TestCollectAllRejectsConcurrentCycle(t *testing.T) {
	blocking := &blockingAdapter{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		testInstance("inst-1", "http"),
	}, nil)
	store.On("InsertMetrics", mock.Anything, mock.Anything).Return(nil)

	o := newTestOrchestrator(t, store)
	o.RegisterAdapter("http", blocking)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, err := o.CollectAll(context.Background())
		assert.NoError(t, err)
	}()

	<-blocking.started
	assert.True(t, o.IsCurrentlyCollecting())

	_, err := o.CollectAll(context.Background())
	assert.ErrorIs(t, err, ErrCollectionInProgress)

	close(blocking.release)
	wg.Wait()

	assert.False(t, o.IsCurrentlyCollecting())
}

func TestCollectAllReturnsSnapshotOnPersistFailure(t *testing.T) {
	persistErr := errors.New("disk full")

	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		testInstance("inst-1", "http"),
	}, nil)
	store.On("InsertMetrics", mock.Anything, mock.Anything).Return(persistErr)

	adapter := &MockAdapter{}
	adapter.On("Collect", mock.Anything, mock.Anything).Return(models.MetricPayload{"status": 1.0}, nil)

	o := newTestOrchestrator(t, store)
	o.RegisterAdapter("http", adapter)

	snapshot, err := o.CollectAll(context.Background())
	assert.ErrorIs(t, err, persistErr)
	require.NotNil(t, snapshot)
	assert.Equal(t, 1, snapshot.Succeeded)

	// The snapshot is still cached for readers even though the write failed.
	var cached models.Snapshot

	found, err := o.cache.Get(snapshotCacheKey(snapshot.Timestamp), &cached)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, snapshot.Succeeded, cached.Succeeded)
}

func TestCollectAllPublishesSnapshot(t *testing.T) {
	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		testInstance("inst-1", "http"),
	}, nil)
	store.On("InsertMetrics", mock.Anything, mock.Anything).Return(nil)

	adapter := &MockAdapter{}
	adapter.On("Collect", mock.Anything, mock.Anything).Return(models.MetricPayload{"status": 1.0}, nil)

	publisher := &MockPublisher{}
	publisher.On("PublishSnapshot", mock.Anything, mock.AnythingOfType("*models.Snapshot")).Return(nil)

	o := newTestOrchestrator(t, store, WithPublisher(publisher))
	o.RegisterAdapter("http", adapter)

	_, err := o.CollectAll(context.Background())
	require.NoError(t, err)

	publisher.AssertExpectations(t)
}

// MockPublisher is a mock implementation of SnapshotPublisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func TestConfiguredServiceTypes(t *testing.T) {
	disabled := testInstance("off", "sonarr")
	disabled.Enabled = false

	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		testInstance("a", "http"),
		testInstance("b", "grafana"),
		testInstance("c", "http"),
		disabled,
	}, nil)

	o := newTestOrchestrator(t, store)

	types, err := o.ConfiguredServiceTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"grafana", "http"}, types)
}

func TestCollectAllSharesOneSnapshotTimestamp(t *testing.T) {
	store := &MockStore{}
	store.On("GetAllServiceInstances", mock.Anything).Return([]models.ServiceInstance{
		testInstance("inst-1", "http"),
		testInstance("inst-2", "http"),
	}, nil)
	store.On("InsertMetrics", mock.Anything, mock.Anything).Return(nil)

	adapter := &MockAdapter{}
	adapter.On("Collect", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(5 * time.Millisecond) }).
		Return(models.MetricPayload{"status": 1.0}, nil)

	o := newTestOrchestrator(t, store)
	o.RegisterAdapter("http", adapter)

	before := time.Now().Unix()

	snapshot, err := o.CollectAll(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, snapshot.Timestamp, before)
	assert.LessOrEqual(t, snapshot.Timestamp, time.Now().Unix())
}
