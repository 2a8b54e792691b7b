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

package db

import (
	"context"

	"github.com/pulseboard/pulseboard/pkg/models"
)

//go:generate mockgen -destination=mock_db.go -package=db github.com/pulseboard/pulseboard/pkg/db Service

// Service represents all storage operations for the metrics engine.
type Service interface {
	Close() error

	// Setting operations.

	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	SetSetting(ctx context.Context, key, value string, settingType models.SettingType) error

	// Service instance operations. Credential fields are encrypted before
	// write and decrypted on read.

	SaveServiceInstance(ctx context.Context, instance *models.ServiceInstance) error
	GetServiceInstance(ctx context.Context, id string) (*models.ServiceInstance, error)
	GetAllServiceInstances(ctx context.Context) ([]models.ServiceInstance, error)
	GetServiceInstancesByType(ctx context.Context, serviceType string) ([]models.ServiceInstance, error)

	// Metric operations.

	InsertMetrics(ctx context.Context, snapshot *models.Snapshot) error
	GetLatestMetrics(ctx context.Context, instanceID string) ([]models.MetricSample, error)
	GetMetricHistory(ctx context.Context, instanceID, metricName string, hours int) ([]models.MetricSample, error)
	CleanupOldMetrics(ctx context.Context, daysToKeep int) (int64, error)
	PruneExpiredCacheRows(ctx context.Context) (int64, error)

	// UI preference operations.

	GetUIPreferences(ctx context.Context, userID, page string) ([]models.UIPreference, error)
	SetUIPreference(ctx context.Context, pref *models.UIPreference) error

	// Maintenance operations.

	GetStats(ctx context.Context) (*models.DBStats, error)
	Checkpoint(ctx context.Context) error
	Optimize(ctx context.Context) error
	Backup(ctx context.Context) (*models.BackupDump, error)
	Restore(ctx context.Context, dump *models.BackupDump) error
}
