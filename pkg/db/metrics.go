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

package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/pulseboard/pulseboard/pkg/models"
)

const (
	// latestMetricsWindow bounds how far back GetLatestMetrics looks. Staler
	// samples are history, not "latest".
	latestMetricsWindow = 24 * time.Hour

	hoursPerDay = 24
)

// InsertMetrics flattens a snapshot into metric rows inside one transaction.
// Nested maps become dotted metric names; non-numeric leaves are skipped.
// A snapshot with no numeric leaves is a warned no-op.
func (db *DB) InsertMetrics(ctx context.Context, snapshot *models.Snapshot) error {
	if snapshot == nil || len(snapshot.Results) == 0 {
		db.logger.Warn().Msg("Snapshot contains no results, nothing to insert")
		return nil
	}

	types, err := db.instanceServiceTypes(ctx)
	if err != nil {
		return err
	}

	var samples []models.MetricSample

	for instanceID, payload := range snapshot.Results {
		flat := flattenMetrics("", payload)

		names := make([]string, 0, len(flat))
		for name := range flat {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			samples = append(samples, models.MetricSample{
				InstanceID:  instanceID,
				ServiceType: types[instanceID],
				MetricName:  name,
				MetricValue: flat[name],
				Timestamp:   snapshot.Timestamp,
			})
		}
	}

	if len(samples) == 0 {
		db.logger.Warn().Int("instances", len(snapshot.Results)).
			Msg("Snapshot contained no numeric metrics, nothing to insert")
		return nil
	}

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO metrics (instance_id, service_type, metric_name, metric_value, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("%w: prepare: %w", ErrFailedToInsert, err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now().Unix()

		for _, s := range samples {
			if _, err := stmt.ExecContext(ctx,
				s.InstanceID, s.ServiceType, s.MetricName, s.MetricValue, s.Timestamp, now); err != nil {
				return fmt.Errorf("%w: %s/%s: %w", ErrFailedToInsert, s.InstanceID, s.MetricName, err)
			}
		}

		db.logger.Debug().Int("samples", len(samples)).Int64("timestamp", snapshot.Timestamp).
			Msg("Inserted metric samples")

		return nil
	})
}

// instanceServiceTypes maps instance IDs to their service type tag.
func (db *DB) instanceServiceTypes(ctx context.Context) (map[string]string, error) {
	rows, err := db.readDB.QueryContext(ctx, "SELECT id, service_type FROM service_instances")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	types := make(map[string]string)

	for rows.Next() {
		var id, serviceType string

		if err := rows.Scan(&id, &serviceType); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		types[id] = serviceType
	}

	return types, rows.Err()
}

// flattenMetrics walks a payload depth-first, producing dotted metric names
// for nested maps and keeping only numeric leaves.
func flattenMetrics(prefix string, payload map[string]interface{}) map[string]float64 {
	flat := make(map[string]float64)

	for key, value := range payload {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		switch v := value.(type) {
		case float64:
			flat[name] = v
		case float32:
			flat[name] = float64(v)
		case int:
			flat[name] = float64(v)
		case int32:
			flat[name] = float64(v)
		case int64:
			flat[name] = float64(v)
		case uint64:
			flat[name] = float64(v)
		case bool:
			if v {
				flat[name] = 1
			} else {
				flat[name] = 0
			}
		case map[string]interface{}:
			for nested, nestedValue := range flattenMetrics(name, v) {
				flat[nested] = nestedValue
			}
		default:
			// Strings and other non-numeric leaves carry no metric value.
		}
	}

	return flat
}

// GetLatestMetrics returns, for each (instance, metric) pair, only the most
// recent sample within the recent window, in a single ranked query. An empty
// instanceID means all instances.
func (db *DB) GetLatestMetrics(ctx context.Context, instanceID string) ([]models.MetricSample, error) {
	cutoff := time.Now().Add(-latestMetricsWindow).Unix()

	rows, err := db.readDB.QueryContext(ctx, `
		SELECT instance_id, service_type, metric_name, metric_value, timestamp
		FROM (
			SELECT instance_id, service_type, metric_name, metric_value, timestamp,
				ROW_NUMBER() OVER (
					PARTITION BY instance_id, metric_name
					ORDER BY timestamp DESC, id DESC
				) AS rn
			FROM metrics
			WHERE timestamp >= ? AND (? = '' OR instance_id = ?)
		)
		WHERE rn = 1
		ORDER BY instance_id, metric_name`,
		cutoff, instanceID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: latest metrics: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	return scanSamples(rows)
}

// GetMetricHistory returns the raw series for one metric over the trailing
// number of hours, oldest first.
func (db *DB) GetMetricHistory(ctx context.Context, instanceID, metricName string, hours int) ([]models.MetricSample, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()

	rows, err := db.readDB.QueryContext(ctx, `
		SELECT instance_id, service_type, metric_name, metric_value, timestamp
		FROM metrics
		WHERE instance_id = ? AND metric_name = ? AND timestamp >= ?
		ORDER BY timestamp ASC`,
		instanceID, metricName, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: metric history: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]models.MetricSample, error) {
	var samples []models.MetricSample

	for rows.Next() {
		var s models.MetricSample

		if err := rows.Scan(&s.InstanceID, &s.ServiceType, &s.MetricName, &s.MetricValue, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return samples, nil
}

// CleanupOldMetrics deletes samples older than the retention cutoff and
// returns the number removed.
func (db *DB) CleanupOldMetrics(ctx context.Context, daysToKeep int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(daysToKeep) * hoursPerDay * time.Hour).Unix()

	var removed int64

	err := db.Execute(ctx, func(conn *sql.DB) error {
		result, err := conn.ExecContext(ctx, "DELETE FROM metrics WHERE timestamp < ?", cutoff)
		if err != nil {
			return fmt.Errorf("delete old metrics: %w", err)
		}

		removed, err = result.RowsAffected()

		return err
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		db.logger.Info().Int64("removed", removed).Int("days_kept", daysToKeep).
			Msg("Purged metrics past retention")
	}

	return removed, nil
}

// PruneExpiredCacheRows removes expired rows from the persistent cache table.
func (db *DB) PruneExpiredCacheRows(ctx context.Context) (int64, error) {
	var removed int64

	err := db.Execute(ctx, func(conn *sql.DB) error {
		result, err := conn.ExecContext(ctx,
			"DELETE FROM cache WHERE expires_at IS NOT NULL AND expires_at < ?", time.Now().Unix())
		if err != nil {
			return err
		}

		removed, err = result.RowsAffected()

		return err
	})

	return removed, err
}
