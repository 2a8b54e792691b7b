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

package models

import "time"

// MetricPayload is the shape-shifting metrics object an adapter returns for
// one instance. Nested maps are flattened to dotted metric names before
// persistence; non-numeric leaves are dropped at that point.
type MetricPayload map[string]interface{}

// MetricSample is one flattened (instance, metric, value, time) fact.
// Samples are append-only: inserted once, later purged by retention.
type MetricSample struct {
	InstanceID  string  `json:"instance_id"`
	ServiceType string  `json:"service_type"`
	MetricName  string  `json:"metric_name"`
	MetricValue float64 `json:"metric_value"`
	Timestamp   int64   `json:"timestamp"`
}

// Snapshot is the aggregate result of one collection cycle. All samples in a
// snapshot share Timestamp, assigned at snapshot creation rather than at
// per-adapter completion.
type Snapshot struct {
	Timestamp  int64                    `json:"timestamp"`
	DurationMs int64                    `json:"collection_duration_ms"`
	Results    map[string]MetricPayload `json:"results"`
	Succeeded  int                      `json:"succeeded"`
	Failed     int                      `json:"failed"`
}

// DBStats reports per-table row counts plus the on-disk size of the store.
type DBStats struct {
	Settings         int64     `json:"settings"`
	ServiceInstances int64     `json:"service_instances"`
	Metrics          int64     `json:"metrics"`
	UIPreferences    int64     `json:"ui_preferences"`
	CacheRows        int64     `json:"cache_rows"`
	DiskSizeBytes    int64     `json:"disk_size_bytes"`
	CollectedAt      time.Time `json:"collected_at"`
}
