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

import (
	"errors"
	"time"
)

var (
	errDBPathRequired   = errors.New("db_path is required")
	errIntervalTooSmall = errors.New("collection_interval must be at least 5 seconds")
)

// SecretsConfig controls credential encryption key material.
// Precedence: Key, then AppSecret (derived), then a generated key persisted
// to KeyFile.
type SecretsConfig struct {
	Key       string `json:"key,omitempty"`
	AppSecret string `json:"app_secret,omitempty"`
	KeyFile   string `json:"key_file,omitempty"`
}

// CacheConfig bounds the in-memory metrics cache.
type CacheConfig struct {
	MaxSizeBytes int64    `json:"max_size_bytes,omitempty"`
	MaxAge       Duration `json:"max_age,omitempty"`
}

// PublisherConfig configures the optional snapshot push sink.
type PublisherConfig struct {
	NATSURL string `json:"nats_url,omitempty"`
	Subject string `json:"subject,omitempty"`
	Stream  string `json:"stream,omitempty"`
}

// DBConfig configures the embedded store.
type DBConfig struct {
	Path               string   `json:"path"`
	ReadPoolSize       int      `json:"read_pool_size,omitempty"`
	CheckpointInterval Duration `json:"checkpoint_interval,omitempty"`
}

// CoreConfig is the engine configuration loaded at startup.
type CoreConfig struct {
	DBPath             string           `json:"db_path"`
	CollectionInterval Duration         `json:"collection_interval"`
	RetentionDays      int              `json:"retention_days,omitempty"`
	ReadPoolSize       int              `json:"read_pool_size,omitempty"`
	Cache              CacheConfig      `json:"cache,omitempty"`
	Secrets            SecretsConfig    `json:"secrets,omitempty"`
	Publisher          *PublisherConfig `json:"publisher,omitempty"`
	Logging            *LogConfig       `json:"logging,omitempty"`
}

// LogConfig mirrors pkg/logger.Config without importing it, keeping models
// dependency-free.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Debug  bool   `json:"debug,omitempty"`
	Output string `json:"output,omitempty"`
}

const minCollectionIntervalSeconds = 5

// Validate implements config.Validator.
func (c *CoreConfig) Validate() error {
	if c.DBPath == "" {
		return errDBPathRequired
	}

	if c.CollectionInterval != 0 && c.CollectionInterval < Duration(minCollectionIntervalSeconds*time.Second) {
		return errIntervalTooSmall
	}

	return nil
}
