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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulseboard/pulseboard/pkg/models"
)

const instanceColumns = `id, service_type, name, url, api_key, username, password,
	config_json, enabled, created_at, updated_at`

// SaveServiceInstance upserts a service instance, encrypting credential
// fields before they touch disk. A missing ID gets a generated one.
func (db *DB) SaveServiceInstance(ctx context.Context, instance *models.ServiceInstance) error {
	if instance.ID == "" {
		instance.ID = uuid.New().String()
	}

	apiKey, err := db.cipher.Encrypt(instance.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}

	username, err := db.cipher.Encrypt(instance.Username)
	if err != nil {
		return fmt.Errorf("encrypt username: %w", err)
	}

	password, err := db.cipher.Encrypt(instance.Password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}

	now := time.Now()

	return db.Execute(ctx, func(conn *sql.DB) error {
		var exists bool

		row := conn.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM service_instances WHERE id = ?)", instance.ID)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToQuery, err)
		}

		_, err := conn.ExecContext(ctx, `
			INSERT INTO service_instances
				(id, service_type, name, url, api_key, username, password, config_json, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				service_type = excluded.service_type,
				name = excluded.name,
				url = excluded.url,
				api_key = excluded.api_key,
				username = excluded.username,
				password = excluded.password,
				config_json = excluded.config_json,
				enabled = excluded.enabled,
				updated_at = excluded.updated_at`,
			instance.ID, instance.ServiceType, instance.Name, instance.URL,
			apiKey, username, password, instance.ConfigJSON,
			boolToInt(instance.Enabled), now.Unix(), now.Unix())
		if err != nil {
			return fmt.Errorf("%w: instance %s: %w", ErrFailedToInsert, instance.ID, err)
		}

		if exists {
			db.logger.Info().Str("instance_id", instance.ID).Str("name", instance.Name).
				Msg("Updated service instance")
		} else {
			db.logger.Info().Str("instance_id", instance.ID).Str("name", instance.Name).
				Str("service_type", instance.ServiceType).Msg("Created service instance")
		}

		return nil
	})
}

// GetServiceInstance returns one instance by ID with credentials decrypted.
func (db *DB) GetServiceInstance(ctx context.Context, id string) (*models.ServiceInstance, error) {
	row := db.readDB.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM service_instances WHERE id = ?", id)

	instance, err := db.scanInstance(row.Scan, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return instance, nil
}

// GetAllServiceInstances returns every instance with credentials decrypted.
func (db *DB) GetAllServiceInstances(ctx context.Context) ([]models.ServiceInstance, error) {
	return db.queryInstances(ctx, true,
		"SELECT "+instanceColumns+" FROM service_instances ORDER BY name")
}

// GetServiceInstancesByType returns instances of one service type with
// credentials decrypted.
func (db *DB) GetServiceInstancesByType(ctx context.Context, serviceType string) ([]models.ServiceInstance, error) {
	return db.queryInstances(ctx, true,
		"SELECT "+instanceColumns+" FROM service_instances WHERE service_type = ? ORDER BY name", serviceType)
}

// queryInstances runs an instance query, optionally decrypting credential
// fields. Backup uses decrypt=false to export ciphertext as stored.
func (db *DB) queryInstances(ctx context.Context, decrypt bool, query string, args ...interface{}) ([]models.ServiceInstance, error) {
	rows, err := db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var instances []models.ServiceInstance

	for rows.Next() {
		instance, err := db.scanInstance(rows.Scan, decrypt)
		if err != nil {
			return nil, err
		}

		instances = append(instances, *instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return instances, nil
}

func (db *DB) scanInstance(scan func(...interface{}) error, decrypt bool) (*models.ServiceInstance, error) {
	var (
		instance             models.ServiceInstance
		enabled              int
		createdAt, updatedAt int64
	)

	err := scan(&instance.ID, &instance.ServiceType, &instance.Name, &instance.URL,
		&instance.APIKey, &instance.Username, &instance.Password,
		&instance.ConfigJSON, &enabled, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
	}

	instance.Enabled = enabled != 0
	instance.CreatedAt = time.Unix(createdAt, 0)
	instance.UpdatedAt = time.Unix(updatedAt, 0)

	if decrypt {
		instance.APIKey = db.cipher.Decrypt(instance.APIKey)
		instance.Username = db.cipher.Decrypt(instance.Username)
		instance.Password = db.cipher.Decrypt(instance.Password)
	}

	return &instance, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
