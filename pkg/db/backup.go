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
	"time"

	"github.com/pulseboard/pulseboard/pkg/models"
)

// Backup exports settings, service instances, and UI preferences as one
// logical dump. Credential fields stay encrypted exactly as stored; metric
// samples are excluded since they are re-collectable.
func (db *DB) Backup(ctx context.Context) (*models.BackupDump, error) {
	dump := &models.BackupDump{
		Version:    models.BackupVersion,
		ExportedAt: time.Now(),
	}

	settings, err := db.allSettings(ctx)
	if err != nil {
		return nil, err
	}

	dump.Settings = settings

	// decrypt=false: the dump carries ciphertext, not plaintext.
	instances, err := db.queryInstances(ctx, false,
		"SELECT "+instanceColumns+" FROM service_instances ORDER BY id")
	if err != nil {
		return nil, err
	}

	dump.ServiceInstances = instances

	prefs, err := db.allUIPreferences(ctx)
	if err != nil {
		return nil, err
	}

	dump.UIPreferences = prefs

	return dump, nil
}

// Restore replaces the contents of each covered table with the dump's rows,
// all inside one transaction. Restoring a dump written before credentials
// were encrypted re-runs the encryption migration afterwards.
func (db *DB) Restore(ctx context.Context, dump *models.BackupDump) error {
	if dump == nil || dump.Version <= 0 || dump.Version > models.BackupVersion {
		return ErrUnsupportedBackupVersion
	}

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"settings", "service_instances", "ui_preferences"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil { //nolint:gosec // fixed table names
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for _, setting := range dump.Settings {
			if err := setSettingTx(ctx, tx, setting.Key, setting.Value, setting.Type); err != nil {
				return err
			}
		}

		for i := range dump.ServiceInstances {
			instance := &dump.ServiceInstances[i]

			_, err := tx.ExecContext(ctx, `
				INSERT INTO service_instances
					(id, service_type, name, url, api_key, username, password, config_json, enabled, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				instance.ID, instance.ServiceType, instance.Name, instance.URL,
				instance.APIKey, instance.Username, instance.Password, instance.ConfigJSON,
				boolToInt(instance.Enabled), instance.CreatedAt.Unix(), instance.UpdatedAt.Unix())
			if err != nil {
				return fmt.Errorf("%w: restore instance %s: %w", ErrFailedToInsert, instance.ID, err)
			}
		}

		for i := range dump.UIPreferences {
			pref := &dump.UIPreferences[i]

			_, err := tx.ExecContext(ctx, `
				INSERT INTO ui_preferences (user_id, page, preference_key, preference_value, updated_at)
				VALUES (?, ?, ?, ?, ?)`,
				pref.UserID, pref.Page, pref.Key, pref.Value, pref.UpdatedAt.Unix())
			if err != nil {
				return fmt.Errorf("%w: restore preference %s/%s: %w", ErrFailedToInsert, pref.Page, pref.Key, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	db.logger.Info().
		Int("settings", len(dump.Settings)).
		Int("instances", len(dump.ServiceInstances)).
		Int("preferences", len(dump.UIPreferences)).
		Msg("Restored logical backup")

	// Pre-encryption dumps carry plaintext credentials; bring them up to the
	// current format.
	if dump.Version < models.BackupVersion {
		return db.Transaction(ctx, func(tx *sql.Tx) error {
			return migrateEncryptCredentials(ctx, tx, db)
		})
	}

	return nil
}

func (db *DB) allSettings(ctx context.Context) ([]models.Setting, error) {
	rows, err := db.readDB.QueryContext(ctx,
		"SELECT key, value, type, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("%w: settings: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var settings []models.Setting

	for rows.Next() {
		var (
			setting   models.Setting
			updatedAt int64
		)

		if err := rows.Scan(&setting.Key, &setting.Value, &setting.Type, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		setting.UpdatedAt = time.Unix(updatedAt, 0)
		settings = append(settings, setting)
	}

	return settings, rows.Err()
}

func (db *DB) allUIPreferences(ctx context.Context) ([]models.UIPreference, error) {
	rows, err := db.readDB.QueryContext(ctx, `
		SELECT user_id, page, preference_key, preference_value, updated_at
		FROM ui_preferences ORDER BY user_id, page, preference_key`)
	if err != nil {
		return nil, fmt.Errorf("%w: ui preferences: %w", ErrFailedToQuery, err)
	}
	defer closeRows(rows, db.logger)

	var prefs []models.UIPreference

	for rows.Next() {
		var (
			pref      models.UIPreference
			updatedAt int64
		)

		if err := rows.Scan(&pref.UserID, &pref.Page, &pref.Key, &pref.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		pref.UpdatedAt = time.Unix(updatedAt, 0)
		prefs = append(prefs, pref)
	}

	return prefs, rows.Err()
}
