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

	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

// GetSetting returns the setting stored under key, or ErrSettingNotFound.
func (db *DB) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	row := db.readDB.QueryRowContext(ctx,
		"SELECT key, value, type, updated_at FROM settings WHERE key = ?", key)

	var (
		setting   models.Setting
		updatedAt int64
	)

	err := row.Scan(&setting.Key, &setting.Value, &setting.Type, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
	}

	setting.UpdatedAt = time.Unix(updatedAt, 0)

	return &setting, nil
}

// SetSetting upserts a typed setting. Last writer wins.
func (db *DB) SetSetting(ctx context.Context, key, value string, settingType models.SettingType) error {
	return db.Execute(ctx, func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO settings (key, value, type, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				type = excluded.type,
				updated_at = excluded.updated_at`,
			key, value, string(settingType), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("%w: setting %s: %w", ErrFailedToInsert, key, err)
		}

		return nil
	})
}

// setSettingTx is SetSetting inside an existing transaction, used by the
// migrator to advance db_version atomically with the step.
func setSettingTx(ctx context.Context, tx *sql.Tx, key, value string, settingType models.SettingType) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO settings (key, value, type, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			type = excluded.type,
			updated_at = excluded.updated_at`,
		key, value, string(settingType), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: setting %s: %w", ErrFailedToInsert, key, err)
	}

	return nil
}

// closeRows closes a Rows handle and logs any error.
func closeRows(rows *sql.Rows, log logger.Logger) {
	if err := rows.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close rows")
	}
}
