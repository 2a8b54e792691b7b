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

// GetUIPreferences returns the stored preferences for a user and page.
// An empty page returns all of the user's preferences.
func (db *DB) GetUIPreferences(ctx context.Context, userID, page string) ([]models.UIPreference, error) {
	rows, err := db.readDB.QueryContext(ctx, `
		SELECT user_id, page, preference_key, preference_value, updated_at
		FROM ui_preferences
		WHERE user_id = ? AND (? = '' OR page = ?)
		ORDER BY page, preference_key`,
		userID, page, page)
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

// SetUIPreference upserts one preference entry.
func (db *DB) SetUIPreference(ctx context.Context, pref *models.UIPreference) error {
	return db.Execute(ctx, func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO ui_preferences (user_id, page, preference_key, preference_value, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, page, preference_key) DO UPDATE SET
				preference_value = excluded.preference_value,
				updated_at = excluded.updated_at`,
			pref.UserID, pref.Page, pref.Key, pref.Value, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("%w: preference %s/%s: %w", ErrFailedToInsert, pref.Page, pref.Key, err)
		}

		return nil
	})
}
