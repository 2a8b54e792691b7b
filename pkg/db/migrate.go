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
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pulseboard/pulseboard/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	schemaFile = "migrations/schema.sql"

	// versionKey is the settings row tracking the applied schema version.
	versionKey = "db_version"
)

// migration is one versioned, transactional schema step. Steps must
// self-check so that re-running an applied version is harmless.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx, database *DB) error
}

var migrationSteps = []migration{
	{1, "encrypt stored credentials", migrateEncryptCredentials},
	{2, "backfill metric service types", migrateBackfillServiceTypes},
}

// runMigrations applies the base schema, then every pending versioned step in
// strictly increasing order. A full logical backup is captured first; a
// failing step rolls back its savepoint, attempts a restore from that backup,
// and the original error is returned. Migration failure is fatal to startup.
func (db *DB) runMigrations(ctx context.Context) error {
	if err := db.applyBaseSchema(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	current, err := db.schemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: read schema version: %w", ErrMigrationFailed, err)
	}

	var pending []migration

	for _, step := range migrationSteps {
		if step.version > current {
			pending = append(pending, step)
		}
	}

	if len(pending) == 0 {
		db.logger.Debug().Int("version", current).Msg("Schema up to date")
		return nil
	}

	db.logger.Info().
		Int("current_version", current).
		Int("pending", len(pending)).
		Msg("Applying schema migrations")

	backup, err := db.Backup(ctx)
	if err != nil {
		return fmt.Errorf("%w: pre-migration backup: %w", ErrMigrationFailed, err)
	}

	for _, step := range pending {
		if err := db.applyMigration(ctx, step); err != nil {
			db.logger.Error().Err(err).
				Int("version", step.version).
				Str("migration", step.name).
				Msg("Migration failed, restoring pre-migration backup")

			if restoreErr := db.Restore(ctx, backup); restoreErr != nil {
				db.logger.Error().Err(restoreErr).Msg("Restore from pre-migration backup failed")
			}

			return fmt.Errorf("%w: v%d %s: %w", ErrMigrationFailed, step.version, step.name, err)
		}

		db.logger.Info().Int("version", step.version).Str("migration", step.name).Msg("Migration applied")
	}

	return nil
}

func (db *DB) applyBaseSchema(ctx context.Context) error {
	content, err := migrationsFS.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}

	statements := splitSQLStatements(string(content))

	return db.Execute(ctx, func(conn *sql.DB) error {
		for i, stmt := range statements {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i+1, err)
			}
		}

		return nil
	})
}

// applyMigration runs one step inside a named savepoint. Success releases the
// savepoint and advances db_version in the same transaction; failure rolls
// back to the savepoint so the step is all-or-nothing.
func (db *DB) applyMigration(ctx context.Context, step migration) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		savepoint := fmt.Sprintf("migration_v%d", step.version)

		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("create savepoint: %w", err)
		}

		if err := step.apply(ctx, tx, db); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				db.logger.Error().Err(rbErr).Str("savepoint", savepoint).Msg("Savepoint rollback failed")
			}

			return err
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}

		return setSettingTx(ctx, tx, versionKey, strconv.Itoa(step.version), models.SettingTypeNumber)
	})
}

func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	setting, err := db.GetSetting(ctx, versionKey)
	if errors.Is(err, ErrSettingNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	version, err := strconv.Atoi(setting.Value)
	if err != nil {
		return 0, fmt.Errorf("malformed %s value %q: %w", versionKey, setting.Value, err)
	}

	return version, nil
}

// migrateEncryptCredentials encrypts any credential field stored in
// plaintext. Safe to re-run: already-tagged values are left alone.
func migrateEncryptCredentials(ctx context.Context, tx *sql.Tx, database *DB) error {
	rows, err := tx.QueryContext(ctx, "SELECT id, api_key, username, password FROM service_instances")
	if err != nil {
		return fmt.Errorf("scan credentials: %w", err)
	}
	defer closeRows(rows, database.logger)

	type pendingUpdate struct {
		id                         string
		apiKey, username, password string
	}

	var updates []pendingUpdate

	for rows.Next() {
		var u pendingUpdate

		if err := rows.Scan(&u.id, &u.apiKey, &u.username, &u.password); err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		updates = append(updates, u)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range updates {
		changed := false

		for _, field := range []*string{&u.apiKey, &u.username, &u.password} {
			if *field == "" || database.cipher.IsEncrypted(*field) {
				continue
			}

			encrypted, err := database.cipher.Encrypt(*field)
			if err != nil {
				return fmt.Errorf("encrypt credential for instance %s: %w", u.id, err)
			}

			*field = encrypted
			changed = true
		}

		if !changed {
			continue
		}

		_, err := tx.ExecContext(ctx,
			"UPDATE service_instances SET api_key = ?, username = ?, password = ? WHERE id = ?",
			u.apiKey, u.username, u.password, u.id)
		if err != nil {
			return fmt.Errorf("update instance %s: %w", u.id, err)
		}
	}

	return nil
}

// migrateBackfillServiceTypes stamps the owning instance's service type onto
// metric rows written before the column existed. Rows whose instance is gone
// keep the empty tag.
func migrateBackfillServiceTypes(ctx context.Context, tx *sql.Tx, _ *DB) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE metrics
		SET service_type = COALESCE(
			(SELECT si.service_type FROM service_instances si WHERE si.id = metrics.instance_id),
			'')
		WHERE service_type = ''`)

	return err
}

// splitSQLStatements splits schema SQL on statement-terminating semicolons,
// dropping comments and blank lines.
func splitSQLStatements(content string) []string {
	var statements []string

	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n")
		}

		current.WriteString(line)

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
			if stmt != "" {
				statements = append(statements, stmt)
			}

			current.Reset()
		}
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, strings.TrimSuffix(stmt, ";"))
	}

	return statements
}
