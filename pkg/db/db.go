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

// Package db owns the embedded SQLite store: connection management, schema
// migration, and the typed read/write API used by the rest of the engine.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pulseboard/pulseboard/pkg/crypto/secrets"
	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

const (
	defaultReadPoolSize       = 4
	defaultCheckpointInterval = 5 * time.Minute
	defaultBusyTimeoutMs      = 5000
	writeQueueCapacity        = 256

	dbFileMode = 0o600
)

// DB implements Service on top of a single SQLite file opened in WAL mode.
// Writes are funneled through a FIFO task queue drained by one goroutine, so
// writers never interleave; reads go to a small read-only pool that WAL mode
// serves concurrently.
type DB struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string

	cipher *secrets.Cipher
	logger logger.Logger

	tasks     chan *writeTask
	drainDone chan struct{}
	closeOnce sync.Once
	closeMu   sync.RWMutex
	isClosed  bool

	checkpointInterval time.Duration
	cancelMaintenance  context.CancelFunc
}

// writeTask is one queued unit of write work.
type writeTask struct {
	fn   func(conn *sql.DB) error
	done chan error
}

// enginePragmas travel in the DSN so that every connection in a pool gets
// them; pragmas applied via Exec only reach the one connection that ran them.
var enginePragmas = fmt.Sprintf(
	"_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d&_synchronous=NORMAL&_cache_size=-8192",
	defaultBusyTimeoutMs)

// New opens the store, applies engine pragmas, runs schema migrations, and
// starts the write drain loop plus the periodic checkpoint routine.
func New(ctx context.Context, config *models.DBConfig, cipher *secrets.Cipher, log logger.Logger) (Service, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("%w: no database path configured", ErrFailedOpenDB)
	}

	if dir := filepath.Dir(config.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", ErrFailedOpenDB, err)
		}
	}

	writeDB, err := openHandle(config.Path)
	if err != nil {
		return nil, err
	}

	// One writer at a time is the WAL contract; the task queue below is the
	// ordering discipline on top of it.
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	// No DSN parameter exists for temp_store; with a single write connection
	// an Exec reaches it reliably.
	if _, err := writeDB.Exec("PRAGMA temp_store=MEMORY"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("%w: temp_store: %w", ErrFailedOpenDB, err)
	}

	readPool := config.ReadPoolSize
	if readPool <= 0 {
		readPool = defaultReadPoolSize
	}

	readDB, err := openHandle(config.Path)
	if err != nil {
		_ = writeDB.Close()
		return nil, err
	}

	readDB.SetMaxOpenConns(readPool)
	readDB.SetMaxIdleConns(readPool)

	if err := restrictFileMode(config.Path); err != nil {
		log.Warn().Err(err).Str("path", config.Path).Msg("Could not restrict database file permissions")
	}

	checkpointInterval := time.Duration(config.CheckpointInterval)
	if checkpointInterval <= 0 {
		checkpointInterval = defaultCheckpointInterval
	}

	maintenanceCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	database := &DB{
		writeDB:            writeDB,
		readDB:             readDB,
		path:               config.Path,
		cipher:             cipher,
		logger:             log,
		tasks:              make(chan *writeTask, writeQueueCapacity),
		drainDone:          make(chan struct{}),
		checkpointInterval: checkpointInterval,
		cancelMaintenance:  cancel,
	}

	go database.drainLoop()
	go database.maintenanceLoop(maintenanceCtx)

	if err := database.runMigrations(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}

	return database, nil
}

func openHandle(path string) (*sql.DB, error) {
	handle, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, enginePragmas))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	return handle, nil
}

// restrictFileMode narrows the database file and its WAL sidecars to 0600.
func restrictFileMode(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}

		if err := os.Chmod(p, dbFileMode); err != nil {
			return err
		}
	}

	return nil
}

// drainLoop executes queued write tasks in FIFO order. A failing task is
// reported to its submitter and logged; it never stops the loop.
func (db *DB) drainLoop() {
	defer close(db.drainDone)

	for task := range db.tasks {
		err := db.runTask(task)
		if err != nil {
			db.logger.Error().Err(err).Msg("Write task failed")
		}

		task.done <- err
	}
}

func (db *DB) runTask(task *writeTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write task panic: %v", r)
		}
	}()

	return task.fn(db.writeDB)
}

// Execute runs fn on the write handle, serialized behind all previously
// queued writes.
func (db *DB) Execute(ctx context.Context, fn func(conn *sql.DB) error) error {
	task := &writeTask{fn: fn, done: make(chan error, 1)}

	db.closeMu.RLock()

	if db.isClosed {
		db.closeMu.RUnlock()
		return ErrDatabaseClosed
	}

	db.tasks <- task
	db.closeMu.RUnlock()

	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		// The task still runs to completion on the drain loop; only the
		// caller stops waiting.
		return ctx.Err()
	}
}

// Transaction runs fn inside a single transaction on the write handle.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.Execute(ctx, func(conn *sql.DB) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.logger.Error().Err(rbErr).Msg("Rollback failed")
			}

			return err
		}

		return tx.Commit()
	})
}

// maintenanceLoop merges the WAL into the main file on a fixed cadence.
func (db *DB) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(db.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.Checkpoint(ctx); err != nil {
				db.logger.Warn().Err(err).Msg("Periodic WAL checkpoint failed")
			}
		}
	}
}

// Checkpoint forces a WAL checkpoint, truncating the log on success.
func (db *DB) Checkpoint(ctx context.Context) error {
	return db.Execute(ctx, func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		return err
	})
}

// Optimize runs the engine's optimize pass. It is skipped while write tasks
// are pending since it competes with them for the single writer.
func (db *DB) Optimize(ctx context.Context) error {
	if len(db.tasks) > 0 {
		db.logger.Debug().Int("queued_tasks", len(db.tasks)).Msg("Skipping optimize while write queue is busy")
		return nil
	}

	return db.Execute(ctx, func(conn *sql.DB) error {
		if _, err := conn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			return err
		}

		_, err := conn.ExecContext(ctx, "VACUUM")

		return err
	})
}

// GetStats reports per-table row counts and the on-disk footprint.
func (db *DB) GetStats(ctx context.Context) (*models.DBStats, error) {
	stats := &models.DBStats{CollectedAt: time.Now()}

	counts := []struct {
		table string
		dest  *int64
	}{
		{"settings", &stats.Settings},
		{"service_instances", &stats.ServiceInstances},
		{"metrics", &stats.Metrics},
		{"ui_preferences", &stats.UIPreferences},
		{"cache", &stats.CacheRows},
	}

	for _, c := range counts {
		row := db.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table) //nolint:gosec // table names are fixed
		if err := row.Scan(c.dest); err != nil {
			return nil, fmt.Errorf("%w: count %s: %w", ErrFailedToQuery, c.table, err)
		}
	}

	for _, p := range []string{db.path, db.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			stats.DiskSizeBytes += info.Size()
		}
	}

	return stats, nil
}

// Close stops the maintenance and drain loops and closes both handles.
// Queued tasks are drained before the write handle closes.
func (db *DB) Close() error {
	var errs []error

	db.closeOnce.Do(func() {
		db.cancelMaintenance()

		db.closeMu.Lock()
		db.isClosed = true
		db.closeMu.Unlock()

		close(db.tasks)
		<-db.drainDone

		if err := db.writeDB.Close(); err != nil {
			errs = append(errs, err)
		}

		if err := db.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("close database: %v", errs)
	}

	return nil
}
