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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulseboard/pulseboard/pkg/cache"
	"github.com/pulseboard/pulseboard/pkg/collector"
	"github.com/pulseboard/pulseboard/pkg/config"
	"github.com/pulseboard/pulseboard/pkg/crypto/secrets"
	"github.com/pulseboard/pulseboard/pkg/db"
	"github.com/pulseboard/pulseboard/pkg/export"
	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
	"github.com/pulseboard/pulseboard/pkg/scheduler"
)

const (
	defaultCollectionInterval = 30 * time.Second
	defaultRetentionDays      = 30
)

func main() {
	configPath := flag.String("config", "/etc/pulseboard/core.json", "Path to core config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pulseboardd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg models.CoreConfig

	cfgLoader := config.NewConfig()
	if err := cfgLoader.LoadAndValidate(ctx, configPath, &cfg); err != nil {
		return err
	}

	logCfg := logger.DefaultConfig()
	if cfg.Logging != nil {
		logCfg.Level = cfg.Logging.Level
		logCfg.Debug = cfg.Logging.Debug

		if cfg.Logging.Output != "" {
			logCfg.Output = cfg.Logging.Output
		}
	}

	log, err := logger.NewComponent("core", logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cipher, err := secrets.NewCipherFromConfig(&cfg.Secrets, log)
	if err != nil {
		return fmt.Errorf("failed to initialize credential cipher: %w", err)
	}

	database, err := db.New(ctx, &models.DBConfig{
		Path:         cfg.DBPath,
		ReadPoolSize: cfg.ReadPoolSize,
	}, cipher, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	metricsCache := cache.New(cache.Config{
		MaxSizeBytes: cfg.Cache.MaxSizeBytes,
		MaxAge:       time.Duration(cfg.Cache.MaxAge),
	}, log)
	defer metricsCache.Stop()

	var opts []collector.Option

	var publisher *export.NATSPublisher

	if cfg.Publisher != nil && cfg.Publisher.NATSURL != "" {
		publisher, err = export.NewNATSPublisher(ctx, cfg.Publisher, log)
		if err != nil {
			return fmt.Errorf("failed to initialize snapshot publisher: %w", err)
		}

		defer publisher.Close()

		opts = append(opts, collector.WithPublisher(publisher))
	}

	orchestrator := collector.New(database, metricsCache, log, opts...)
	orchestrator.RegisterAdapter("http", collector.NewHTTPAdapter(log))

	interval := time.Duration(cfg.CollectionInterval)
	if interval == 0 {
		interval = defaultCollectionInterval
	}

	retentionDays := cfg.RetentionDays
	if retentionDays == 0 {
		retentionDays = defaultRetentionDays
	}

	sched := scheduler.New(orchestrator, database, retentionDays, log)
	if err := sched.Start(ctx, interval); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	log.Info().
		Str("db_path", cfg.DBPath).
		Dur("interval", interval).
		Int("retention_days", retentionDays).
		Msg("Pulseboard core started")

	<-ctx.Done()

	log.Info().Msg("Shutdown signal received")
	sched.Stop()

	return nil
}
