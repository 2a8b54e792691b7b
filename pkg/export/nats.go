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

// Package export pushes finished snapshots to external sinks.
package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

const (
	defaultSubject = "pulseboard.metrics.snapshot"
	defaultStream  = "PULSEBOARD_METRICS"
)

// NATSPublisher publishes snapshots to a JetStream stream.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  logger.Logger
}

// NewNATSPublisher connects to NATS, ensures the target stream exists, and
// returns a publisher. Close releases the connection.
func NewNATSPublisher(ctx context.Context, cfg *models.PublisherConfig, log logger.Logger) (*NATSPublisher, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}

	stream := cfg.Stream
	if stream == "" {
		stream = defaultStream
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("NATS async error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.Stream(ctx, stream); err != nil {
		streamConfig := jetstream.StreamConfig{
			Name:     stream,
			Subjects: []string{subject},
		}

		if _, err := js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create or get stream %s: %w", stream, err)
		}
	}

	return &NATSPublisher{
		conn:    nc,
		js:      js,
		subject: subject,
		logger:  log,
	}, nil
}

// PublishSnapshot serializes the snapshot and publishes it to the stream.
func (p *NATSPublisher) PublishSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ack, err := p.js.Publish(ctx, p.subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	p.logger.Debug().
		Str("subject", p.subject).
		Uint64("sequence", ack.Sequence).
		Int64("snapshot_ts", snapshot.Timestamp).
		Msg("Published snapshot")

	return nil
}

// Close drains the NATS connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}
