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

package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPAdapter probes a service over plain HTTP and reports availability and
// response time. It is the fallback adapter for service types without a
// richer integration.
type HTTPAdapter struct {
	client *http.Client
	logger logger.Logger
}

// NewHTTPAdapter creates an availability adapter with its own client timeout.
func NewHTTPAdapter(log logger.Logger) *HTTPAdapter {
	return &HTTPAdapter{
		client: &http.Client{Timeout: defaultHTTPTimeout},
		logger: log,
	}
}

// Collect performs a single GET against the instance URL.
func (a *HTTPAdapter) Collect(ctx context.Context, instance *models.ServiceInstance) (models.MetricPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if instance.APIKey != "" {
		req.Header.Set("X-Api-Key", instance.APIKey)
	}

	if instance.Username != "" {
		req.SetBasicAuth(instance.Username, instance.Password)
	}

	start := time.Now()

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", instance.URL, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	elapsed := time.Since(start)

	payload := models.MetricPayload{
		"status":           1.0,
		"response_time_ms": float64(elapsed.Milliseconds()),
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s returned %d", errUnexpectedStatus, instance.URL, resp.StatusCode)
	}

	a.logger.Debug().
		Str("url", instance.URL).
		Int("status_code", resp.StatusCode).
		Int64("response_time_ms", elapsed.Milliseconds()).
		Msg("HTTP probe completed")

	return payload, nil
}
