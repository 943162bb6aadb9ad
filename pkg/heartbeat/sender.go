/*
 * Copyright 2025 Carver Automation Corporation.
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

package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

const (
	heartbeatPath  = "/heartbeat"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 1024
)

// HTTPSender posts heartbeats through a circuit breaker. It never retries.
type HTTPSender struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *CircuitBreaker
}

// NewHTTPSender returns ErrNotConfigured when endpoint or apiKey is empty.
func NewHTTPSender(endpoint, apiKey string, timeout time.Duration, breaker *CircuitBreaker, log logger.Logger) (*HTTPSender, error) {
	if strings.TrimSpace(endpoint) == "" || strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid endpoint %q", ErrNotConfigured, endpoint)
	}

	u.Path = path.Join(u.Path, heartbeatPath)

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultBreakerConfig(), log)
	}

	return &HTTPSender{
		endpoint: u.String(),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
	}, nil
}

// Send posts p. Only a 2xx response counts as success.
func (s *HTTPSender) Send(ctx context.Context, p *models.HeartbeatPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create heartbeat request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("heartbeat request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return fmt.Errorf("%w %d: %s", errUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
		}

		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	})
}
