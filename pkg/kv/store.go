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

// Package kv is the key-value store behind persisted settings, the sync
// watermark, the installation id and the local order cache.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownBackend = errors.New("unknown kv backend")
	errURLRequired    = errors.New("nats url is required")
)

// Store is a flat key-value store. Keys use the characters
// [-/_=.a-zA-Z0-9] so that every backend accepts them.
type Store interface {
	// Get returns the value for key and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key; a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// GetJSON decodes the value at key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return found, err
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("failed to decode key %s: %w", key, err)
	}

	return true, nil
}

// PutJSON stores v encoded as JSON at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key, err)
	}

	return s.Put(ctx, key, raw)
}

const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Config selects and configures a backend.
type Config struct {
	Backend string `json:"backend"`
	URL     string `json:"url"`
	Bucket  string `json:"bucket"`
}

// Validate defaults the backend to memory and checks NATS settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendMemory:
		c.Backend = BackendMemory
	case BackendNATS:
		if c.URL == "" {
			return errURLRequired
		}

		if c.Bucket == "" {
			c.Bucket = defaultBucket
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	return nil
}

// Open returns the configured backend.
func Open(ctx context.Context, cfg *Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendNATS:
		return NewNatsStore(ctx, cfg.URL, cfg.Bucket)
	default:
		return NewMemoryStore(), nil
	}
}
