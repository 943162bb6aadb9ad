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

// Package config loads service configuration from a JSON file, the
// environment or the kv store, selected by CONFIG_SOURCE.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
)

var (
	errKVStoreNotSet       = errors.New("KV store not initialized for CONFIG_SOURCE=kv; call SetKVStore first")
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
	errLoadConfigFailed    = errors.New("failed to load configuration")
)

const (
	configSourceKV   = "kv"
	configSourceFile = "file"
	configSourceEnv  = "env"

	// DefaultEnvPrefix prefixes every variable read by the env loader.
	DefaultEnvPrefix = "POSEDGE_"
)

// Config holds the configuration loading dependencies.
type Config struct {
	kvStore       kv.Store
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig returns a Config that reads files by default. A nil logger
// is replaced by a warn-level stderr logger.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.FromZerolog(zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger())
	}

	return &Config{
		defaultLoader: &FileConfigLoader{},
		logger:        log,
	}
}

// SetKVStore sets the store used when CONFIG_SOURCE=kv.
func (c *Config) SetKVStore(store kv.Store) {
	c.kvStore = store
}

// Source returns the normalized CONFIG_SOURCE value.
func Source() string {
	s := strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_SOURCE")))
	if s == "" {
		return configSourceFile
	}

	return s
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate loads cfg from the configured source and validates it.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	if err := c.load(ctx, path, cfg); err != nil {
		return err
	}

	return ValidateConfig(cfg)
}

func (c *Config) load(ctx context.Context, path string, cfg interface{}) error {
	source := Source()

	switch source {
	case configSourceFile:
		return c.defaultLoader.Load(ctx, path, cfg)
	case configSourceEnv:
		return NewEnvConfigLoader(c.logger, "").Load(ctx, path, cfg)
	case configSourceKV:
		return c.loadKV(ctx, path, cfg)
	default:
		return fmt.Errorf("%w: %s (expected '%s', '%s', or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceKV, configSourceEnv)
	}
}

// loadKV reads the file first and overlays the kv copy on top, so keys
// missing from the kv document keep their file values.
func (c *Config) loadKV(ctx context.Context, path string, cfg interface{}) error {
	if c.kvStore == nil {
		return errKVStoreNotSet
	}

	fileErr := c.defaultLoader.Load(ctx, path, cfg)

	kvErr := NewKVConfigLoader(c.kvStore).Load(ctx, path, cfg)
	if kvErr == nil {
		return nil
	}

	if fileErr != nil {
		return fmt.Errorf("%w from KV: %w, and from file: %w", errLoadConfigFailed, kvErr, fileErr)
	}

	c.logger.Warn().Err(kvErr).Str("path", path).Msg("KV config unavailable, using file config")

	return nil
}
