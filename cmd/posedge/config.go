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

package main

import (
	"errors"
	"fmt"

	"github.com/carverauto/posedge/pkg/api"
	"github.com/carverauto/posedge/pkg/cloudapi"
	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/health"
	"github.com/carverauto/posedge/pkg/heartbeat"
	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/orderstore"
	"github.com/carverauto/posedge/pkg/ordersync"
	"github.com/carverauto/posedge/pkg/printing"
	"github.com/carverauto/posedge/pkg/transport"
)

var errRegistryPathRequired = errors.New("registry_path is required")

// Config is the posedge service configuration.
type Config struct {
	Logging      *logger.Config          `json:"logging"`
	RegistryPath string                  `json:"registry_path"`
	API          api.Config              `json:"api"`
	KV           kv.Config               `json:"kv"`
	Events       *events.ForwarderConfig `json:"events,omitempty"`
	EventQueue   int                     `json:"event_queue"`
	Transport    transport.Config        `json:"transport"`
	Health       health.Config           `json:"health"`
	Cloud        cloudapi.Config         `json:"cloud"`
	Sync         ordersync.Config        `json:"sync"`
	Sweep        ordersync.SweepConfig   `json:"sweep"`
	Orders       orderstore.Config       `json:"orders"`
	Heartbeat    heartbeat.Config        `json:"heartbeat"`
	Printing     printing.Config         `json:"printing"`
}

// Validate checks required settings and fills defaults in every section.
func (c *Config) Validate() error {
	if c.RegistryPath == "" {
		return errRegistryPathRequired
	}

	if c.Logging == nil {
		c.Logging = &logger.Config{Level: "info", Output: "stdout"}
	}

	validators := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"api", &c.API},
		{"kv", &c.KV},
		{"transport", &c.Transport},
		{"health", &c.Health},
		{"sync", &c.Sync},
		{"sweep", &c.Sweep},
		{"heartbeat", &c.Heartbeat},
		{"printing", &c.Printing},
	}

	for _, s := range validators {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	return nil
}

// forwardEvents reports whether a NATS URL was configured for events.
func (c *Config) forwardEvents() bool {
	return c.Events != nil && c.Events.URL != ""
}
