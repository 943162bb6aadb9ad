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

// Package registry serves the configured printers. Profiles come from a
// JSON file; last known online status is kept in the kv store so it
// survives restarts without rewriting operator configuration.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

const statusKeyPrefix = "device_status."

var (
	errInvalidDeviceID = errors.New("invalid device id")
	errDuplicateDevice = errors.New("duplicate device id")

	deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

type file struct {
	Devices []models.DeviceProfile `json:"devices"`
}

type status struct {
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
}

// FileRegistry is a device registry backed by a JSON file and a kv store.
type FileRegistry struct {
	path   string
	store  kv.Store
	logger logger.Logger

	mu      sync.RWMutex
	devices []models.DeviceProfile
	index   map[string]int
}

// Load reads the device file at path.
func Load(path string, store kv.Store, log logger.Logger) (*FileRegistry, error) {
	r := &FileRegistry{path: path, store: store, logger: log}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// New builds a registry from an in-memory device list.
func New(devices []models.DeviceProfile, store kv.Store, log logger.Logger) (*FileRegistry, error) {
	r := &FileRegistry{store: store, logger: log}

	if err := r.replace(devices); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload re-reads the device file.
func (r *FileRegistry) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read device file %s: %w", r.path, err)
	}

	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse device file %s: %w", r.path, err)
	}

	if err := r.replace(f.Devices); err != nil {
		return err
	}

	r.logger.Info().Str("path", r.path).Int("devices", len(f.Devices)).Msg("Loaded device registry")

	return nil
}

func (r *FileRegistry) replace(devices []models.DeviceProfile) error {
	index := make(map[string]int, len(devices))

	for i := range devices {
		d := &devices[i]

		if !deviceIDPattern.MatchString(d.ID) {
			return fmt.Errorf("%w: %q", errInvalidDeviceID, d.ID)
		}

		if _, dup := index[d.ID]; dup {
			return fmt.Errorf("%w: %s", errDuplicateDevice, d.ID)
		}

		if err := d.Endpoint.Validate(); err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}

		index[d.ID] = i
	}

	r.mu.Lock()
	r.devices = devices
	r.index = index
	r.mu.Unlock()

	return nil
}

// ListDevices returns every device with its persisted online status.
func (r *FileRegistry) ListDevices(ctx context.Context) ([]models.DeviceProfile, error) {
	r.mu.RLock()
	out := make([]models.DeviceProfile, len(r.devices))
	for i := range r.devices {
		out[i] = clone(&r.devices[i])
	}
	r.mu.RUnlock()

	for i := range out {
		if err := r.attachStatus(ctx, &out[i]); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// GetDevice returns one device, or models.ErrDeviceNotFound.
func (r *FileRegistry) GetDevice(ctx context.Context, id string) (*models.DeviceProfile, error) {
	r.mu.RLock()
	i, ok := r.index[id]

	var d models.DeviceProfile
	if ok {
		d = clone(&r.devices[i])
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrDeviceNotFound, id)
	}

	if err := r.attachStatus(ctx, &d); err != nil {
		return nil, err
	}

	return &d, nil
}

// UpdateDeviceOnlineStatus persists the last probe outcome for a device.
func (r *FileRegistry) UpdateDeviceOnlineStatus(ctx context.Context, id string, online bool, checkedAt time.Time) error {
	r.mu.RLock()
	_, ok := r.index[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", models.ErrDeviceNotFound, id)
	}

	return kv.PutJSON(ctx, r.store, statusKeyPrefix+id, status{Online: online, CheckedAt: checkedAt.UTC()})
}

func (r *FileRegistry) attachStatus(ctx context.Context, d *models.DeviceProfile) error {
	var s status

	found, err := kv.GetJSON(ctx, r.store, statusKeyPrefix+d.ID, &s)
	if err != nil {
		return fmt.Errorf("failed to read status of device %s: %w", d.ID, err)
	}

	if !found {
		return nil
	}

	online, at := s.Online, s.CheckedAt
	d.LastKnownOnline = &online
	d.LastCheckedAt = &at

	return nil
}

func clone(d *models.DeviceProfile) models.DeviceProfile {
	c := *d
	c.Roles = append([]string(nil), d.Roles...)
	c.LastKnownOnline = nil
	c.LastCheckedAt = nil

	return c
}
