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

// Package health polls every registered printer and reports online/offline
// transitions.
//
// A single failed probe marks a device Offline and a single successful one
// marks it Online; there is no debounce. Probes run concurrently and are
// joined before any state is aggregated, so a check's summary always covers
// every device in the registry snapshot.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
	"github.com/carverauto/posedge/pkg/scheduler"
)

const (
	eventSource = "health"

	defaultInterval     = 30 * time.Second
	defaultProbeTimeout = 3 * time.Second
	defaultConcurrency  = 32
)

type Config struct {
	Interval     models.Duration `json:"interval"`
	ProbeTimeout models.Duration `json:"probe_timeout"`
	Concurrency  int             `json:"concurrency"`
}

// Validate fills unset fields with defaults.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		c.Interval = models.Duration(defaultInterval)
	}

	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = models.Duration(defaultProbeTimeout)
	}

	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}

	return nil
}

// Result is the outcome of checking one device.
type Result struct {
	DeviceID string             `json:"device_id"`
	Previous models.OnlineState `json:"previous"`
	Current  models.OnlineState `json:"current"`
	Changed  bool               `json:"changed"`
	Error    string             `json:"error,omitempty"`
}

// Summary aggregates one CheckAll pass.
type Summary struct {
	CheckedAt   time.Time `json:"checked_at"`
	Total       int       `json:"total"`
	Online      int       `json:"online"`
	Offline     int       `json:"offline"`
	Transitions int       `json:"transitions"`
	Results     []Result  `json:"results"`
}

type outcome struct {
	online bool
	err    error
}

// Monitor tracks DeviceHealthState for every registered device.
type Monitor struct {
	cfg       Config
	registry  Registry
	prober    Prober
	publisher events.Publisher
	clock     scheduler.Clock
	logger    logger.Logger
	task      *scheduler.Task

	mu     sync.RWMutex
	states map[string]models.DeviceHealthState
}

// NewMonitor returns a Monitor whose periodic sweep is not yet started.
func NewMonitor(
	cfg *Config,
	registry Registry,
	prober Prober,
	publisher events.Publisher,
	clock scheduler.Clock,
	log logger.Logger,
) (*Monitor, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = scheduler.RealClock()
	}

	m := &Monitor{
		cfg:       c,
		registry:  registry,
		prober:    prober,
		publisher: publisher,
		clock:     clock,
		logger:    log,
		states:    make(map[string]models.DeviceHealthState),
	}

	task, err := scheduler.New(scheduler.Config{
		Name:       "health",
		Interval:   time.Duration(c.Interval),
		RunOnStart: true,
	}, m.tick, clock, log)
	if err != nil {
		return nil, err
	}

	m.task = task

	return m, nil
}

func (m *Monitor) Start(ctx context.Context) error { return m.task.Start(ctx) }

func (m *Monitor) Stop() { m.task.Stop() }

// RunNow triggers an immediate CheckAll through the non-overlapping task.
func (m *Monitor) RunNow(ctx context.Context) scheduler.RunResult { return m.task.RunNow(ctx) }

func (m *Monitor) TaskStats() scheduler.Stats { return m.task.Stats() }

func (m *Monitor) tick(ctx context.Context) error {
	_, err := m.CheckAll(ctx)
	return err
}

// CheckAll probes every enabled device in parallel, treats disabled ones
// as offline, then records transitions and publishes a completion event.
func (m *Monitor) CheckAll(ctx context.Context) (*Summary, error) {
	devices, err := m.registry.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	checkedAt := m.clock.Now()
	outcomes := m.probeAll(ctx, devices)

	summary := &Summary{
		CheckedAt: checkedAt,
		Total:     len(devices),
		Results:   make([]Result, 0, len(devices)),
	}

	for i := range devices {
		r := m.apply(ctx, &devices[i], outcomes[i], checkedAt)

		if r.Current == models.StateOnline {
			summary.Online++
		} else {
			summary.Offline++
		}

		if r.Changed {
			summary.Transitions++
		}

		summary.Results = append(summary.Results, r)
	}

	m.publisher.Publish(events.New(events.TypeHealthCompleted, eventSource, events.HealthCompleted{
		CheckedAt:   checkedAt,
		Total:       summary.Total,
		Online:      summary.Online,
		Offline:     summary.Offline,
		Transitions: summary.Transitions,
	}))

	m.logger.Debug().
		Int("total", summary.Total).
		Int("online", summary.Online).
		Int("offline", summary.Offline).
		Int("transitions", summary.Transitions).
		Msg("Printer health check completed")

	return summary, nil
}

// CheckOne re-checks a single device on demand.
func (m *Monitor) CheckOne(ctx context.Context, id string) (Result, error) {
	device, err := m.registry.GetDevice(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get device %s: %w", id, err)
	}

	if device == nil {
		return Result{}, fmt.Errorf("%w: %s", models.ErrDeviceNotFound, id)
	}

	checkedAt := m.clock.Now()

	o := outcome{err: errDisabled}
	if device.Enabled {
		o = m.probe(ctx, device)
	}

	return m.apply(ctx, device, o, checkedAt), nil
}

// State returns the last recorded state of a device.
func (m *Monitor) State(id string) (models.DeviceHealthState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[id]

	return s, ok
}

// States returns every recorded state ordered by device id.
func (m *Monitor) States() []models.DeviceHealthState {
	m.mu.RLock()
	out := make([]models.DeviceHealthState, 0, len(m.states))

	for _, s := range m.states {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	return out
}

// probeAll fans out one probe per enabled device. Each goroutine writes
// only its own slot; the slots are read after the WaitGroup barrier.
func (m *Monitor) probeAll(ctx context.Context, devices []models.DeviceProfile) []outcome {
	slots := make([]outcome, len(devices))
	sem := make(chan struct{}, m.cfg.Concurrency)

	var wg sync.WaitGroup

	for i := range devices {
		if !devices[i].Enabled {
			slots[i] = outcome{err: errDisabled}
			continue
		}

		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				slots[i] = outcome{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			slots[i] = m.probe(ctx, &devices[i])
		}(i)
	}

	wg.Wait()

	return slots
}

// probe never panics; a panicking prober counts as offline.
func (m *Monitor) probe(ctx context.Context, device *models.DeviceProfile) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome{err: fmt.Errorf("%w: %v", errProbePanicked, r)}
		}
	}()

	if m.prober.Probe(ctx, device.Endpoint, time.Duration(m.cfg.ProbeTimeout)) {
		return outcome{online: true}
	}

	return outcome{err: errUnreachable}
}

// apply records the outcome and, on a change, persists it and publishes a
// transition. A result older than the recorded state is discarded.
func (m *Monitor) apply(ctx context.Context, device *models.DeviceProfile, o outcome, checkedAt time.Time) Result {
	current := models.StateFromBool(o.online)

	m.mu.Lock()
	prior, known := m.states[device.ID]

	if known && prior.LastCheckedAt.After(checkedAt) {
		m.mu.Unlock()

		return Result{DeviceID: device.ID, Previous: prior.State, Current: prior.State, Error: prior.LastError}
	}

	previous := models.StateUnknown

	switch {
	case known:
		previous = prior.State
	case device.LastKnownOnline != nil:
		previous = models.StateFromBool(*device.LastKnownOnline)
	}

	next := models.DeviceHealthState{
		DeviceID:      device.ID,
		State:         current,
		LastCheckedAt: checkedAt,
	}

	if o.err != nil {
		next.LastError = o.err.Error()
	}

	m.states[device.ID] = next
	m.mu.Unlock()

	result := Result{
		DeviceID: device.ID,
		Previous: previous,
		Current:  current,
		Changed:  previous != current,
		Error:    next.LastError,
	}

	if !result.Changed {
		return result
	}

	if err := m.registry.UpdateDeviceOnlineStatus(ctx, device.ID, o.online, checkedAt); err != nil {
		m.logger.Warn().Err(err).Str("device_id", device.ID).Msg("Failed to persist printer online status")
	}

	m.publisher.Publish(events.New(events.TypePrinterStatus, eventSource, events.PrinterStatus{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Previous:   previous,
		Current:    current,
		CheckedAt:  checkedAt,
	}))

	m.logger.Info().
		Str("device_id", device.ID).
		Str("previous", previous.String()).
		Str("current", current.String()).
		Msg("Printer state changed")

	return result
}
