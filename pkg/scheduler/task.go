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

// Package scheduler runs periodic task bodies that never overlap themselves.
//
// A Task fires its body on every tick of a fixed interval. When a tick
// arrives while the previous body is still running, the tick is skipped
// entirely: it is neither queued nor run concurrently. Each body runs in
// its own goroutine, and the in-flight flag is cleared even if the body
// panics.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/posedge/pkg/logger"
)

// Func is a tick body.
type Func func(ctx context.Context) error

// Config describes one periodic task.
type Config struct {
	Name     string
	Interval time.Duration
	// InitialDelay postpones the first tick once, after which the task
	// fires and then follows Interval.
	InitialDelay time.Duration
	// RunOnStart fires one tick immediately when the task starts.
	RunOnStart bool
}

// State is the lifecycle state of a Task.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// RunResult reports the outcome of a manual run.
type RunResult struct {
	Accepted bool
	// Reason is ErrNotInitialized or ErrTickInFlight for a declined run.
	Reason error
	// Err is the body's error for an accepted run.
	Err      error
	Duration time.Duration
}

// Declined reports whether the run was rejected without executing.
func (r RunResult) Declined() bool {
	return !r.Accepted
}

// Stats is a point-in-time view of a Task.
type Stats struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	InFlight       bool      `json:"in_flight"`
	Runs           uint64    `json:"runs"`
	Skipped        uint64    `json:"skipped"`
	Failures       uint64    `json:"failures"`
	LastStartedAt  time.Time `json:"last_started_at,omitempty"`
	LastFinishedAt time.Time `json:"last_finished_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Task is one periodic loop.
type Task struct {
	cfg    Config
	fn     Func
	clock  Clock
	logger logger.Logger

	inFlight atomic.Bool
	skipped  atomic.Uint64
	bodies   sync.WaitGroup

	mu       sync.Mutex
	state    State
	ctx      context.Context
	loopStop chan struct{}
	loopDone chan struct{}

	statsMu        sync.Mutex
	runs           uint64
	failures       uint64
	lastStartedAt  time.Time
	lastFinishedAt time.Time
	lastErr        error
}

// New returns an idle Task. A nil clock uses RealClock.
func New(cfg Config, fn Func, clock Clock, log logger.Logger) (*Task, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%s: %w", cfg.Name, errInvalidPeriod)
	}

	if clock == nil {
		clock = RealClock()
	}

	return &Task{
		cfg:    cfg,
		fn:     fn,
		clock:  clock,
		logger: log,
	}, nil
}

// Name returns the configured task name.
func (t *Task) Name() string { return t.cfg.Name }

// Start begins ticking. Tick bodies receive ctx; cancelling it ends the
// loop the same way Stop does.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle {
		return fmt.Errorf("%s: %w", t.cfg.Name, ErrAlreadyRunning)
	}

	t.ctx = ctx
	t.state = StateRunning
	t.startLoopLocked(t.cfg.RunOnStart, t.cfg.InitialDelay)

	t.logger.Info().
		Str("task", t.cfg.Name).
		Dur("interval", t.cfg.Interval).
		Msg("Periodic task started")

	return nil
}

// Stop disposes the timer and prevents future ticks. A body already
// running is not cancelled and may finish after Stop returns.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateIdle:
		return
	case StateRunning:
		t.stopLoopLocked()
	case StatePaused:
	}

	t.state = StateIdle

	t.logger.Info().Str("task", t.cfg.Name).Msg("Periodic task stopped")
}

// Pause stops the timer but keeps the task initialized, so RunNow still
// works and Resume restarts ticking. An in-flight body is unaffected.
func (t *Task) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return fmt.Errorf("%s: %w", t.cfg.Name, ErrNotRunning)
	}

	t.stopLoopLocked()
	t.state = StatePaused

	t.logger.Info().Str("task", t.cfg.Name).Msg("Periodic task paused")

	return nil
}

// Resume restarts the timer of a paused task.
func (t *Task) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePaused {
		return fmt.Errorf("%s: %w", t.cfg.Name, ErrNotPaused)
	}

	t.state = StateRunning
	t.startLoopLocked(false, 0)

	t.logger.Info().Str("task", t.cfg.Name).Msg("Periodic task resumed")

	return nil
}

// RunNow executes the body synchronously on the caller's goroutine. It is
// declined when the task is not started or a tick is in flight.
func (t *Task) RunNow(ctx context.Context) RunResult {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	if state == StateIdle {
		return RunResult{Reason: ErrNotInitialized}
	}

	if !t.inFlight.CompareAndSwap(false, true) {
		t.logger.Debug().Str("task", t.cfg.Name).Msg("Manual run declined, tick in flight")
		return RunResult{Reason: ErrTickInFlight}
	}

	t.bodies.Add(1)
	defer t.bodies.Done()

	start := time.Now()
	err := t.execute(ctx)

	return RunResult{Accepted: true, Err: err, Duration: time.Since(start)}
}

// State reports the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// InFlight reports whether a body is executing.
func (t *Task) InFlight() bool {
	return t.inFlight.Load()
}

// Wait blocks until no body is executing or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		t.bodies.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns counters for the task.
func (t *Task) Stats() Stats {
	state := t.State()

	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	s := Stats{
		Name:           t.cfg.Name,
		State:          state.String(),
		InFlight:       t.inFlight.Load(),
		Runs:           t.runs,
		Skipped:        t.skipped.Load(),
		Failures:       t.failures,
		LastStartedAt:  t.lastStartedAt,
		LastFinishedAt: t.lastFinishedAt,
	}

	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}

	return s
}

func (t *Task) startLoopLocked(fireNow bool, delay time.Duration) {
	stop := make(chan struct{})
	done := make(chan struct{})

	t.loopStop = stop
	t.loopDone = done

	go t.loop(t.ctx, stop, done, fireNow, delay)
}

// stopLoopLocked waits for the loop goroutine only. The loop never runs a
// body itself, so this does not wait on in-flight work.
func (t *Task) stopLoopLocked() {
	close(t.loopStop)
	<-t.loopDone

	t.loopStop = nil
	t.loopDone = nil
}

func (t *Task) loop(ctx context.Context, stop chan struct{}, done chan<- struct{}, fireNow bool, delay time.Duration) {
	cancelled := t.run(ctx, stop, fireNow, delay)
	close(done)

	if cancelled {
		t.expire(stop)
	}
}

// run ticks until stop is closed or ctx is done, and reports the latter.
func (t *Task) run(ctx context.Context, stop <-chan struct{}, fireNow bool, delay time.Duration) bool {
	if delay > 0 {
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return true
		case <-t.clock.After(delay):
			fireNow = true
		}
	}

	if fireNow {
		t.fire(ctx)
	}

	ticker := t.clock.Ticker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return true
		case <-ticker.Chan():
			t.fire(ctx)
		}
	}
}

// expire returns the task to idle after its start context ends, unless the
// loop was already stopped or replaced.
func (t *Task) expire(stop chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loopStop != stop {
		return
	}

	t.loopStop = nil
	t.loopDone = nil
	t.state = StateIdle

	t.logger.Debug().Str("task", t.cfg.Name).Msg("Context done, periodic task loop exited")
}

// fire starts one tick body unless the previous one is still running.
func (t *Task) fire(ctx context.Context) {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.skipped.Add(1)
		t.logger.Debug().Str("task", t.cfg.Name).Msg("Previous tick still running, skipping")

		return
	}

	t.bodies.Add(1)

	go func() {
		defer t.bodies.Done()

		_ = t.execute(ctx)
	}()
}

// execute runs the body with the in-flight flag already held.
func (t *Task) execute(ctx context.Context) (err error) {
	started := t.clock.Now()

	t.statsMu.Lock()
	t.lastStartedAt = started
	t.statsMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTickPanicked, r)
		}

		t.record(err)
		t.inFlight.Store(false)
	}()

	return t.fn(ctx)
}

func (t *Task) record(err error) {
	t.statsMu.Lock()
	t.runs++
	t.lastFinishedAt = t.clock.Now()
	t.lastErr = err

	if err != nil {
		t.failures++
	}
	t.statsMu.Unlock()

	if err != nil {
		t.logger.Warn().Err(err).Str("task", t.cfg.Name).Msg("Periodic task tick failed")
		return
	}

	t.logger.Debug().Str("task", t.cfg.Name).Msg("Periodic task tick completed")
}
