// Package coordinator sequences startup of the order loops.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/posedge/pkg/cloudapi"
	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/logger"
)

const eventSource = "coordinator"

var errAlreadyStarted = errors.New("coordinator already started")

// Initializer connects to the remote order API.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Loop is a startable background loop.
type Loop interface {
	Start(ctx context.Context) error
	Stop()
}

// Coordinator initializes the remote API and, only when that succeeds,
// starts the sync and sweep loops. The health monitor and heartbeat run
// independently of it.
type Coordinator struct {
	api       Initializer
	sync      Loop
	sweep     Loop
	publisher events.Publisher
	logger    logger.Logger

	mu      sync.Mutex
	started []Loop
}

func New(api Initializer, syncLoop, sweepLoop Loop, publisher events.Publisher, log logger.Logger) *Coordinator {
	return &Coordinator{
		api:       api,
		sync:      syncLoop,
		sweep:     sweepLoop,
		publisher: publisher,
		logger:    log,
	}
}

// Start runs the startup sequence. On failure it publishes a
// not_configured or error status and starts nothing.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.started) > 0 {
		return errAlreadyStarted
	}

	if err := c.api.Initialize(ctx); err != nil {
		if errors.Is(err, cloudapi.ErrNotConfigured) {
			c.logger.Warn().Err(err).Msg("Remote order API not configured, order loops not started")
			c.publish(events.SyncNotConfigured, "Remote order API is not configured")
		} else {
			c.logger.Error().Err(err).Msg("Remote order API initialization failed")
			c.publish(events.SyncError, fmt.Sprintf("Remote order API initialization failed: %v", err))
		}

		return err
	}

	for _, l := range []Loop{c.sync, c.sweep} {
		if err := l.Start(ctx); err != nil {
			c.stopLocked()
			c.publish(events.SyncError, fmt.Sprintf("Failed to start order loops: %v", err))

			return err
		}

		c.started = append(c.started, l)
	}

	c.logger.Info().Msg("Order loops started")
	c.publish(events.SyncReady, "Order sync ready")

	return nil
}

// Stop stops the loops started by Start. In-flight ticks finish on their own.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
}

// Running reports whether the order loops are started.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.started) > 0
}

func (c *Coordinator) stopLocked() {
	for i := len(c.started) - 1; i >= 0; i-- {
		c.started[i].Stop()
	}

	c.started = nil
}

func (c *Coordinator) publish(state events.SyncState, msg string) {
	c.publisher.Publish(events.New(events.TypeSyncStatus, eventSource, events.SyncStatus{State: state, Message: msg}))
}
