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

// Package ordersync runs the background loops that pull remote orders into
// the local store and advance their status over time.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
	"github.com/carverauto/posedge/pkg/scheduler"
)

const (
	// WatermarkKey holds the start time of the last fully successful sync.
	WatermarkKey = "last_successful_sync"

	syncSource      = "sync"
	defaultInterval = 60 * time.Second
)

// Fetcher is the remote order API.
type Fetcher interface {
	FetchNewOrders(ctx context.Context, since time.Time) ([]models.Order, error)
}

// Saver persists orders and reports whether each one was new.
type Saver interface {
	SaveOrder(ctx context.Context, o *models.Order) (bool, error)
}

type Config struct {
	Interval models.Duration `json:"interval"`
}

func (c *Config) Validate() error {
	if c.Interval <= 0 {
		c.Interval = models.Duration(defaultInterval)
	}

	return nil
}

// Result summarizes one sync pass.
type Result struct {
	Since     time.Time
	Fetched   int
	Succeeded int
	New       int
	Failed    int
}

// Service is the order sync loop. It fires once on start and then every
// Interval; ticks never overlap.
type Service struct {
	fetcher   Fetcher
	saver     Saver
	kv        kv.Store
	publisher events.Publisher
	clock     scheduler.Clock
	logger    logger.Logger
	task      *scheduler.Task
}

func NewService(
	cfg *Config,
	fetcher Fetcher,
	saver Saver,
	store kv.Store,
	publisher events.Publisher,
	clock scheduler.Clock,
	log logger.Logger,
) (*Service, error) {
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

	s := &Service{
		fetcher:   fetcher,
		saver:     saver,
		kv:        store,
		publisher: publisher,
		clock:     clock,
		logger:    log,
	}

	task, err := scheduler.New(scheduler.Config{
		Name:       syncSource,
		Interval:   time.Duration(c.Interval),
		RunOnStart: true,
	}, s.tick, clock, log)
	if err != nil {
		return nil, err
	}

	s.task = task

	return s, nil
}

func (s *Service) Start(ctx context.Context) error { return s.task.Start(ctx) }

func (s *Service) Stop() { s.task.Stop() }

// RunNow runs one sync pass unless the loop is stopped or a pass is running.
func (s *Service) RunNow(ctx context.Context) scheduler.RunResult { return s.task.RunNow(ctx) }

func (s *Service) TaskStats() scheduler.Stats { return s.task.Stats() }

// Pause stops the timer. The watermark and any running pass are untouched.
func (s *Service) Pause() error {
	if err := s.task.Pause(); err != nil {
		return err
	}

	s.publish(events.SyncStatus{State: events.SyncPaused, Message: "Order sync paused"})

	return nil
}

func (s *Service) Resume() error {
	if err := s.task.Resume(); err != nil {
		return err
	}

	s.publish(events.SyncStatus{State: events.SyncResumed, Message: "Order sync resumed"})

	return nil
}

// Watermark returns the last successful sync time, zero if none.
func (s *Service) Watermark(ctx context.Context) (time.Time, error) {
	raw, found, err := s.kv.Get(ctx, WatermarkKey)
	if err != nil || !found {
		return time.Time{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", errInvalidWatermark, raw)
	}

	return ts, nil
}

func (s *Service) tick(ctx context.Context) error {
	_, err := s.Sync(ctx)
	return err
}

// Sync fetches orders created since the watermark and saves each one.
// An order that fails to save is skipped and reported through a
// *PartialBatchError; the watermark only advances when every order saved.
func (s *Service) Sync(ctx context.Context) (*Result, error) {
	since, err := s.Watermark(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring unreadable sync watermark")

		since = time.Time{}
	}

	startedAt := s.clock.Now().UTC()

	orders, err := s.fetcher.FetchNewOrders(ctx, since)
	if err != nil {
		s.publish(events.SyncStatus{State: events.SyncError, Message: fmt.Sprintf("Order fetch failed: %v", err)})

		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}

	res := &Result{Since: since, Fetched: len(orders)}

	var items []ItemError

	for i := range orders {
		o := &orders[i]

		inserted, err := s.saver.SaveOrder(ctx, o)
		if err != nil {
			items = append(items, ItemError{OrderID: o.ID, Err: err})

			s.logger.Warn().Err(err).Str("order_id", o.ID).Msg("Failed to save order, skipping")

			continue
		}

		res.Succeeded++

		if inserted {
			res.New++
			s.publisher.Publish(events.New(events.TypeOrderNew, syncSource, events.OrderNew{Order: *o}))
		}
	}

	res.Failed = len(items)

	status := events.SyncStatus{
		Fetched:   res.Fetched,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	}

	if len(items) > 0 {
		batchErr := &PartialBatchError{Total: res.Fetched, Succeeded: res.Succeeded, Items: items}

		status.State = events.SyncPartial
		status.Message = batchErr.Error()
		s.publish(status)

		return res, batchErr
	}

	if err := s.kv.Put(ctx, WatermarkKey, []byte(startedAt.Format(time.RFC3339Nano))); err != nil {
		status.State = events.SyncError
		status.Message = fmt.Sprintf("Failed to store sync watermark: %v", err)
		s.publish(status)

		return res, fmt.Errorf("failed to store sync watermark: %w", err)
	}

	status.State = events.SyncCompleted
	status.Message = fmt.Sprintf("%d of %d orders saved", res.Succeeded, res.Fetched)
	s.publish(status)

	s.logger.Debug().
		Int("fetched", res.Fetched).
		Int("new", res.New).
		Msg("Order sync completed")

	return res, nil
}

func (s *Service) publish(status events.SyncStatus) {
	s.publisher.Publish(events.New(events.TypeSyncStatus, syncSource, status))
}

// IsPartial reports whether err is a partial batch failure.
func IsPartial(err error) bool {
	var pe *PartialBatchError
	return errors.As(err, &pe)
}
