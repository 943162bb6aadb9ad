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

// Package heartbeat reports installation liveness and backlog to the
// remote service.
package heartbeat

import (
	"context"
	"time"

	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
	"github.com/carverauto/posedge/pkg/scheduler"
)

const (
	eventSource     = "heartbeat"
	statusOnline    = "online"
	defaultInterval = 30 * time.Second
)

type Config struct {
	Endpoint string          `json:"endpoint"`
	APIKey   string          `json:"api_key"`
	Interval models.Duration `json:"interval"`
	Timeout  models.Duration `json:"timeout"`
}

func (c *Config) Validate() error {
	if c.Interval <= 0 {
		c.Interval = models.Duration(defaultInterval)
	}

	if c.Timeout <= 0 {
		c.Timeout = models.Duration(defaultTimeout)
	}

	return nil
}

// Counter reports order backlog.
type Counter interface {
	PendingAcksCount(ctx context.Context) (int, error)
	PendingOrdersCount(ctx context.Context) (int, error)
}

// PrintTracker reports when a printer last accepted a job.
type PrintTracker interface {
	LastPrintAt() (time.Time, bool)
}

type Sender interface {
	Send(ctx context.Context, p *models.HeartbeatPayload) error
}

type IDResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Service is the heartbeat loop. It fires once on start and then every
// Interval; a failed beat is logged and reported, never retried.
type Service struct {
	ids       IDResolver
	sender    Sender
	counter   Counter
	prints    PrintTracker
	publisher events.Publisher
	logger    logger.Logger
	task      *scheduler.Task
}

func NewService(
	cfg *Config,
	ids IDResolver,
	sender Sender,
	counter Counter,
	prints PrintTracker,
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

	s := &Service{
		ids:       ids,
		sender:    sender,
		counter:   counter,
		prints:    prints,
		publisher: publisher,
		logger:    log,
	}

	task, err := scheduler.New(scheduler.Config{
		Name:       eventSource,
		Interval:   time.Duration(c.Interval),
		RunOnStart: true,
	}, s.Beat, clock, log)
	if err != nil {
		return nil, err
	}

	s.task = task

	return s, nil
}

func (s *Service) Start(ctx context.Context) error { return s.task.Start(ctx) }

func (s *Service) Stop() { s.task.Stop() }

func (s *Service) RunNow(ctx context.Context) scheduler.RunResult { return s.task.RunNow(ctx) }

func (s *Service) TaskStats() scheduler.Stats { return s.task.Stats() }

// Stats gathers a fresh snapshot. Counter failures leave the affected
// count at zero.
func (s *Service) Stats(ctx context.Context) models.HeartbeatStats {
	var st models.HeartbeatStats

	if s.counter != nil {
		if acks, err := s.counter.PendingAcksCount(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to count pending acks")
		} else {
			st.PendingAcks = acks
		}

		if orders, err := s.counter.PendingOrdersCount(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to count pending orders")
		} else {
			st.PendingOrders = orders
		}
	}

	if s.prints != nil {
		if at, ok := s.prints.LastPrintAt(); ok {
			at = at.UTC()
			st.LastPrintAt = &at
		}
	}

	return st
}

// Beat sends one heartbeat.
func (s *Service) Beat(ctx context.Context) error {
	id, err := s.ids.Resolve(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to resolve device id")
		s.publish("", err)

		return err
	}

	st := s.Stats(ctx)

	payload := &models.HeartbeatPayload{
		DeviceID:           id,
		Status:             statusOnline,
		PendingAcksCount:   st.PendingAcks,
		PendingOrdersCount: st.PendingOrders,
		LastPrintAt:        st.LastPrintAt,
	}

	if err := s.sender.Send(ctx, payload); err != nil {
		s.logger.Warn().Err(err).Str("device_id", id).Msg("Heartbeat failed")
		s.publish(id, err)

		return err
	}

	s.logger.Debug().
		Str("device_id", id).
		Int("pending_acks", st.PendingAcks).
		Int("pending_orders", st.PendingOrders).
		Msg("Heartbeat sent")
	s.publish(id, nil)

	return nil
}

func (s *Service) publish(id string, err error) {
	data := events.HeartbeatSent{DeviceID: id, Success: err == nil}
	if err != nil {
		data.Error = err.Error()
	}

	s.publisher.Publish(events.New(events.TypeHeartbeatSent, eventSource, data))
}
