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

package ordersync

import (
	"context"
	"fmt"
	"time"

	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
	"github.com/carverauto/posedge/pkg/scheduler"
)

const (
	sweepSource          = "sweep"
	defaultSweepInterval = 30 * time.Second
)

// Transitioner advances order statuses that have waited long enough.
type Transitioner interface {
	ProcessAutomaticStatusTransitions(ctx context.Context) (int, error)
}

type SweepConfig struct {
	Interval models.Duration `json:"interval"`
}

func (c *SweepConfig) Validate() error {
	if c.Interval <= 0 {
		c.Interval = models.Duration(defaultSweepInterval)
	}

	return nil
}

// Sweeper is the status-transition loop. Its failures are logged and
// never reach the caller.
type Sweeper struct {
	transitioner Transitioner
	publisher    events.Publisher
	logger       logger.Logger
	task         *scheduler.Task
}

func NewSweeper(
	cfg *SweepConfig,
	transitioner Transitioner,
	publisher events.Publisher,
	clock scheduler.Clock,
	log logger.Logger,
) (*Sweeper, error) {
	c := SweepConfig{}
	if cfg != nil {
		c = *cfg
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &Sweeper{
		transitioner: transitioner,
		publisher:    publisher,
		logger:       log,
	}

	task, err := scheduler.New(scheduler.Config{
		Name:     sweepSource,
		Interval: time.Duration(c.Interval),
	}, s.tick, clock, log)
	if err != nil {
		return nil, err
	}

	s.task = task

	return s, nil
}

func (s *Sweeper) Start(ctx context.Context) error { return s.task.Start(ctx) }

func (s *Sweeper) Stop() { s.task.Stop() }

func (s *Sweeper) RunNow(ctx context.Context) scheduler.RunResult { return s.task.RunNow(ctx) }

func (s *Sweeper) TaskStats() scheduler.Stats { return s.task.Stats() }

func (s *Sweeper) tick(ctx context.Context) error {
	s.Sweep(ctx)
	return nil
}

// Sweep runs one transition pass and returns how many orders moved.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.transitioner.ProcessAutomaticStatusTransitions(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("transitioned", n).Msg("Automatic status transitions failed")
	}

	if n > 0 {
		s.publisher.Publish(events.New(events.TypeOrdersTransitioned, sweepSource, events.OrdersTransitioned{
			Count:   n,
			Message: fmt.Sprintf("%d orders advanced automatically", n),
		}))
	}

	return n
}
