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

// Package orderstore keeps the local copy of remote orders in the kv store.
package orderstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

const keyPrefix = "orders."

var errEmptyOrderID = errors.New("order id is empty")

// Rule moves an order from one status to another once it has stayed in
// From for at least After.
type Rule struct {
	From  models.OrderStatus `json:"from"`
	To    models.OrderStatus `json:"to"`
	After models.Duration    `json:"after"`
}

type Config struct {
	Rules []Rule `json:"rules"`
}

// DefaultRules completes orders that the kitchen never closes by hand.
func DefaultRules() []Rule {
	return []Rule{
		{From: models.OrderPreparing, To: models.OrderReady, After: models.Duration(20 * time.Minute)},
		{From: models.OrderReady, To: models.OrderCompleted, After: models.Duration(30 * time.Minute)},
	}
}

// Store persists orders. Read-modify-write sequences are serialized.
type Store struct {
	kv     kv.Store
	rules  []Rule
	now    func() time.Time
	logger logger.Logger

	mu sync.Mutex
}

// New returns a Store. A nil cfg or empty rule list uses DefaultRules.
func New(store kv.Store, cfg *Config, log logger.Logger) *Store {
	rules := DefaultRules()
	if cfg != nil && len(cfg.Rules) > 0 {
		rules = cfg.Rules
	}

	return &Store{
		kv:     store,
		rules:  rules,
		now:    time.Now,
		logger: log,
	}
}

func key(id string) string {
	return keyPrefix + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// SaveOrder stores o unless an order with the same id exists. It reports
// whether the order was newly inserted, so refetching a window is safe.
func (s *Store) SaveOrder(ctx context.Context, o *models.Order) (bool, error) {
	if o.ID == "" {
		return false, errEmptyOrderID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists, err := s.kv.Get(ctx, key(o.ID))
	if err != nil {
		return false, fmt.Errorf("failed to look up order %s: %w", o.ID, err)
	}

	if exists {
		return false, nil
	}

	saved := *o
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = s.now().UTC()
	}

	if saved.StatusChangedAt.IsZero() {
		saved.StatusChangedAt = saved.CreatedAt
	}

	if err := kv.PutJSON(ctx, s.kv, key(o.ID), &saved); err != nil {
		return false, fmt.Errorf("failed to save order %s: %w", o.ID, err)
	}

	return true, nil
}

// GetOrder returns the stored order and whether it exists.
func (s *Store) GetOrder(ctx context.Context, id string) (models.Order, bool, error) {
	var o models.Order

	found, err := kv.GetJSON(ctx, s.kv, key(id), &o)

	return o, found, err
}

// ListOrders returns every stored order, oldest first.
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	keys, err := s.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]models.Order, 0, len(keys))

	for _, k := range keys {
		var o models.Order

		found, err := kv.GetJSON(ctx, s.kv, k, &o)
		if err != nil {
			return nil, err
		}

		if found {
			orders = append(orders, o)
		}
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}

		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})

	return orders, nil
}

// UpdateStatus sets an order's status. A missing order is reported as
// false rather than an error.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (bool, error) {
	found, _, err := s.modify(ctx, id, func(o *models.Order) bool {
		if o.Status == status {
			return false
		}

		o.Status = status
		o.StatusChangedAt = s.now().UTC()

		return true
	})

	return found, err
}

// MarkAcknowledged flags an order as printed. A missing order is reported
// as false rather than an error.
func (s *Store) MarkAcknowledged(ctx context.Context, id string) (bool, error) {
	found, _, err := s.modify(ctx, id, func(o *models.Order) bool {
		if o.Acknowledged {
			return false
		}

		o.Acknowledged = true

		return true
	})

	return found, err
}

// modify applies change to the stored order and writes it back when change
// reports a modification.
func (s *Store) modify(ctx context.Context, id string, change func(o *models.Order) bool) (found, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o models.Order

	found, err = kv.GetJSON(ctx, s.kv, key(id), &o)
	if err != nil || !found {
		return found, false, err
	}

	if !change(&o) {
		return true, false, nil
	}

	if err = kv.PutJSON(ctx, s.kv, key(id), &o); err != nil {
		return true, false, fmt.Errorf("failed to update order %s: %w", id, err)
	}

	return true, true, nil
}

// ProcessAutomaticStatusTransitions applies the first matching rule to
// every eligible order. Failures on individual orders do not stop the
// pass; they are joined into the returned error.
func (s *Store) ProcessAutomaticStatusTransitions(ctx context.Context) (int, error) {
	orders, err := s.ListOrders(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	transitioned := 0

	var errs []error

	for i := range orders {
		o := &orders[i]

		rule, ok := s.ruleFor(o, now)
		if !ok {
			continue
		}

		_, changed, err := s.modify(ctx, o.ID, func(cur *models.Order) bool {
			if cur.Status != rule.From {
				return false
			}

			cur.Status = rule.To
			cur.StatusChangedAt = now

			return true
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if changed {
			transitioned++

			s.logger.Debug().
				Str("order_id", o.ID).
				Str("from", rule.From.String()).
				Str("to", rule.To.String()).
				Msg("Order status auto-transitioned")
		}
	}

	return transitioned, errors.Join(errs...)
}

func (s *Store) ruleFor(o *models.Order, now time.Time) (Rule, bool) {
	for _, r := range s.rules {
		if o.Status == r.From && now.Sub(o.StatusChangedAt) >= time.Duration(r.After) {
			return r, true
		}
	}

	return Rule{}, false
}

// PendingOrdersCount counts orders still waiting for the kitchen.
func (s *Store) PendingOrdersCount(ctx context.Context) (int, error) {
	return s.count(ctx, func(o *models.Order) bool { return o.Status.IsPending() })
}

// PendingAcksCount counts live orders that no printer has acknowledged.
func (s *Store) PendingAcksCount(ctx context.Context) (int, error) {
	orders, err := s.filter(ctx, awaitingAck)
	return len(orders), err
}

// UnacknowledgedOrders lists the orders PendingAcksCount counts, oldest first.
func (s *Store) UnacknowledgedOrders(ctx context.Context) ([]models.Order, error) {
	return s.filter(ctx, awaitingAck)
}

func awaitingAck(o *models.Order) bool {
	return !o.Acknowledged && o.Status != models.OrderCompleted && o.Status != models.OrderCancelled
}

func (s *Store) count(ctx context.Context, match func(o *models.Order) bool) (int, error) {
	orders, err := s.filter(ctx, match)
	return len(orders), err
}

func (s *Store) filter(ctx context.Context, match func(o *models.Order) bool) ([]models.Order, error) {
	orders, err := s.ListOrders(ctx)
	if err != nil {
		return nil, err
	}

	out := orders[:0]

	for i := range orders {
		if match(&orders[i]) {
			out = append(out, orders[i])
		}
	}

	return out, nil
}
