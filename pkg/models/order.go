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

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownOrderStatus = errors.New("unknown order status")
	ErrUnknownOrderType   = errors.New("unknown order type")
)

// OrderStatus is the lifecycle position of an order.
type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderAccepted
	OrderPreparing
	OrderReady
	OrderCompleted
	OrderCancelled
)

var orderStatusNames = map[OrderStatus]string{
	OrderPending:   "pending",
	OrderAccepted:  "accepted",
	OrderPreparing: "preparing",
	OrderReady:     "ready",
	OrderCompleted: "completed",
	OrderCancelled: "cancelled",
}

func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("status(%d)", int(s))
}

// ParseOrderStatus maps a status tag to an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for status, name := range orderStatusNames {
		if name == key {
			return status, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownOrderStatus, s)
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := ParseOrderStatus(string(b))
	if err != nil {
		return err
	}

	*s = v

	return nil
}

// IsPending reports whether the order still waits for the kitchen.
func (s OrderStatus) IsPending() bool {
	return s == OrderPending || s == OrderAccepted
}

// OrderType is the fulfilment channel of an order.
type OrderType int

const (
	OrderDelivery OrderType = iota
	OrderCollection
	OrderDineIn
)

func (t OrderType) String() string {
	switch t {
	case OrderDelivery:
		return "delivery"
	case OrderCollection:
		return "collection"
	case OrderDineIn:
		return "dine_in"
	}

	return fmt.Sprintf("type(%d)", int(t))
}

func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "delivery":
		*t = OrderDelivery
	case "collection", "takeaway", "pickup":
		*t = OrderCollection
	case "dine_in", "dine-in", "table":
		*t = OrderDineIn
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOrderType, string(b))
	}

	return nil
}

// OrderItem is a single line on an order.
type OrderItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
	PriceCents int64  `json:"price_cents"`
}

// Order is a remote order persisted locally.
type Order struct {
	ID              string      `json:"id"`
	Reference       string      `json:"reference,omitempty"`
	Type            OrderType   `json:"type"`
	Status          OrderStatus `json:"status"`
	CustomerName    string      `json:"customer_name,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Items           []OrderItem `json:"items"`
	TotalCents      int64       `json:"total_cents"`
	CreatedAt       time.Time   `json:"created_at"`
	StatusChangedAt time.Time   `json:"status_changed_at"`
	Acknowledged    bool        `json:"acknowledged"`
}
