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

// Package events fans out status notifications to decoupled listeners.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/posedge/pkg/models"
)

// Type names a kind of event.
type Type string

const (
	TypeSyncStatus         Type = "sync.status"
	TypeOrderNew           Type = "order.new"
	TypeOrdersTransitioned Type = "orders.transitioned"
	TypePrinterStatus      Type = "printer.status"
	TypeHealthCompleted    Type = "health.completed"
	TypeHeartbeatSent      Type = "heartbeat.sent"
)

// Event is one notification. Data holds one of the payload types below.
type Event struct {
	ID     string    `json:"id"`
	Type   Type      `json:"type"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, source string, data any) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   t,
		Source: source,
		Time:   time.Now().UTC(),
		Data:   data,
	}
}

// Publisher accepts events without blocking on their listeners.
type Publisher interface {
	Publish(e Event)
}

// SyncState is the coarse status reported by the coordinator and sync loop.
type SyncState string

const (
	SyncReady         SyncState = "ready"
	SyncNotConfigured SyncState = "not_configured"
	SyncError         SyncState = "error"
	SyncCompleted     SyncState = "completed"
	SyncPartial       SyncState = "partial"
	SyncPaused        SyncState = "paused"
	SyncResumed       SyncState = "resumed"
)

type SyncStatus struct {
	State     SyncState `json:"state"`
	Message   string    `json:"message"`
	Fetched   int       `json:"fetched,omitempty"`
	Succeeded int       `json:"succeeded,omitempty"`
	Failed    int       `json:"failed,omitempty"`
}

type OrderNew struct {
	Order models.Order `json:"order"`
}

type OrdersTransitioned struct {
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// PrinterStatus is emitted when a device's online state changes.
type PrinterStatus struct {
	DeviceID   string             `json:"device_id"`
	DeviceName string             `json:"device_name"`
	Previous   models.OnlineState `json:"previous"`
	Current    models.OnlineState `json:"current"`
	CheckedAt  time.Time          `json:"checked_at"`
}

type HealthCompleted struct {
	CheckedAt   time.Time `json:"checked_at"`
	Total       int       `json:"total"`
	Online      int       `json:"online"`
	Offline     int       `json:"offline"`
	Transitions int       `json:"transitions"`
}

type HeartbeatSent struct {
	DeviceID string `json:"device_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}
