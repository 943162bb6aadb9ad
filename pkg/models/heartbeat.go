package models

import "time"

// HeartbeatStats is computed fresh on each heartbeat tick.
type HeartbeatStats struct {
	PendingAcks   int        `json:"pending_acks"`
	PendingOrders int        `json:"pending_orders"`
	LastPrintAt   *time.Time `json:"last_print_at,omitempty"`
}

// HeartbeatPayload is the body posted to the heartbeat endpoint.
type HeartbeatPayload struct {
	DeviceID           string     `json:"deviceId"`
	Status             string     `json:"status"`
	PendingAcksCount   int        `json:"pendingAcksCount"`
	PendingOrdersCount int        `json:"pendingOrdersCount"`
	LastPrintAt        *time.Time `json:"lastPrintAt,omitempty"`
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}
