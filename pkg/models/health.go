package models

import (
	"fmt"
	"strings"
	"time"
)

// OnlineState is the health classification of a device.
type OnlineState int

const (
	StateUnknown OnlineState = iota
	StateOnline
	StateOffline
)

func (s OnlineState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	}

	return "unknown"
}

func (s OnlineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OnlineState) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "unknown", "":
		*s = StateUnknown
	case "online":
		*s = StateOnline
	case "offline":
		*s = StateOffline
	default:
		return fmt.Errorf("unknown online state %q", string(b))
	}

	return nil
}

// StateFromBool maps a probe outcome to an OnlineState.
func StateFromBool(online bool) OnlineState {
	if online {
		return StateOnline
	}

	return StateOffline
}

// DeviceHealthState is the last health classification of one device.
type DeviceHealthState struct {
	DeviceID      string      `json:"device_id"`
	State         OnlineState `json:"state"`
	LastCheckedAt time.Time   `json:"last_checked_at"`
	LastError     string      `json:"last_error,omitempty"`
}

// IsOnline reports whether the device answered its last probe.
func (s DeviceHealthState) IsOnline() bool {
	return s.State == StateOnline
}
