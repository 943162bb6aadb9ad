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
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownDialect        = errors.New("unknown printer dialect")
	ErrUnknownPaperWidth     = errors.New("unknown paper width")
	ErrUnknownConnectionKind = errors.New("unknown connection kind")
	ErrInvalidEndpoint       = errors.New("invalid device endpoint")
	ErrDeviceNotFound        = errors.New("device not found")
)

// Dialect is a printer family's encoding of the shared command vocabulary.
type Dialect int

const (
	// DialectFull is the full-feature ESC/POS thermal dialect.
	DialectFull Dialect = iota
	// DialectLabel is the constrained label-printer dialect.
	DialectLabel
)

func (d Dialect) String() string {
	switch d {
	case DialectFull:
		return "full"
	case DialectLabel:
		return "label"
	}

	return fmt.Sprintf("dialect(%d)", int(d))
}

// ParseDialect maps a configuration tag to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "thermal", "":
		return DialectFull, nil
	case "label":
		return DialectLabel, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownDialect, s)
}

func (d Dialect) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Dialect) UnmarshalText(b []byte) error {
	v, err := ParseDialect(string(b))
	if err != nil {
		return err
	}

	*d = v

	return nil
}

// PaperWidth is the paper width class of a device.
type PaperWidth int

const (
	// PaperWide is 80mm paper, 48 characters per line.
	PaperWide PaperWidth = iota
	// PaperNarrow is 58mm paper, 32 characters per line.
	PaperNarrow
)

const (
	wideCharsPerLine   = 48
	narrowCharsPerLine = 32
)

// CharsPerLine is the fixed line width used by column formatting.
func (w PaperWidth) CharsPerLine() int {
	switch w {
	case PaperWide:
		return wideCharsPerLine
	case PaperNarrow:
		return narrowCharsPerLine
	}

	return wideCharsPerLine
}

func (w PaperWidth) String() string {
	switch w {
	case PaperWide:
		return "wide"
	case PaperNarrow:
		return "narrow"
	}

	return fmt.Sprintf("width(%d)", int(w))
}

// ParsePaperWidth accepts "wide"/"80mm"/"80" and "narrow"/"58mm"/"58".
func ParsePaperWidth(s string) (PaperWidth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wide", "80mm", "80", "":
		return PaperWide, nil
	case "narrow", "58mm", "58":
		return PaperNarrow, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownPaperWidth, s)
}

func (w PaperWidth) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *PaperWidth) UnmarshalText(b []byte) error {
	v, err := ParsePaperWidth(string(b))
	if err != nil {
		return err
	}

	*w = v

	return nil
}

// ConnectionKind selects how a device is reached.
type ConnectionKind int

const (
	ConnectionNetwork ConnectionKind = iota
	ConnectionSerial
)

func (k ConnectionKind) String() string {
	switch k {
	case ConnectionNetwork:
		return "network"
	case ConnectionSerial:
		return "serial"
	}

	return fmt.Sprintf("connection(%d)", int(k))
}

func (k ConnectionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ConnectionKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "network", "tcp", "":
		*k = ConnectionNetwork
	case "serial", "usb":
		*k = ConnectionSerial
	default:
		return fmt.Errorf("%w: %q", ErrUnknownConnectionKind, string(b))
	}

	return nil
}

const defaultPrinterPort = 9100

// Endpoint is where a device is reached.
type Endpoint struct {
	Kind       ConnectionKind `json:"kind"`
	Host       string         `json:"host,omitempty"`
	Port       int            `json:"port,omitempty"`
	SerialPort string         `json:"serial_port,omitempty"`
	BaudRate   int            `json:"baud_rate,omitempty"`
}

// NetworkEndpoint returns a TCP endpoint for host:port.
func NetworkEndpoint(host string, port int) Endpoint {
	return Endpoint{Kind: ConnectionNetwork, Host: host, Port: port}
}

// Validate reports whether the endpoint can be dialed.
func (e Endpoint) Validate() error {
	switch e.Kind {
	case ConnectionNetwork:
		if e.Host == "" {
			return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
		}

		if e.Port < 0 || e.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
		}
	case ConnectionSerial:
		if e.SerialPort == "" {
			return fmt.Errorf("%w: missing serial port", ErrInvalidEndpoint)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownConnectionKind, int(e.Kind))
	}

	return nil
}

// Address is the dialable form of a network endpoint, or the serial port name.
func (e Endpoint) Address() string {
	switch e.Kind {
	case ConnectionNetwork:
		port := e.Port
		if port == 0 {
			port = defaultPrinterPort
		}

		return net.JoinHostPort(e.Host, strconv.Itoa(port))
	case ConnectionSerial:
		return e.SerialPort
	}

	return ""
}

func (e Endpoint) String() string {
	return e.Kind.String() + "://" + e.Address()
}

// DeviceProfile identifies a physical printer.
type DeviceProfile struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Endpoint      Endpoint   `json:"endpoint"`
	Dialect       Dialect    `json:"dialect"`
	PaperWidth    PaperWidth `json:"paper_width"`
	HasCashDrawer bool       `json:"has_cash_drawer"`
	HasBuzzer     bool       `json:"has_buzzer"`
	Enabled       bool       `json:"enabled"`
	Roles         []string   `json:"roles,omitempty"`

	// LastKnownOnline is the persisted online flag, nil when never checked.
	LastKnownOnline *bool      `json:"last_known_online,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
}

// HasRole reports whether the device serves the given print role.
func (d *DeviceProfile) HasRole(role string) bool {
	for _, r := range d.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}

	return false
}
