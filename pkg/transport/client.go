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

// Package transport delivers encoded command buffers to printers over
// short-lived TCP or serial connections.
package transport

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/carverauto/posedge/pkg/escpos"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

const (
	defaultSendTimeout  = 5 * time.Second
	defaultProbeTimeout = 3 * time.Second
	defaultGraceWindow  = 100 * time.Millisecond
)

// Config holds the transport timeouts.
type Config struct {
	SendTimeout  models.Duration `json:"send_timeout"`
	ProbeTimeout models.Duration `json:"probe_timeout"`
	// GraceWindow is how long Probe and QueryStatus wait for a reply.
	GraceWindow models.Duration `json:"grace_window"`
}

// Validate fills unset timeouts with defaults.
func (c *Config) Validate() error {
	if c.SendTimeout <= 0 {
		c.SendTimeout = models.Duration(defaultSendTimeout)
	}

	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = models.Duration(defaultProbeTimeout)
	}

	if c.GraceWindow <= 0 {
		c.GraceWindow = models.Duration(defaultGraceWindow)
	}

	return nil
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithSerialOpener replaces the serial port opener.
func WithSerialOpener(open SerialOpener) Option {
	return func(c *Client) { c.openSerial = open }
}

// Client talks to devices. It holds no connections between calls.
type Client struct {
	cfg        Config
	dialer     Dialer
	openSerial SerialOpener
	logger     logger.Logger

	lastPrintAt atomic.Int64
}

// NewClient returns a Client. A nil cfg uses the defaults.
func NewClient(cfg *Config, log logger.Logger, opts ...Option) *Client {
	c := &Client{
		dialer:     &net.Dialer{},
		openSerial: serial.Open,
		logger:     log,
	}

	if cfg != nil {
		c.cfg = *cfg
	}

	_ = c.cfg.Validate()

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send opens a connection to ep, writes payload, and closes it. A zero
// timeout uses the configured send timeout. Send never retries.
func (c *Client) Send(ctx context.Context, ep models.Endpoint, payload []byte, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Duration(c.cfg.SendTimeout)
	}

	deadline := time.Now().Add(timeout)

	l, err := c.open(ctx, "send", ep, timeout)
	if err != nil {
		return err
	}
	defer c.closeQuietly(l)

	if err := l.setWriteDeadline(deadline); err != nil {
		return newError("send", ep.Address(), classify(err), err)
	}

	if err := writeAll(l, payload); err != nil {
		return newError("send", ep.Address(), classify(err), err)
	}

	return nil
}

// Probe reports whether ep accepts a connection within timeout. It writes a
// status request and waits briefly for a reply, but a silent device that
// accepted the connection still counts as present.
func (c *Client) Probe(ctx context.Context, ep models.Endpoint, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = time.Duration(c.cfg.ProbeTimeout)
	}

	l, err := c.open(ctx, "probe", ep, timeout)
	if err != nil {
		c.logger.Debug().Err(err).Str("endpoint", ep.String()).Msg("probe connect failed")
		return false
	}
	defer c.closeQuietly(l)

	request := escpos.New(models.DialectFull, models.PaperWide).RequestStatus(escpos.StatusGeneral).Build()

	_ = l.setWriteDeadline(time.Now().Add(timeout))

	if err := writeAll(l, request); err != nil {
		c.logger.Debug().Err(err).Str("endpoint", ep.String()).Msg("probe status request not written")
		return true
	}

	var reply [1]byte
	if _, err := l.readWithin(reply[:], c.grace(timeout)); err != nil {
		c.logger.Debug().Err(err).Str("endpoint", ep.String()).Msg("probe status read failed")
	}

	return true
}

// Print sends a rendered document to device and records the print time.
func (c *Client) Print(ctx context.Context, device *models.DeviceProfile, payload []byte) error {
	if !device.Enabled {
		return newError("print", device.Endpoint.Address(), KindOther, ErrDeviceDisabled)
	}

	if err := c.Send(ctx, device.Endpoint, payload, 0); err != nil {
		return err
	}

	c.lastPrintAt.Store(time.Now().UnixNano())

	return nil
}

// LastPrintAt reports when Print last succeeded.
func (c *Client) LastPrintAt() (time.Time, bool) {
	ns := c.lastPrintAt.Load()
	if ns == 0 {
		return time.Time{}, false
	}

	return time.Unix(0, ns), true
}

// OpenDrawer kicks the cash drawer attached to device.
func (c *Client) OpenDrawer(ctx context.Context, device *models.DeviceProfile, pin int) error {
	if !device.HasCashDrawer {
		return newError("drawer", device.Endpoint.Address(), KindOther, ErrNoCashDrawer)
	}

	payload := escpos.ForDevice(device).OpenDrawer(pin).Build()

	return c.Send(ctx, device.Endpoint, payload, 0)
}

// Buzz sounds the device buzzer.
func (c *Client) Buzz(ctx context.Context, device *models.DeviceProfile, short bool) error {
	if !device.HasBuzzer {
		return newError("buzz", device.Endpoint.Address(), KindOther, ErrNoBuzzer)
	}

	payload := escpos.ForDevice(device).Buzz(short).Build()

	return c.Send(ctx, device.Endpoint, payload, 0)
}

// TestPrint prints a short identification slip on device.
func (c *Client) TestPrint(ctx context.Context, device *models.DeviceProfile) error {
	return c.Print(ctx, device, TestPage(device, time.Now()))
}

// TestPage renders the identification slip printed by TestPrint.
func TestPage(device *models.DeviceProfile, now time.Time) []byte {
	b := escpos.ForDevice(device)

	b.Initialize().
		SetAlign(escpos.AlignCenter).
		SetBold(true).
		SetFontSize(2, 2).
		PrintLine("TEST PRINT").
		SetFontSize(1, 1).
		SetBold(false).
		PrintLine(device.Name).
		SetAlign(escpos.AlignLeft).
		Separator('-').
		PrintColumns("Device", device.ID).
		PrintColumns("Address", device.Endpoint.Address()).
		PrintColumns("Dialect", device.Dialect.String()).
		PrintColumns("Paper", device.PaperWidth.String()).
		PrintColumns("Time", now.Format("2006-01-02 15:04:05")).
		Separator('-').
		FeedLines(3).
		Cut(true)

	return b.Build()
}

func (c *Client) grace(timeout time.Duration) time.Duration {
	g := time.Duration(c.cfg.GraceWindow)
	if g > timeout {
		return timeout
	}

	return g
}

func writeAll(l link, p []byte) error {
	for len(p) > 0 {
		n, err := l.Write(p)
		if err != nil {
			return err
		}

		if n == 0 {
			return errShortWrite
		}

		p = p[n:]
	}

	return nil
}
