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

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"

	"github.com/carverauto/posedge/pkg/models"
)

const defaultBaudRate = 19200

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SerialOpener opens a serial port. serial.Open satisfies it.
type SerialOpener func(name string, mode *serial.Mode) (serial.Port, error)

// link is an open byte stream to one device.
type link interface {
	io.ReadWriteCloser
	// readWithin reads into p, giving up after d. Zero bytes and a nil
	// error means nothing arrived in time.
	readWithin(p []byte, d time.Duration) (int, error)
	setWriteDeadline(t time.Time) error
}

type netLink struct {
	net.Conn
}

func (l netLink) readWithin(p []byte, d time.Duration) (int, error) {
	if err := l.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, err
	}

	n, err := l.Read(p)
	if err != nil && classify(err) == KindTimedOut {
		return n, nil
	}

	if errors.Is(err, io.EOF) {
		return n, nil
	}

	return n, err
}

func (l netLink) setWriteDeadline(t time.Time) error {
	return l.SetWriteDeadline(t)
}

type serialLink struct {
	serial.Port
}

func (l serialLink) readWithin(p []byte, d time.Duration) (int, error) {
	if err := l.SetReadTimeout(d); err != nil {
		return 0, err
	}

	return l.Read(p)
}

// Serial ports have no write deadline; Drain after Write bounds delivery.
func (serialLink) setWriteDeadline(time.Time) error { return nil }

func (l serialLink) Write(p []byte) (int, error) {
	n, err := l.Port.Write(p)
	if err != nil {
		return n, err
	}

	return n, l.Drain()
}

type dialOutcome struct {
	l   link
	err error
}

// open connects to ep. The connect races an explicit timer so the call
// returns within timeout even if the platform ignores the dial deadline.
// A connection that completes after the timer fired is closed.
func (c *Client) open(ctx context.Context, op string, ep models.Endpoint, timeout time.Duration) (link, error) {
	addr := ep.Address()

	if err := ep.Validate(); err != nil {
		return nil, newError(op, addr, KindOther, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)

	done := make(chan dialOutcome, 1)

	go func() {
		l, err := c.connect(dialCtx, ep)
		done <- dialOutcome{l: l, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		cancel()

		if out.err != nil {
			return nil, newError(op, addr, classifyDial(out.err), out.err)
		}

		return out.l, nil
	case <-timer.C:
		cancel()
		go c.discard(done)

		return nil, newError(op, addr, KindHostUnreachable,
			fmt.Errorf("%w: connect exceeded %s", ErrTimedOut, timeout))
	case <-ctx.Done():
		cancel()
		go c.discard(done)

		return nil, newError(op, addr, classifyDial(ctx.Err()), ctx.Err())
	}
}

func (c *Client) connect(ctx context.Context, ep models.Endpoint) (link, error) {
	switch ep.Kind {
	case models.ConnectionNetwork:
		conn, err := c.dialer.DialContext(ctx, "tcp", ep.Address())
		if err != nil {
			return nil, err
		}

		return netLink{Conn: conn}, nil
	case models.ConnectionSerial:
		baud := ep.BaudRate
		if baud <= 0 {
			baud = defaultBaudRate
		}

		port, err := c.openSerial(ep.SerialPort, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, err
		}

		return serialLink{Port: port}, nil
	}

	return nil, fmt.Errorf("%w: %s", models.ErrUnknownConnectionKind, ep.Kind)
}

// discard releases a connection that lost the race against the timer.
func (c *Client) discard(done <-chan dialOutcome) {
	out := <-done
	if out.l != nil {
		c.closeQuietly(out.l)
	}
}

func (c *Client) closeQuietly(l link) {
	if err := l.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("failed to close device connection")
	}
}
