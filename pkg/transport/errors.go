package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"go.bug.st/serial"
)

var (
	// ErrNetworkUnavailable matches every transport failure caused by the
	// device being unreachable, refusing, or not answering in time.
	ErrNetworkUnavailable = errors.New("network unavailable")

	ErrHostUnreachable   = errors.New("host unreachable")
	ErrConnectionRefused = errors.New("connection refused")
	ErrTimedOut          = errors.New("timed out")

	ErrNoStatusResponse = errors.New("no status response")
	ErrNoCashDrawer     = errors.New("device has no cash drawer")
	ErrNoBuzzer         = errors.New("device has no buzzer")
	ErrDeviceDisabled   = errors.New("device is disabled")
	errShortWrite       = errors.New("short write")
)

// Kind classifies a transport failure.
type Kind int

const (
	KindOther Kind = iota
	KindHostUnreachable
	KindConnectionRefused
	KindTimedOut
)

func (k Kind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindHostUnreachable:
		return "host_unreachable"
	case KindConnectionRefused:
		return "connection_refused"
	case KindTimedOut:
		return "timed_out"
	}

	return "other"
}

// Error is returned by every Client operation that touches a device.
type Error struct {
	Op   string
	Addr string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Addr, e.Kind)
	}

	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Addr, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetworkUnavailable:
		return e.Kind != KindOther
	case ErrHostUnreachable:
		return e.Kind == KindHostUnreachable
	case ErrConnectionRefused:
		return e.Kind == KindConnectionRefused
	case ErrTimedOut:
		return e.Kind == KindTimedOut
	}

	return false
}

// KindOf reports the Kind of err, or KindOther when err is not an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}

	return KindOther
}

func newError(op, addr string, kind Kind, err error) *Error {
	return &Error{Op: op, Addr: addr, Kind: kind, Err: err}
}

// classifyDial maps a connect-phase failure. A connect that never completes
// means the host was not reached, so deadline expiry is HostUnreachable here.
func classifyDial(err error) Kind {
	switch k := classify(err); k {
	case KindTimedOut:
		return KindHostUnreachable
	default:
		return k
	}
}

func classify(err error) Kind {
	var (
		dnsErr *net.DNSError
		netErr net.Error
	)

	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return KindHostUnreachable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimedOut
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return KindTimedOut
		}

		return KindHostUnreachable
	case isSerialPortMissing(err):
		return KindHostUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimedOut
	}

	return KindOther
}

func isSerialPortMissing(err error) bool {
	var (
		byValue   serial.PortError
		byPointer *serial.PortError
	)

	switch {
	case errors.As(err, &byValue):
		return byValue.Code() == serial.PortNotFound
	case errors.As(err, &byPointer):
		return byPointer.Code() == serial.PortNotFound
	}

	return false
}
