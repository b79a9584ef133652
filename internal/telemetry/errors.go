package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	ErrTimeout           = errors.New("telemetry: timeout")
	ErrConnectionRefused = errors.New("telemetry: connection refused")
	ErrAddressUnresolved = errors.New("telemetry: address unresolved")
	ErrConnectionClosed  = errors.New("telemetry: connection closed")
	ErrDecode            = errors.New("telemetry: decode error")
	ErrUnknown           = errors.New("telemetry: unknown error")
	ErrInvalidField      = errors.New("telemetry: invalid field")
)

// Kind returns a stable code naming the failure class of err, for logs and
// metrics. A nil error is "ok".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionRefused):
		return "connection_refused"
	case errors.Is(err, ErrAddressUnresolved):
		return "address_unresolved"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	default:
		return "unknown"
	}
}

// classify maps a transport error onto one of the taxonomy sentinels.
func classify(err error) error {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		return ErrAddressUnresolved
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnectionRefused
	case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET):
		return ErrConnectionClosed
	default:
		return ErrUnknown
	}
}
