package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultBufferSize = 1024
)

// PollerConfig holds configuration for the Poller.
type PollerConfig struct {
	// Timeout bounds the dial and the read separately.
	Timeout    time.Duration
	BufferSize int
}

// DefaultPollerConfig returns a PollerConfig with sensible defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Timeout: DefaultTimeout, BufferSize: DefaultBufferSize}
}

// Poller performs one connect-read-decode-close cycle per Poll call.
// It holds no connection state between calls and is safe for concurrent use.
type Poller struct {
	endpoint types.Endpoint
	cfg      PollerConfig
}

// NewPoller creates a Poller for the given endpoint. Zero config fields take
// their defaults.
func NewPoller(ep types.Endpoint, cfg PollerConfig) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Poller{endpoint: ep, cfg: cfg}
}

// Endpoint returns the endpoint the poller was built for.
func (p *Poller) Endpoint() types.Endpoint {
	return p.endpoint
}

// Poll opens a fresh connection to the telnet port, reads once and decodes
// the record. Failures wrap one of the taxonomy sentinels.
func (p *Poller) Poll(ctx context.Context) (types.FlightState, error) {
	addr := p.endpoint.TelnetAddr()
	dialer := net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return types.FlightState{}, fmt.Errorf("%w: dial %s: %w", classify(err), addr, err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.Timeout)); err != nil {
		return types.FlightState{}, fmt.Errorf("%w: set deadline %s: %w", ErrUnknown, addr, err)
	}

	// Unblock the read if ctx ends first.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, p.cfg.BufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return types.FlightState{}, fmt.Errorf("%w: no data received from %s", ErrConnectionClosed, addr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return types.FlightState{}, fmt.Errorf("%w: read %s: %w", classify(err), addr, err)
	}

	return Decode(selectRecord(buf[:n]))
}
