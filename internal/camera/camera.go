// Package camera proxies the simulator's screenshot endpoint and exposes its
// RTSP stream address.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMinInterval = 500 * time.Millisecond

	// DefaultMaxImageBytes caps the size of a screenshot read into memory.
	DefaultMaxImageBytes = 16 << 20
)

// ErrUnavailable wraps every failure to fetch a still image.
var ErrUnavailable = errors.New("camera: image unavailable")

// Config holds camera settings.
type Config struct {
	Timeout time.Duration
	// MinInterval is the minimum spacing between screenshot requests sent
	// to the simulator. Rendering a screenshot stalls the simulator's frame.
	MinInterval time.Duration
	// MaxImageBytes rejects larger screenshots instead of truncating them.
	MaxImageBytes int64
}

// Image is one still frame.
type Image struct {
	Data        []byte
	ContentType string
}

// Camera fetches still images from one simulator.
type Camera struct {
	endpoint types.Endpoint
	uniqueID string
	name     string
	client   *http.Client
	limiter  *rate.Limiter
	maxBytes int64
}

// New creates a camera for the simulator named entryName.
func New(entryName string, ep types.Endpoint, cfg Config) *Camera {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Camera{
		endpoint: ep,
		uniqueID: ep.Host + "_camera",
		name:     entryName + " View",
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		maxBytes: cfg.MaxImageBytes,
	}
}

func (c *Camera) UniqueID() string { return c.uniqueID }

func (c *Camera) Name() string { return c.name }

// StillImageURL returns the screenshot URL.
func (c *Camera) StillImageURL() string { return c.endpoint.StillImageURL() }

// StreamSource returns the RTSP stream URL.
func (c *Camera) StreamSource() string { return c.endpoint.StreamURL() }

// Image fetches the current screenshot. Requests are spaced at least
// MinInterval apart; callers wait their turn or give up with ctx.
func (c *Camera) Image(ctx context.Context) (*Image, error) {
	img, err := c.fetch(ctx)
	if err != nil {
		slog.Error("camera: error getting camera image", "camera", c.uniqueID, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return img, nil
}

func (c *Camera) fetch(ctx context.Context) (*Image, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	url := c.StillImageURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("image from %s exceeds %d bytes", url, c.maxBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Image{Data: data, ContentType: ct}, nil
}
