// Package hub owns the set of configured simulator connections. Each
// connection polls its simulator on a schedule and fans every result out to
// its state cache, sensors and optional recorder.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eytandecker/flightgear-telemetry/internal/camera"
	"github.com/eytandecker/flightgear-telemetry/internal/config"
	"github.com/eytandecker/flightgear-telemetry/internal/metrics"
	"github.com/eytandecker/flightgear-telemetry/internal/recorder"
	"github.com/eytandecker/flightgear-telemetry/internal/sensor"
	"github.com/eytandecker/flightgear-telemetry/internal/state"
	"github.com/eytandecker/flightgear-telemetry/internal/telemetry"
	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

var (
	ErrAlreadyConfigured = errors.New("hub: simulator already configured")
	ErrNotFound          = errors.New("hub: simulator not found")
)

const (
	defaultRetryMin = time.Second
	defaultRetryMax = 30 * time.Second
)

// Options configures every connection created by a Hub.
type Options struct {
	Polling config.PollingConfig
	Camera  camera.Config

	// Metrics and Recorder are optional.
	Metrics  *metrics.Collector
	Recorder *recorder.Recorder

	// RetryMin and RetryMax bound the backoff between failed setups.
	RetryMin time.Duration
	RetryMax time.Duration
}

// Connection is one running simulator.
type Connection struct {
	Entry   config.SimulatorConfig
	Device  types.DeviceInfo
	Poller  *telemetry.Poller
	State   *state.Manager
	Sensors []*sensor.Sensor
	Camera  *camera.Camera

	// managed connections come from Reconcile; only they are removed by it.
	managed   bool
	scheduler *telemetry.Scheduler
	cancel    context.CancelFunc
	done      chan struct{}
}

// ID returns the connection identity.
func (c *Connection) ID() string { return c.Entry.Key() }

// Sensor returns the sensor for field key.
func (c *Connection) Sensor(key string) (*sensor.Sensor, bool) {
	for _, s := range c.Sensors {
		if s.Key() == key {
			return s, true
		}
	}
	return nil, false
}

// SkippedTicks returns how many polling ticks were dropped because the
// previous poll had not finished.
func (c *Connection) SkippedTicks() uint64 { return c.scheduler.Skipped() }

func (c *Connection) stop() {
	c.cancel()
	<-c.done
}

// Hub is the registry of running connections, keyed by Connection.ID.
type Hub struct {
	opts   Options
	fields *telemetry.FieldRegistry
	// firstPoll runs the setup poll; replaced in tests.
	firstPoll func(ctx context.Context, src telemetry.Source) (types.FlightState, error)

	mu      sync.RWMutex
	conns   map[string]*Connection
	pending map[string]*retry
	wg      sync.WaitGroup
}

type retry struct {
	entry  config.SimulatorConfig
	cancel context.CancelFunc
}

// New creates an empty Hub.
func New(opts Options) *Hub {
	if opts.RetryMin <= 0 {
		opts.RetryMin = defaultRetryMin
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = max(defaultRetryMax, opts.RetryMin)
	}
	return &Hub{
		opts:   opts,
		fields: telemetry.NewFieldRegistry(),
		firstPoll: func(ctx context.Context, src telemetry.Source) (types.FlightState, error) {
			return src.Poll(ctx)
		},
		conns:   make(map[string]*Connection),
		pending: make(map[string]*retry),
	}
}

// Setup polls the simulator once and, if it answers with a valid record,
// registers the connection and starts polling it. A failed first poll returns an
// error matching types.ErrCannotConnect; the specific failure kind is in its
// chain.
func (h *Hub) Setup(ctx context.Context, entry config.SimulatorConfig) (*Connection, error) {
	return h.setup(ctx, entry, false)
}

func (h *Hub) setup(ctx context.Context, entry config.SimulatorConfig, managed bool) (*Connection, error) {
	id := entry.Key()

	h.mu.RLock()
	_, exists := h.conns[id]
	h.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConfigured, id)
	}

	poller := telemetry.NewPoller(entry.Endpoint, telemetry.PollerConfig{
		Timeout:    h.opts.Polling.Timeout,
		BufferSize: h.opts.Polling.BufferSize,
	})
	var source telemetry.Source = poller
	if h.opts.Metrics != nil {
		source = h.opts.Metrics.Instrument(id, poller)
	}

	first, err := h.firstPoll(ctx, source)
	if err != nil {
		slog.Warn("hub: setup poll failed", "simulator", id, "addr", entry.TelnetAddr(), "kind", telemetry.Kind(err), "err", err)
		return nil, &types.SimulatorError{
			Endpoint:    entry.Endpoint,
			Err:         err,
			Message:     "setup poll failed",
			Recoverable: true,
		}
	}

	conn := &Connection{
		Entry:   entry,
		Device:  types.NewDeviceInfo(entry.Host),
		Poller:  poller,
		State:   state.NewManager(h.opts.Polling.StaleThreshold),
		Sensors: sensor.NewSet(entry.Name, entry.Host, h.opts.Polling.UnavailableAfter),
		Camera:  camera.New(entry.Name, entry.Endpoint, h.opts.Camera),
		managed: managed,
		done:    make(chan struct{}),
	}

	sinks := telemetry.MultiSink{conn.State, &logSink{id: id}}
	for _, s := range conn.Sensors {
		sinks = append(sinks, s)
	}
	if h.opts.Recorder != nil {
		sinks = append(sinks, h.opts.Recorder.Sink(id))
	}
	conn.scheduler = telemetry.NewScheduler(source, sinks, telemetry.SchedulerConfig{Interval: h.opts.Polling.Interval})
	runCtx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel

	h.mu.Lock()
	if _, exists := h.conns[id]; exists {
		h.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConfigured, id)
	}
	// A setup cancelled during the first poll must not register.
	if err := ctx.Err(); err != nil {
		h.mu.Unlock()
		cancel()
		return nil, err
	}
	h.conns[id] = conn
	h.mu.Unlock()

	sinks.Update(first)

	go func() {
		defer close(conn.done)
		_ = conn.scheduler.Run(runCtx)
	}()

	slog.Info("hub: simulator configured", "simulator", id, "name", entry.Name, "addr", entry.TelnetAddr())
	return conn, nil
}

// SetupWithRetry calls Setup until it succeeds, the simulator turns out to
// be configured already, or ctx is done. Failed attempts back off
// exponentially between Options.RetryMin and Options.RetryMax.
func (h *Hub) SetupWithRetry(ctx context.Context, entry config.SimulatorConfig) (*Connection, error) {
	return h.setupWithRetry(ctx, entry, false)
}

func (h *Hub) setupWithRetry(ctx context.Context, entry config.SimulatorConfig, managed bool) (*Connection, error) {
	backoff := h.opts.RetryMin

	for {
		conn, err := h.setup(ctx, entry, managed)
		if err == nil || errors.Is(err, ErrAlreadyConfigured) {
			return conn, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Info("hub: simulator not ready", "simulator", entry.Key(), "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > h.opts.RetryMax {
			backoff = h.opts.RetryMax
		}
	}
}

// Get returns the connection with the given id.
func (h *Hub) Get(id string) (*Connection, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conn, nil
}

// List returns all connections ordered by id.
func (h *Hub) List() []*Connection {
	h.mu.RLock()
	out := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Pending returns the ids of simulators still waiting for a successful setup.
func (h *Hub) Pending() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.pending))
	for id := range h.pending {
		out = append(out, id)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Latest returns the most recent successfully decoded value of field for
// simulator id. ok is false if no poll has succeeded yet.
func (h *Hub) Latest(id, field string) (value float64, ok bool, err error) {
	conn, err := h.Get(id)
	if err != nil {
		return 0, false, err
	}
	if err := h.fields.Validate(field); err != nil {
		return 0, false, err
	}
	s, ok := conn.State.Latest()
	if !ok {
		return 0, false, nil
	}
	v, _ := s.Field(field)
	return v, true, nil
}

// Remove stops polling simulator id and drops it from the hub.
func (h *Hub) Remove(id string) error {
	h.mu.Lock()
	conn, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	h.stopConn(conn)
	return nil
}

// removeConn removes conn if it is still the registered connection for its id.
func (h *Hub) removeConn(conn *Connection) {
	id := conn.ID()
	h.mu.Lock()
	current, ok := h.conns[id]
	if ok && current == conn {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if ok && current == conn {
		h.stopConn(conn)
	}
}

func (h *Hub) stopConn(conn *Connection) {
	id := conn.ID()
	conn.stop()
	if h.opts.Metrics != nil {
		h.opts.Metrics.Remove(id)
	}
	slog.Info("hub: simulator removed", "simulator", id)
}

// Reconcile brings the hub in line with entries: connections it created
// earlier that are no longer listed or whose settings changed are removed,
// and listed entries without a connection are set up in the background with
// retry. Connections added through Setup are left alone.
func (h *Hub) Reconcile(ctx context.Context, entries []config.SimulatorConfig) {
	wanted := make(map[string]config.SimulatorConfig, len(entries))
	for _, e := range entries {
		wanted[e.Key()] = e
	}

	h.mu.Lock()
	var stale []*Connection
	for id, conn := range h.conns {
		if !conn.managed {
			continue
		}
		if e, ok := wanted[id]; !ok || e != conn.Entry {
			stale = append(stale, conn)
		}
	}
	for id, r := range h.pending {
		if e, ok := wanted[id]; !ok || e != r.entry {
			r.cancel()
			delete(h.pending, id)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		h.removeConn(conn)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, e := range wanted {
		if _, ok := h.conns[id]; ok {
			continue
		}
		if _, ok := h.pending[id]; ok {
			continue
		}
		rctx, cancel := context.WithCancel(ctx)
		r := &retry{entry: e, cancel: cancel}
		h.pending[id] = r

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer cancel()
			_, err := h.setupWithRetry(rctx, e, true)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrAlreadyConfigured) {
				slog.Error("hub: setup abandoned", "simulator", id, "err", err)
			}
			h.mu.Lock()
			if h.pending[id] == r {
				delete(h.pending, id)
			}
			h.mu.Unlock()
		}()
	}
}

// Close cancels pending setups and removes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, r := range h.pending {
		r.cancel()
		delete(h.pending, id)
	}
	h.mu.Unlock()
	h.wg.Wait()

	for _, c := range h.List() {
		_ = h.Remove(c.ID())
	}
}

// logSink logs poll failures at warn and the first success after them.
type logSink struct {
	id      string
	mu      sync.Mutex
	failing bool
}

func (l *logSink) Update(types.FlightState) {
	l.mu.Lock()
	recovered := l.failing
	l.failing = false
	l.mu.Unlock()
	if recovered {
		slog.Info("telemetry: simulator recovered", "simulator", l.id)
	}
}

func (l *logSink) RecordFailure(err error) {
	l.mu.Lock()
	l.failing = true
	l.mu.Unlock()
	slog.Warn("telemetry: poll failed", "simulator", l.id, "kind", telemetry.Kind(err), "err", err)
}
