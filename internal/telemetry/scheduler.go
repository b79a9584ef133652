package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = time.Second

// Source produces one FlightState per call. *Poller implements it.
type Source interface {
	Poll(ctx context.Context) (types.FlightState, error)
}

// Sink receives the outcome of every completed poll.
type Sink interface {
	Update(state types.FlightState)
	RecordFailure(err error)
}

// MultiSink fans one poll outcome out to several sinks, in order.
type MultiSink []Sink

func (m MultiSink) Update(state types.FlightState) {
	for _, s := range m {
		s.Update(state)
	}
}

func (m MultiSink) RecordFailure(err error) {
	for _, s := range m {
		s.RecordFailure(err)
	}
}

// SchedulerConfig holds configuration for the Scheduler.
type SchedulerConfig struct {
	Interval time.Duration
}

// Scheduler polls a Source on a fixed interval and feeds a Sink.
// At most one poll is in flight; ticks that arrive while one is running are
// skipped so a hung endpoint never queues up work.
type Scheduler struct {
	source   Source
	sink     Sink
	cfg      SchedulerConfig
	inFlight atomic.Bool
	skipped  atomic.Uint64
}

// NewScheduler creates a Scheduler backed by the given source and sink.
func NewScheduler(source Source, sink Sink, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{source: source, sink: sink, cfg: cfg}
}

// Skipped returns the number of ticks dropped because a poll was in flight.
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}

// Run polls once immediately and then on every tick. It blocks until ctx is
// done and the in-flight poll, if any, has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.dispatch(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.dispatch(ctx, &wg)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, wg *sync.WaitGroup) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		slog.Debug("telemetry: poll still in flight, skipping tick")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.inFlight.Store(false)

		state, err := s.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.sink.RecordFailure(err)
			return
		}
		s.sink.Update(state)
	}()
}
