// Package metrics keeps per-simulator poll counters and the latest flight
// state, and serves them in the Prometheus text exposition format.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/eytandecker/flightgear-telemetry/internal/telemetry"
	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

const (
	namePolls       = "flightgear_polls_total"
	nameDuration    = "flightgear_poll_duration_seconds"
	nameLastSuccess = "flightgear_last_success_timestamp_seconds"
	nameState       = "flightgear_flight_state"
)

type simMetrics struct {
	polls       map[string]float64
	durSum      float64
	durCount    uint64
	lastSuccess time.Time
	state       types.FlightState
	hasState    bool
}

// Collector accumulates metrics for every simulator. It is safe for
// concurrent use.
type Collector struct {
	mu   sync.Mutex
	sims map[string]*simMetrics
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{sims: make(map[string]*simMetrics)}
}

func (c *Collector) sim(id string) *simMetrics {
	m, ok := c.sims[id]
	if !ok {
		m = &simMetrics{polls: make(map[string]float64)}
		c.sims[id] = m
	}
	return m
}

// ObservePoll records the outcome and duration of one poll of simulator id.
func (c *Collector) ObservePoll(id string, d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.sim(id)
	m.polls[telemetry.Kind(err)]++
	m.durSum += d.Seconds()
	m.durCount++
	if err == nil {
		m.lastSuccess = time.Now()
	}
}

// SetState records the latest decoded state of simulator id.
func (c *Collector) SetState(id string, s types.FlightState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.sim(id)
	m.state = s
	m.hasState = true
}

// Remove drops every series of simulator id.
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sims, id)
}

// Families snapshots the collected metrics, sorted by name and simulator.
func (c *Collector) Families() []*dto.MetricFamily {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.sims))
	for id := range c.sims {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	polls := family(namePolls, "Completed polls by result.", dto.MetricType_COUNTER)
	dur := family(nameDuration, "Time spent in completed polls.", dto.MetricType_SUMMARY)
	last := family(nameLastSuccess, "Unix time of the last successful poll.", dto.MetricType_GAUGE)
	state := family(nameState, "Latest decoded flight state field.", dto.MetricType_GAUGE)

	for _, id := range ids {
		m := c.sims[id]

		results := make([]string, 0, len(m.polls))
		for r := range m.polls {
			results = append(results, r)
		}
		sort.Strings(results)
		for _, r := range results {
			polls.Metric = append(polls.Metric, &dto.Metric{
				Label:   labels("simulator", id, "result", r),
				Counter: &dto.Counter{Value: ptr(m.polls[r])},
			})
		}

		dur.Metric = append(dur.Metric, &dto.Metric{
			Label:   labels("simulator", id),
			Summary: &dto.Summary{SampleCount: ptr(m.durCount), SampleSum: ptr(m.durSum)},
		})

		if !m.lastSuccess.IsZero() {
			last.Metric = append(last.Metric, &dto.Metric{
				Label: labels("simulator", id),
				Gauge: &dto.Gauge{Value: ptr(float64(m.lastSuccess.UnixNano()) / 1e9)},
			})
		}

		if m.hasState {
			for _, name := range types.FieldNames {
				v, _ := m.state.Field(name)
				state.Metric = append(state.Metric, &dto.Metric{
					Label: labels("simulator", id, "field", name),
					Gauge: &dto.Gauge{Value: ptr(v)},
				})
			}
		}
	}

	out := make([]*dto.MetricFamily, 0, 4)
	for _, mf := range []*dto.MetricFamily{last, state, dur, polls} {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

// Handler serves the collected metrics in the text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range c.Families() {
			if err := enc.Encode(mf); err != nil {
				slog.Error("metrics: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

// Instrument wraps src so that every poll is observed under simulator id.
func (c *Collector) Instrument(id string, src telemetry.Source) telemetry.Source {
	return &instrumented{id: id, src: src, c: c}
}

type instrumented struct {
	id  string
	src telemetry.Source
	c   *Collector
}

func (i *instrumented) Poll(ctx context.Context) (types.FlightState, error) {
	start := time.Now()
	s, err := i.src.Poll(ctx)
	i.c.ObservePoll(i.id, time.Since(start), err)
	if err == nil {
		i.c.SetState(i.id, s)
	}
	return s, err
}

func family(name, help string, t dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{Name: ptr(name), Help: ptr(help), Type: t.Enum()}
}

func labels(kv ...string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: ptr(kv[i]), Value: ptr(kv[i+1])})
	}
	return out
}

func ptr[T any](v T) *T { return &v }
