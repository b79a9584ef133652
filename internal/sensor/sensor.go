// Package sensor exposes single fields of the polled flight state as
// observable values that keep their last good reading across failed polls.
package sensor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eytandecker/flightgear-telemetry/internal/telemetry"
	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// Reading is a point-in-time view of a sensor.
type Reading struct {
	UniqueID    string             `json:"unique_id"`
	Name        string             `json:"name"`
	Key         string             `json:"key"`
	Value       *float64           `json:"value"`
	Unit        string             `json:"unit"`
	DeviceClass string             `json:"device_class,omitempty"`
	StateClass  string             `json:"state_class,omitempty"`
	Available   bool               `json:"available"`
	UpdatedAt   *time.Time         `json:"updated_at,omitempty"`
	Attributes  map[string]float64 `json:"attributes,omitempty"`
}

// Sensor tracks one field of the flight state.
type Sensor struct {
	def              telemetry.FieldDef
	uniqueID         string
	name             string
	unavailableAfter int

	mu        sync.RWMutex
	value     float64
	hasValue  bool
	attrs     types.FlightState
	updatedAt time.Time
	failures  int
}

// New creates a sensor for def on the simulator named entryName at host.
// After unavailableAfter consecutive failures the sensor reports itself
// unavailable; zero disables that.
func New(entryName, host string, def telemetry.FieldDef, unavailableAfter int) *Sensor {
	return &Sensor{
		def:              def,
		uniqueID:         host + "_" + def.Key,
		name:             entryName + " " + def.Name,
		unavailableAfter: unavailableAfter,
	}
}

// NewSet creates one sensor per entry of telemetry.SensorFields.
func NewSet(entryName, host string, unavailableAfter int) []*Sensor {
	out := make([]*Sensor, 0, len(telemetry.SensorFields))
	for _, def := range telemetry.SensorFields {
		out = append(out, New(entryName, host, def, unavailableAfter))
	}
	return out
}

func (s *Sensor) UniqueID() string { return s.uniqueID }

func (s *Sensor) Name() string { return s.name }

func (s *Sensor) Key() string { return s.def.Key }

// Update takes the sensor's field from state.
func (s *Sensor) Update(state types.FlightState) {
	v, ok := state.Field(s.def.Key)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.hasValue = true
	s.attrs = state
	s.updatedAt = time.Now()
	s.failures = 0
}

// RecordFailure counts a failed poll; the previous value is kept.
func (s *Sensor) RecordFailure(err error) {
	s.mu.Lock()
	s.failures++
	n := s.failures
	s.mu.Unlock()
	slog.Debug("sensor: keeping previous value", "sensor", s.uniqueID, "failures", n, "kind", telemetry.Kind(err))
}

// Value returns the last good reading, and false before the first one.
func (s *Sensor) Value() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.hasValue
}

// Available reports whether the sensor has a value and has not exceeded its
// consecutive failure budget.
func (s *Sensor) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availableLocked()
}

func (s *Sensor) availableLocked() bool {
	if !s.hasValue {
		return false
	}
	return s.unavailableAfter <= 0 || s.failures < s.unavailableAfter
}

// Reading returns a snapshot of the sensor.
func (s *Sensor) Reading() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := Reading{
		UniqueID:    s.uniqueID,
		Name:        s.name,
		Key:         s.def.Key,
		Unit:        s.def.Unit,
		DeviceClass: s.def.DeviceClass,
		StateClass:  s.def.StateClass,
		Available:   s.availableLocked(),
	}
	if s.hasValue {
		v, at := s.value, s.updatedAt
		r.Value = &v
		r.UpdatedAt = &at
		r.Attributes = s.attrs.Map()
	}
	return r
}
