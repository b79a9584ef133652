package telemetry

import (
	"fmt"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// FieldDef describes one exposed telemetry field.
type FieldDef struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
}

// Predefined field definitions.
var (
	Altitude = FieldDef{
		Key:         types.FieldAltitude,
		Name:        "Altitude",
		Unit:        "ft",
		DeviceClass: "distance",
		StateClass:  "measurement",
	}
	Speed = FieldDef{
		Key:         types.FieldSpeed,
		Name:        "Speed",
		Unit:        "kn",
		DeviceClass: "speed",
		StateClass:  "measurement",
	}
	Heading = FieldDef{
		Key:        types.FieldHeading,
		Name:       "Heading",
		Unit:       "°",
		StateClass: "measurement",
	}
	Latitude = FieldDef{
		Key:  types.FieldLatitude,
		Name: "Latitude",
		Unit: "°",
	}
	Longitude = FieldDef{
		Key:  types.FieldLongitude,
		Name: "Longitude",
		Unit: "°",
	}
)

// SensorFields is the set of fields published as sensors.
var SensorFields = []FieldDef{Altitude, Speed, Heading}

// FieldRegistry holds the allowlist of readable fields.
type FieldRegistry struct {
	fields map[string]FieldDef
}

// NewFieldRegistry creates a registry with all record fields.
func NewFieldRegistry() *FieldRegistry {
	r := &FieldRegistry{fields: make(map[string]FieldDef)}
	for _, f := range []FieldDef{Altitude, Speed, Heading, Latitude, Longitude} {
		r.fields[f.Key] = f
	}
	return r
}

// Get returns the FieldDef for the given key, if it exists.
func (r *FieldRegistry) Get(key string) (FieldDef, bool) {
	def, ok := r.fields[key]
	return def, ok
}

// Validate checks if a field key is in the allowlist.
func (r *FieldRegistry) Validate(key string) error {
	if _, ok := r.fields[key]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidField, key)
	}
	return nil
}
