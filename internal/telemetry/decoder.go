package telemetry

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// recordFields is the number of comma-separated values in one record.
const recordFields = 5

// Decode parses one raw record of the form
// "altitude,speed,heading,latitude,longitude" into a FlightState.
// Every failure wraps ErrDecode; no partially populated state is returned.
func Decode(raw []byte) (types.FlightState, error) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return types.FlightState{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	parts := strings.Split(line, ",")
	if len(parts) != recordFields {
		return types.FlightState{}, fmt.Errorf("%w: got %d fields, need %d", ErrDecode, len(parts), recordFields)
	}

	var vals [recordFields]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return types.FlightState{}, fmt.Errorf("%w: field %s: %q is not a number", ErrDecode, types.FieldNames[i], p)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.FlightState{}, fmt.Errorf("%w: field %s: %q is not finite", ErrDecode, types.FieldNames[i], p)
		}
		vals[i] = v
	}

	return types.FlightState{
		Altitude:  vals[0],
		Speed:     vals[1],
		Heading:   vals[2],
		Latitude:  vals[3],
		Longitude: vals[4],
	}, nil
}

// selectRecord picks the record to decode from one read. When the buffer
// holds several lines, the last newline-terminated one wins and a trailing
// fragment is ignored; a buffer without a complete line is used as is.
func selectRecord(buf []byte) []byte {
	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return buf
	}
	complete := buf[:end]
	for len(complete) > 0 {
		start := bytes.LastIndexByte(complete, '\n')
		line := bytes.TrimSpace(complete[start+1:])
		if len(line) > 0 {
			return line
		}
		if start < 0 {
			break
		}
		complete = complete[:start]
	}
	return buf
}
