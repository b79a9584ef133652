package types

import (
	"fmt"
	"net"
	"strconv"
)

// FlightState is one decoded telemetry record. Values are in the
// simulator's native units: feet, knots and degrees.
type FlightState struct {
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Field names in wire order.
const (
	FieldAltitude  = "altitude"
	FieldSpeed     = "speed"
	FieldHeading   = "heading"
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
)

// FieldNames is the fixed field order of a telemetry record.
var FieldNames = []string{FieldAltitude, FieldSpeed, FieldHeading, FieldLatitude, FieldLongitude}

// Field returns the value of the named field.
func (s FlightState) Field(name string) (float64, bool) {
	switch name {
	case FieldAltitude:
		return s.Altitude, true
	case FieldSpeed:
		return s.Speed, true
	case FieldHeading:
		return s.Heading, true
	case FieldLatitude:
		return s.Latitude, true
	case FieldLongitude:
		return s.Longitude, true
	default:
		return 0, false
	}
}

// Map returns every field keyed by name.
func (s FlightState) Map() map[string]float64 {
	return map[string]float64{
		FieldAltitude:  s.Altitude,
		FieldSpeed:     s.Speed,
		FieldHeading:   s.Heading,
		FieldLatitude:  s.Latitude,
		FieldLongitude: s.Longitude,
	}
}

// Endpoint describes where the simulator's telnet, HTTP and RTSP services live.
type Endpoint struct {
	Host       string `json:"host" yaml:"host"`
	TelnetPort int    `json:"telnet_port" yaml:"telnet_port"`
	HTTPPort   int    `json:"http_port" yaml:"http_port"`
	RTSPPort   int    `json:"rtsp_port" yaml:"rtsp_port"`
}

// TelnetAddr returns the host:port dial address of the telemetry feed.
func (e Endpoint) TelnetAddr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.TelnetPort))
}

// StillImageURL returns the screenshot URL served by the simulator's HTTP server.
func (e Endpoint) StillImageURL() string {
	return fmt.Sprintf("http://%s/screenshot", net.JoinHostPort(e.Host, strconv.Itoa(e.HTTPPort)))
}

// StreamURL returns the RTSP stream URL.
func (e Endpoint) StreamURL() string {
	return fmt.Sprintf("rtsp://%s/flightgear", net.JoinHostPort(e.Host, strconv.Itoa(e.RTSPPort)))
}

func (e Endpoint) String() string {
	return e.TelnetAddr()
}
