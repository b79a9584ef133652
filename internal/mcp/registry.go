package mcp

import (
	"time"

	"github.com/eytandecker/flightgear-telemetry/internal/hub"
	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// HubRegistry adapts a *hub.Hub to Registry.
type HubRegistry struct {
	Hub *hub.Hub
}

func (r HubRegistry) Simulators() []SimulatorInfo {
	conns := r.Hub.List()
	out := make([]SimulatorInfo, 0, len(conns))
	for _, c := range conns {
		info := SimulatorInfo{
			ID:       c.ID(),
			Name:     c.Entry.Name,
			Endpoint: c.Entry.Endpoint,
			Failures: c.State.Failures(),
		}
		if at := c.State.LastUpdated(); !at.IsZero() {
			info.LastUpdated = at.UTC().Format(time.RFC3339)
		}
		out = append(out, info)
	}
	return out
}

func (r HubRegistry) State(id string) (types.FlightState, time.Time, error) {
	c, err := r.Hub.Get(id)
	if err != nil {
		return types.FlightState{}, time.Time{}, err
	}
	st, err := c.State.Current()
	if err != nil {
		return types.FlightState{}, time.Time{}, err
	}
	return st, c.State.LastUpdated(), nil
}

func (r HubRegistry) Camera(id string) (CameraInfo, error) {
	c, err := r.Hub.Get(id)
	if err != nil {
		return CameraInfo{}, err
	}
	return CameraInfo{
		Name:          c.Camera.Name(),
		StillImageURL: c.Camera.StillImageURL(),
		StreamURL:     c.Camera.StreamSource(),
	}, nil
}
