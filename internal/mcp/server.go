package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/eytandecker/flightgear-telemetry/internal/hub"
	"github.com/eytandecker/flightgear-telemetry/internal/state"
	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// errAmbiguous is returned when no simulator_id is given but several
// simulators are configured.
var errAmbiguous = errors.New("simulator_id is required when more than one simulator is configured")

// SimulatorInfo describes one configured simulator.
type SimulatorInfo struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Endpoint    types.Endpoint `json:"endpoint"`
	LastUpdated string         `json:"last_updated,omitempty"`
	Failures    int            `json:"consecutive_failures"`
}

// CameraInfo holds the camera addresses of one simulator.
type CameraInfo struct {
	Name          string `json:"name"`
	StillImageURL string `json:"still_image_url"`
	StreamURL     string `json:"stream_url"`
}

// Registry is the view of the simulator hub used by the MCP server.
type Registry interface {
	Simulators() []SimulatorInfo
	// State returns the current state of simulator id and when it was
	// received, or state.ErrNoData, state.ErrStale or hub.ErrNotFound.
	State(id string) (types.FlightState, time.Time, error)
	Camera(id string) (CameraInfo, error)
}

// Server wraps the MCP SDK server and exposes simulator telemetry as tools.
type Server struct {
	sdk *mcpsdk.Server
	reg Registry
}

// NewServer creates a Server and registers its tools.
func NewServer(reg Registry) *Server {
	s := &Server{
		sdk: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "flightgear-telemetry",
			Version: "1.0.0",
		}, nil),
		reg: reg,
	}

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "list_simulators",
		Description: "Lists the configured FlightGear simulators and when each last reported telemetry.",
	}, s.handleListSimulators)
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "get_flight_state",
		Description: "Returns the latest altitude, speed, heading and position reported by a FlightGear simulator.",
	}, s.handleGetFlightState)
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "get_camera",
		Description: "Returns the screenshot and RTSP stream URLs of a FlightGear simulator.",
	}, s.handleGetCamera)
	return s
}

// Run starts the MCP server over stdio and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.sdk.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect connects the server to an existing transport (used in tests).
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.sdk.Connect(ctx, t, nil)
}

type simulatorInput struct {
	SimulatorID string `json:"simulator_id,omitempty"`
}

type listInput struct{}

// FlightStateResponse is the JSON payload returned by get_flight_state.
type FlightStateResponse struct {
	SimulatorID string  `json:"simulator_id"`
	AltitudeFt  float64 `json:"altitude_ft"`
	SpeedKts    float64 `json:"speed_kts"`
	HeadingDeg  float64 `json:"heading_deg"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timestamp   string  `json:"timestamp"`
}

// SimulatorUnavailableResponse is returned when a tool cannot answer.
type SimulatorUnavailableResponse struct {
	Available   bool   `json:"available"`
	Error       string `json:"error"`
	Code        string `json:"code"`
	Recoverable bool   `json:"recoverable"`
	Suggestion  string `json:"suggestion"`
	Timestamp   string `json:"timestamp"`
}

func (s *Server) handleListSimulators(
	ctx context.Context,
	req *mcpsdk.CallToolRequest,
	input listInput,
) (*mcpsdk.CallToolResult, any, error) {
	return textResult(map[string]any{"simulators": s.reg.Simulators()})
}

func (s *Server) handleGetFlightState(
	ctx context.Context,
	req *mcpsdk.CallToolRequest,
	input simulatorInput,
) (*mcpsdk.CallToolResult, any, error) {
	id, err := s.resolve(input.SimulatorID)
	if err != nil {
		return s.errorResult(err), nil, nil
	}
	st, at, err := s.reg.State(id)
	if err != nil {
		return s.errorResult(err), nil, nil
	}
	return textResult(FlightStateResponse{
		SimulatorID: id,
		AltitudeFt:  st.Altitude,
		SpeedKts:    st.Speed,
		HeadingDeg:  st.Heading,
		Latitude:    st.Latitude,
		Longitude:   st.Longitude,
		Timestamp:   at.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetCamera(
	ctx context.Context,
	req *mcpsdk.CallToolRequest,
	input simulatorInput,
) (*mcpsdk.CallToolResult, any, error) {
	id, err := s.resolve(input.SimulatorID)
	if err != nil {
		return s.errorResult(err), nil, nil
	}
	cam, err := s.reg.Camera(id)
	if err != nil {
		return s.errorResult(err), nil, nil
	}
	return textResult(cam)
}

// resolve picks the only configured simulator when id is empty.
func (s *Server) resolve(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	sims := s.reg.Simulators()
	switch len(sims) {
	case 0:
		return "", fmt.Errorf("%w: no simulators configured", hub.ErrNotFound)
	case 1:
		return sims[0].ID, nil
	default:
		return "", errAmbiguous
	}
}

func textResult(v any) (*mcpsdk.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil, nil
}

func (s *Server) errorResult(err error) *mcpsdk.CallToolResult {
	resp := SimulatorUnavailableResponse{
		Available: false,
		Error:     err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	switch {
	case errors.Is(err, state.ErrStale):
		resp.Code = "DATA_STALE"
		resp.Recoverable = true
		resp.Suggestion = "Wait for the simulator to send fresh data."
	case errors.Is(err, state.ErrNoData):
		resp.Code = "NO_DATA"
		resp.Recoverable = true
		resp.Suggestion = "Ensure FlightGear is running with its telnet property server enabled."
	case errors.Is(err, hub.ErrNotFound):
		resp.Code = "SIMULATOR_NOT_CONFIGURED"
		resp.Recoverable = false
		resp.Suggestion = "Call list_simulators for the configured simulator ids."
	case errors.Is(err, errAmbiguous):
		resp.Code = "SIMULATOR_ID_REQUIRED"
		resp.Recoverable = false
		resp.Suggestion = "Pass simulator_id; call list_simulators for the configured ids."
	default:
		resp.Code = "UNKNOWN_ERROR"
		resp.Recoverable = false
		resp.Suggestion = "Check application logs for details."
	}

	data, _ := json.Marshal(resp)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		IsError: true,
	}
}
