// Package api serves the simulator registry over HTTP: connection
// management, latest values, camera stills, a websocket state stream and
// Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eytandecker/flightgear-telemetry/internal/camera"
	"github.com/eytandecker/flightgear-telemetry/internal/config"
	"github.com/eytandecker/flightgear-telemetry/internal/hub"
	"github.com/eytandecker/flightgear-telemetry/internal/sensor"
	"github.com/eytandecker/flightgear-telemetry/internal/state"
	"github.com/eytandecker/flightgear-telemetry/internal/telemetry"
	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// Error codes returned in the "error" field of failed requests.
const (
	codeCannotConnect     = "cannot_connect"
	codeAlreadyConfigured = "already_configured"
	codeNotFound          = "not_found"
	codeInvalidField      = "invalid_field"
	codeInvalidRequest    = "invalid_request"
	codeCameraUnavailable = "camera_unavailable"
	codeUnknown           = "unknown"
)

// Server routes HTTP requests to a hub.
type Server struct {
	hub     *hub.Hub
	metrics http.Handler
	router  chi.Router
}

// NewServer builds the router. metrics may be nil to disable /metrics.
func NewServer(h *hub.Hub, metrics http.Handler) *Server {
	s := &Server{hub: h, metrics: metrics, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1/simulators", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/sensors/{field}", s.handleSensor)
			r.Get("/camera", s.handleCamera)
			r.Get("/camera/image", s.handleCameraImage)
			r.Get("/stream", s.handleStream)
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type cameraView struct {
	UniqueID      string `json:"unique_id"`
	Name          string `json:"name"`
	StillImageURL string `json:"still_image_url"`
	StreamSource  string `json:"stream_source"`
}

type simulatorView struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Endpoint      types.Endpoint     `json:"endpoint"`
	Device        types.DeviceInfo   `json:"device"`
	State         *types.FlightState `json:"state"`
	LastUpdated   *time.Time         `json:"last_updated,omitempty"`
	Stale         bool               `json:"stale"`
	Failures      int                `json:"failures"`
	LastError     string             `json:"last_error,omitempty"`
	LastErrorKind string             `json:"last_error_kind,omitempty"`
	SkippedTicks  uint64             `json:"skipped_ticks"`
	Sensors       []sensor.Reading   `json:"sensors"`
	Camera        cameraView         `json:"camera"`
}

func newCameraView(c *camera.Camera) cameraView {
	return cameraView{
		UniqueID:      c.UniqueID(),
		Name:          c.Name(),
		StillImageURL: c.StillImageURL(),
		StreamSource:  c.StreamSource(),
	}
}

func newSimulatorView(c *hub.Connection) simulatorView {
	v := simulatorView{
		ID:           c.ID(),
		Title:        c.Entry.Name,
		Endpoint:     c.Entry.Endpoint,
		Device:       c.Device,
		Failures:     c.State.Failures(),
		SkippedTicks: c.SkippedTicks(),
		Sensors:      make([]sensor.Reading, 0, len(c.Sensors)),
		Camera:       newCameraView(c.Camera),
	}
	if st, ok := c.State.Latest(); ok {
		at := c.State.LastUpdated()
		v.State = &st
		v.LastUpdated = &at
		_, err := c.State.Current()
		v.Stale = errors.Is(err, state.ErrStale)
	}
	if err := c.State.LastError(); err != nil {
		v.LastError = err.Error()
		v.LastErrorKind = telemetry.Kind(err)
	}
	for _, s := range c.Sensors {
		v.Sensors = append(v.Sensors, s.Reading())
	}
	return v
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	conns := s.hub.List()
	views := make([]simulatorView, 0, len(conns))
	for _, c := range conns {
		views = append(views, newSimulatorView(c))
	}
	jsonResp(w, http.StatusOK, map[string]any{
		"simulators": views,
		"pending":    s.hub.Pending(),
	})
}

type createRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	TelnetPort int    `json:"telnet_port"`
	HTTPPort   int    `json:"http_port"`
	RTSPPort   int    `json:"rtsp_port"`
}

func (req createRequest) entry() config.SimulatorConfig {
	e := config.SimulatorConfig{
		ID:   req.ID,
		Name: req.Name,
		Endpoint: types.Endpoint{
			Host:       req.Host,
			TelnetPort: req.TelnetPort,
			HTTPPort:   req.HTTPPort,
			RTSPPort:   req.RTSPPort,
		},
	}
	if e.Name == "" {
		e.Name = config.DefaultName
	}
	if e.Host == "" {
		e.Host = config.DefaultHost
	}
	if e.TelnetPort == 0 {
		e.TelnetPort = config.DefaultTelnetPort
	}
	if e.HTTPPort == 0 {
		e.HTTPPort = config.DefaultHTTPPort
	}
	if e.RTSPPort == 0 {
		e.RTSPPort = config.DefaultRTSPPort
	}
	return e
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	entry := req.entry()
	if !validPort(entry.TelnetPort) || !validPort(entry.HTTPPort) || !validPort(entry.RTSPPort) {
		jsonErr(w, http.StatusBadRequest, codeInvalidRequest, "port out of range")
		return
	}

	conn, err := s.hub.Setup(r.Context(), entry)
	switch {
	case err == nil:
		jsonResp(w, http.StatusCreated, newSimulatorView(conn))
	case errors.Is(err, hub.ErrAlreadyConfigured):
		jsonErr(w, http.StatusConflict, codeAlreadyConfigured, err.Error())
	case errors.Is(err, types.ErrCannotConnect):
		jsonResp(w, http.StatusBadRequest, map[string]string{
			"error":   codeCannotConnect,
			"kind":    telemetry.Kind(err),
			"message": err.Error(),
		})
	default:
		slog.Error("api: unexpected setup error", "simulator", entry.Key(), "err", err)
		jsonErr(w, http.StatusInternalServerError, codeUnknown, err.Error())
	}
}

// connection resolves {id} or writes a 404.
func (s *Server) connection(w http.ResponseWriter, r *http.Request) (*hub.Connection, bool) {
	conn, err := s.hub.Get(chi.URLParam(r, "id"))
	if err != nil {
		jsonErr(w, http.StatusNotFound, codeNotFound, err.Error())
		return nil, false
	}
	return conn, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, newSimulatorView(conn))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Remove(chi.URLParam(r, "id")); err != nil {
		jsonErr(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	id, field := chi.URLParam(r, "id"), chi.URLParam(r, "field")

	v, ok, err := s.hub.Latest(id, field)
	switch {
	case errors.Is(err, hub.ErrNotFound):
		jsonErr(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	case errors.Is(err, telemetry.ErrInvalidField):
		jsonErr(w, http.StatusBadRequest, codeInvalidField, err.Error())
		return
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, codeUnknown, err.Error())
		return
	}

	resp := map[string]any{"simulator": id, "field": field, "value": nil}
	if ok {
		resp["value"] = v
	}
	if def, found := telemetry.NewFieldRegistry().Get(field); found {
		resp["unit"] = def.Unit
	}
	jsonResp(w, http.StatusOK, resp)
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, newCameraView(conn.Camera))
}

func (s *Server) handleCameraImage(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	img, err := conn.Camera.Image(r.Context())
	if err != nil {
		jsonErr(w, http.StatusBadGateway, codeCameraUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func jsonResp(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("api: encode response", "err", err)
	}
}

func jsonErr(w http.ResponseWriter, status int, code, msg string) {
	jsonResp(w, status, map[string]string{"error": code, "message": msg})
}
