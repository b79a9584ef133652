package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamMessage is sent to websocket clients for every new flight state.
type streamMessage struct {
	Event     string            `json:"event"`
	Simulator string            `json:"simulator"`
	At        time.Time         `json:"at"`
	State     types.FlightState `json:"state"`
}

// handleStream pushes each newly decoded state of one simulator to the
// client, starting with the latest one if any. A client that falls behind
// misses intermediate states.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	defer ws.Close()

	updates, cancel := conn.State.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(st types.FlightState) error {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		return ws.WriteJSON(streamMessage{Event: "state", Simulator: conn.ID(), At: time.Now().UTC(), State: st})
	}

	if st, ok := conn.State.Latest(); ok {
		if err := send(st); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case st := <-updates:
			if err := send(st); err != nil {
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
