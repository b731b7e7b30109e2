package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"counters/internal/log"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// The zero CheckOrigin rejects cross-origin upgrades.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsMessage struct {
	Type string `json:"type"`
}

// handleWebSocket pushes a refresh message to the browser whenever the view
// re-read its list after a change notification.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, c, ok := s.lookupView(w, r)
	if !ok {
		return
	}

	logger := log.FromContext(r.Context()).With(log.FieldViewID, id)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", log.FieldError, err)
		return
	}
	defer conn.Close()

	// The browser never sends data; reading only serves pongs and close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	logger.Debug("WebSocket connected")
	for {
		select {
		case <-closed:
			logger.Debug("WebSocket closed by client")
			return
		case <-c.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "view closed"),
				time.Now().Add(wsWriteWait))
			return
		case <-c.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsMessage{Type: "refresh"}); err != nil {
				logger.Debug("WebSocket write failed", log.FieldError, err)
				return
			}
		case <-ping.C:
			// An open socket keeps its view from expiring.
			s.views.Get(id)
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
