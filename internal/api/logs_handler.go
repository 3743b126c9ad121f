package api

import (
	"net/http"
	"time"

	"canopy/internal/logging"
)

// LogsHandler streams structured log entries over a websocket, starting
// with the retained buffer so a late client sees recent history.
type LogsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.Logger == nil {
		http.Error(w, "log stream unavailable", http.StatusInternalServerError)
		return
	}

	output, cancel := h.Logger.Subscribe()
	defer cancel()

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		return
	}
	defer conn.Close()

	if buffer := h.Logger.Buffer(); buffer != nil {
		for _, entry := range buffer.List() {
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case entry, ok := <-output:
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(entry); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
