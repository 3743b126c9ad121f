package api

import (
	"net/http"
	"strings"
	"time"

	"canopy/internal/event"
	"canopy/internal/logging"
	"canopy/internal/watcher"
)

// EventsHandler streams engine events over a websocket. A `prefix` query
// parameter restricts the stream to paths under that prefix; a `replay`
// parameter of "1" first replays the bus history.
type EventsHandler struct {
	Bus            *event.Bus[watcher.Event]
	AuthToken      string
	AllowedOrigins []string
	Logger         *logging.Logger
}

type eventPayload struct {
	Type      string             `json:"type"`
	Path      string             `json:"path"`
	Stats     *watcher.FileStats `json:"stats,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.Bus == nil {
		http.Error(w, "event stream unavailable", http.StatusInternalServerError)
		return
	}

	prefix := r.URL.Query().Get("prefix")
	var filter func(watcher.Event) bool
	if prefix != "" {
		filter = func(ev watcher.Event) bool {
			return strings.HasPrefix(ev.Path, prefix)
		}
	}

	output, cancel := h.Bus.SubscribeFiltered(filter)
	defer cancel()

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		h.logWarn(r, "websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	if r.URL.Query().Get("replay") == "1" {
		if err := h.writeReplay(conn, prefix); err != nil {
			return
		}
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case ev, ok := <-output:
				if !ok {
					return
				}
				if prefix != "" && !strings.HasPrefix(ev.Path, prefix) {
					continue
				}
				payload := eventPayload{
					Type:      string(ev.Type),
					Path:      ev.Path,
					Stats:     ev.Stats,
					Timestamp: ev.Timestamp,
				}
				if payload.Timestamp.IsZero() {
					payload.Timestamp = time.Now().UTC()
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
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

const replayLimit = 64

func (h *EventsHandler) writeReplay(conn wsJSONWriter, prefix string) error {
	history := make(chan watcher.Event, replayLimit)
	h.Bus.ReplayLast(replayLimit, history)
	close(history)
	for ev := range history {
		if prefix != "" && !strings.HasPrefix(ev.Path, prefix) {
			continue
		}
		if err := conn.WriteJSON(eventPayload{
			Type:      string(ev.Type),
			Path:      ev.Path,
			Stats:     ev.Stats,
			Timestamp: ev.Timestamp,
		}); err != nil {
			return err
		}
	}
	return nil
}

type wsJSONWriter interface {
	WriteJSON(v any) error
}

func (h *EventsHandler) logWarn(r *http.Request, message string, err error) {
	if h.Logger == nil {
		return
	}
	fields := map[string]string{"path": r.URL.Path}
	if err != nil {
		fields["error"] = err.Error()
	}
	h.Logger.Warn(message, fields)
}
