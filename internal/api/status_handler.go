package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"canopy/internal/metrics"
	"canopy/internal/watcher"
)

// StatusHandler reports the engine's registry contents and counters.
type StatusHandler struct {
	Engine    *watcher.Watcher
	Metrics   *metrics.Registry
	AuthToken string
	StartedAt time.Time
}

type statusPayload struct {
	WatchedPaths  []string        `json:"watched_paths"`
	Metrics       metrics.Summary `json:"metrics"`
	UptimeSeconds int64           `json:"uptime_seconds"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	paths := h.Engine.WatchedPaths()
	sort.Strings(paths)
	if paths == nil {
		paths = []string{}
	}

	payload := statusPayload{
		WatchedPaths: paths,
		Metrics:      h.Metrics.Snapshot(),
	}
	if !h.StartedAt.IsZero() {
		payload.UptimeSeconds = int64(time.Since(h.StartedAt).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(payload)
}
