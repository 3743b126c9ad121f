package api

import (
	"net/http"

	"canopy/internal/metrics"
)

// MetricsHandler renders the registry in the Prometheus text format.
type MetricsHandler struct {
	Registry *metrics.Registry
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = h.Registry.WritePrometheus(w)
}
