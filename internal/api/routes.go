package api

import (
	"net/http"
	"time"

	"canopy/internal/event"
	"canopy/internal/logging"
	"canopy/internal/metrics"
	"canopy/internal/watcher"
)

// RouteConfig carries everything the HTTP surface needs.
type RouteConfig struct {
	Engine         *watcher.Watcher
	Bus            *event.Bus[watcher.Event]
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
}

// RegisterRoutes attaches all handlers to mux.
func RegisterRoutes(mux *http.ServeMux, cfg RouteConfig) {
	registry := cfg.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	mux.Handle("/ws/events", &EventsHandler{
		Bus:            cfg.Bus,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         cfg.Logger,
	})
	mux.Handle("/ws/logs", &LogsHandler{
		Logger:         cfg.Logger,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	mux.Handle("/metrics", &MetricsHandler{Registry: registry})
	mux.Handle("/api/status", &StatusHandler{
		Engine:    cfg.Engine,
		Metrics:   registry,
		AuthToken: cfg.AuthToken,
		StartedAt: time.Now().UTC(),
	})
}
