package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canopy/internal/api"
	"canopy/internal/event"
	"canopy/internal/logging"
	"canopy/internal/metrics"
	"canopy/internal/supervisor"
	"canopy/internal/watcher"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		os.Stderr.WriteString("canopy: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		level = logging.LevelInfo
	}
	logger := logging.NewLogger(logging.NewBuffer(logging.DefaultBufferSize), level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus[watcher.Event](ctx, event.BusOptions{
		Name:        "watcher_events",
		HistorySize: 256,
		TypeOf: func(value any) string {
			if ev, ok := value.(watcher.Event); ok {
				return string(ev.Type)
			}
			return ""
		},
	})

	engine, err := watcher.NewWithOptions(watcher.Options{
		Logger: logger,
		Bus:    bus,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	var super *supervisor.Supervisor
	if cfg.Exec != "" {
		super, err = supervisor.New(supervisor.Options{
			Command:      splitCommand(cfg.Exec),
			Logger:       logger,
			RestartDelay: cfg.RestartDelay,
		})
		if err != nil {
			return err
		}
		if err := super.Start(); err != nil {
			return err
		}
		defer super.Close()
	}

	listener := func(ev watcher.Event) {
		logger.Info("change detected", map[string]string{
			"event": string(ev.Type),
			"path":  ev.Path,
		})
		if super != nil {
			super.Trigger(ev)
		}
	}

	for _, path := range cfg.Paths {
		view, err := engine.Watch(ctx, path, listener)
		if err != nil {
			return err
		}
		logger.Info("watching", map[string]string{
			"path":   view.Path(),
			"exists": boolString(view.Exists()),
		})
	}

	if cfg.Addr != "" {
		mux := http.NewServeMux()
		api.RegisterRoutes(mux, api.RouteConfig{
			Engine:         engine,
			Bus:            bus,
			Logger:         logger,
			Metrics:        metrics.Default,
			AuthToken:      cfg.AuthToken,
			AllowedOrigins: cfg.AllowedOrigins,
		})
		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("canopy listening", map[string]string{
				"addr": server.Addr,
			})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server stopped", map[string]string{
					"error": err.Error(),
				})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down", nil)
	return nil
}

func boolString(value bool) string {
	if value {
		return "true"
	}
	return "false"
}
