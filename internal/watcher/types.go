package watcher

import (
	"time"

	"github.com/spf13/afero"

	"canopy/internal/event"
	"canopy/internal/logging"
	"canopy/internal/metrics"
)

// EventType identifies the kind of change observed at a path.
type EventType string

const (
	EventAdd    EventType = "add"
	EventDelete EventType = "delete"
	EventChange EventType = "change"
)

// Event is a single observed change as delivered to listeners. Stats is nil
// when the path no longer exists at the moment the event was computed.
type Event struct {
	Type      EventType
	Path      string
	Stats     *FileStats
	Timestamp time.Time
}

// Listener receives events for a watched path.
type Listener func(Event)

// Options controls Watcher behavior.
type Options struct {
	Logger *logging.Logger
	// Metrics defaults to metrics.Default.
	Metrics *metrics.Registry
	// Bus, when set, receives a copy of every delivered event.
	Bus *event.Bus[Event]
	// Fs is the filesystem used for stat and listing calls. Defaults to the
	// OS filesystem.
	Fs afero.Fs
	// HomeDir overrides the home directory used for the parent-attachment
	// exclusion. Defaults to os.UserHomeDir.
	HomeDir string
	// Backend overrides the native notification backend. Defaults to an
	// fsnotify-backed one.
	Backend Backend
	// ErrorHandler is invoked for errors raised by the native layer.
	ErrorHandler func(error)
}
