package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"canopy/internal/event"
	"canopy/internal/logging"
	"canopy/internal/metrics"
)

const busName = "watcher_events"

// Watcher owns the location registry for one engine instance. Multiple
// independent instances may coexist in a process; locations and native
// handles are never shared across instances.
type Watcher struct {
	mu        sync.Mutex
	locations map[string]*location

	fs      afero.Fs
	backend Backend
	home    string

	logger       *logging.Logger
	metrics      *metrics.Registry
	bus          *event.Bus[Event]
	errorHandler func(error)

	done   chan struct{}
	closed bool
}

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Watcher with custom options.
func NewWithOptions(options Options) (*Watcher, error) {
	backend := options.Backend
	if backend == nil {
		created, err := newFsnotifyBackend()
		if err != nil {
			return nil, err
		}
		backend = created
	}

	fs := options.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}

	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	home := options.HomeDir
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	w := &Watcher{
		locations:    make(map[string]*location),
		fs:           fs,
		backend:      backend,
		home:         home,
		logger:       logger,
		metrics:      registry,
		bus:          options.Bus,
		errorHandler: options.ErrorHandler,
		done:         make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch resolves or creates the location for path, subscribes listener to
// its events, and ties the subscription's lifetime to ctx. The returned view
// stays readable after teardown but no longer updates.
func (w *Watcher) Watch(ctx context.Context, path string, listener Listener) (*LocationView, error) {
	if w == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if listener == nil {
		return nil, errors.New("listener is required")
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, errors.New("watcher is closed")
	}
	loc, err := w.ensureLocation(path)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	releaseLife := loc.life.retain()
	cancelSub := loc.hub.subscribe(listener)
	w.mu.Unlock()

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	go func() {
		select {
		case <-done:
		case <-w.done:
		}
		w.mu.Lock()
		cancelSub()
		releaseLife()
		w.mu.Unlock()
	}()

	return &LocationView{location: loc}, nil
}

// WatchedPaths lists the paths currently registered, in no particular order.
func (w *Watcher) WatchedPaths() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.locations))
	for path := range w.locations {
		paths = append(paths, path)
	}
	return paths
}

// Close tears down every location and stops event processing.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	remaining := make([]*location, 0, len(w.locations))
	for _, loc := range w.locations {
		remaining = append(remaining, loc)
	}
	for _, loc := range remaining {
		loc.offline()
	}
	w.mu.Unlock()

	close(w.done)
	return w.backend.Close()
}

// ensureLocation is the registry's get-or-create: a newly created location
// is registered first (so the parent chain sees it) and brought online as
// part of creation. Caller holds w.mu.
func (w *Watcher) ensureLocation(path string) (*location, error) {
	if loc, ok := w.locations[path]; ok {
		return loc, nil
	}
	loc := newLocation(w, path)
	w.locations[path] = loc
	if err := loc.bringOnline(); err != nil {
		delete(w.locations, path)
		return nil, err
	}
	return loc, nil
}

// parentEligible reports whether a location should attach to its parent:
// the home directory never does, and neither does a direct child of the
// filesystem root. Caller holds w.mu.
func (w *Watcher) parentEligible(path string) bool {
	if path == w.home {
		return false
	}
	parent := filepath.Dir(path)
	if parent == path {
		return false
	}
	if parent == filepath.Dir(parent) {
		// parent is the filesystem root
		return false
	}
	return true
}

func (w *Watcher) run() {
	for {
		select {
		case raw, ok := <-w.backend.Events():
			if !ok {
				return
			}
			w.dispatchNative(raw)
		case err, ok := <-w.backend.Errors():
			if !ok {
				return
			}
			w.handleError(err)
		case <-w.done:
			return
		}
	}
}

// dispatchNative translates one raw native signal. Signals carry the full
// path of the affected entry; a signal whose parent directory has no online
// location — including a watched directory's event about itself, which
// arrives with no usable entry name — is ignored.
func (w *Watcher) dispatchNative(raw fsnotify.Event) {
	name := raw.Name
	if name == "" {
		return
	}

	renameClass := raw.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0

	w.mu.Lock()
	parent := w.locations[filepath.Dir(name)]
	if parent == nil || !parent.online {
		w.mu.Unlock()
		return
	}
	derived, err := parent.applyNative(name, renameClass)
	w.mu.Unlock()

	if err != nil {
		w.metrics.IncWatchError()
		w.logWarn("native event stat failed", map[string]string{
			"path":  name,
			"error": err.Error(),
		})
		return
	}
	w.deliver(parent, *derived)
}

// deliver publishes one event on a location's hub, snapshot-then-iterate,
// and mirrors it onto the instance bus.
func (w *Watcher) deliver(l *location, ev Event) {
	w.mu.Lock()
	listeners := l.hub.snapshot()
	w.mu.Unlock()

	for _, listener := range listeners {
		listener(ev)
	}

	w.metrics.IncEventPublished(busName, string(ev.Type))
	if w.bus != nil {
		w.bus.Publish(ev)
	}
}

// handleError surfaces a native-layer failure. The engine never retries;
// recovery policy belongs to the consumer.
func (w *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	w.metrics.IncWatchError()
	w.logWarn("watcher error", map[string]string{
		"error": err.Error(),
	})
	if w.errorHandler != nil {
		w.errorHandler(err)
	}
}

func (w *Watcher) logWarn(message string, fields map[string]string) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Warn(message, withWatcherFields(fields))
}

func (w *Watcher) logDebug(message, path string) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Debug(message, withWatcherFields(map[string]string{
		"path": path,
	}))
}

func withWatcherFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["canopy.category"] = "watcher"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
