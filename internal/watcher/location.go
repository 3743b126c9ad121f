package watcher

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"canopy/internal/reactive"
)

// location is the per-path state unit: stat snapshot, listing, native watch
// handle, parent attachment, and attached children. One instance exists per
// distinct path string while anything still demands it; teardown removes it
// from the registry, so a later watch builds a fresh instance.
//
// Every method runs with the owning Watcher's mutex held unless noted.
type location struct {
	owner *Watcher
	path  string

	// stats is nil while the path does not exist.
	stats *FileStats

	filePaths   *reactive.Set[string]
	subdirPaths *reactive.Set[string]
	entries     *reactive.Map[string, FileStats]

	hub hub

	// life is held by every direct listener and by the forwarding machinery
	// of attached children; exhaustion takes the location offline.
	life *demand

	// childDemand guards this location's forwarding subscription: it exists
	// only while at least one child is attached.
	children    map[string]*location
	childDemand *demand

	releaseParent func()
	selfCancel    func()

	watching bool
	online   bool
}

func newLocation(owner *Watcher, path string) *location {
	l := &location{
		owner:       owner,
		path:        path,
		filePaths:   reactive.NewSet[string](),
		subdirPaths: reactive.NewSet[string](),
		entries:     reactive.NewMap[string, FileStats](),
		children:    make(map[string]*location),
	}
	l.life = newDemand(func() func() {
		return l.offline
	})
	l.childDemand = newDemand(func() func() {
		releaseLife := l.life.retain()
		cancelForward := l.hub.subscribe(l.forward)
		return func() {
			cancelForward()
			releaseLife()
		}
	})
	return l
}

// bringOnline materializes the location: stat snapshot, listing snapshot,
// native watch handle, parent attachment, and the internal self-subscription
// that keeps the stat snapshot current.
func (l *location) bringOnline() error {
	stats, err := statPath(l.owner.fs, l.path)
	if err != nil {
		return err
	}
	l.stats = stats

	if stats != nil && stats.IsDirectory {
		if err := l.snapshotListing(); err != nil {
			return err
		}
	}

	// A confirmed file never gets its own handle; its change notifications
	// arrive through the parent directory's watch.
	if stats == nil || !stats.IsFile {
		if err := l.openWatch(); err != nil {
			return err
		}
	}

	if l.owner.parentEligible(l.path) {
		parent, err := l.owner.ensureLocation(filepath.Dir(l.path))
		if err != nil {
			return err
		}
		l.releaseParent = parent.attachChild(l)
	}

	l.selfCancel = l.hub.subscribe(l.trackOwnStats)
	l.online = true
	l.owner.metrics.IncLocationOnline()
	l.owner.logDebug("location online", l.path)
	return nil
}

// offline tears the location down: close the handle, detach from the parent,
// deregister, and clear the listing. Safe to call more than once, including
// from within an event-delivery pass.
func (l *location) offline() {
	if !l.online {
		return
	}
	l.online = false

	if l.watching {
		l.watching = false
		l.owner.metrics.IncWatchClosed()
		if err := l.owner.backend.Remove(l.path); err != nil {
			l.owner.logWarn("watch remove failed", map[string]string{
				"path":  l.path,
				"error": err.Error(),
			})
		} else {
			l.owner.logDebug("watch removed", l.path)
		}
	}

	if l.releaseParent != nil {
		l.releaseParent()
		l.releaseParent = nil
	}

	delete(l.owner.locations, l.path)

	l.filePaths.Clear()
	l.subdirPaths.Clear()
	l.entries.Clear()

	if l.selfCancel != nil {
		l.selfCancel()
		l.selfCancel = nil
	}

	l.owner.metrics.DecLocationOnline()
	l.owner.logDebug("location offline", l.path)
}

// snapshotListing enumerates the directory once, classifying entries into
// the file and subdirectory sets. Calling it while the sets are non-empty is
// an internal bug, not a tolerated race.
func (l *location) snapshotListing() error {
	if l.filePaths.Len() > 0 || l.subdirPaths.Len() > 0 {
		panic("watcher: listing already materialized for " + l.path)
	}
	infos, err := afero.ReadDir(l.owner.fs, l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, info := range infos {
		childPath := filepath.Join(l.path, info.Name())
		stats := statsFromInfo(info)
		l.entries.Set(info.Name(), stats)
		if stats.IsDirectory {
			l.subdirPaths.Add(childPath)
		} else {
			l.filePaths.Add(childPath)
		}
	}
	return nil
}

// openWatch opens the native handle. A missing path is expected absence: the
// parent's handle covers it until it comes into existence.
func (l *location) openWatch() error {
	err := l.owner.backend.Add(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	l.watching = true
	l.owner.metrics.IncWatchOpened()
	l.owner.logDebug("watch added", l.path)
	return nil
}

// attachChild registers child as a demand source on this location. The first
// child materializes the forwarding subscription; the last detach releases
// it, which in turn may take this location offline.
func (l *location) attachChild(child *location) func() {
	l.children[child.path] = child
	releaseForward := l.childDemand.retain()
	return func() {
		delete(l.children, child.path)
		releaseForward()
	}
}

// applyNative translates one native signal about childPath into a derived
// event, mutating the listing, and returns it. A nil event means the signal
// was not translatable (stat failed).
func (l *location) applyNative(childPath string, renameClass bool) (*Event, error) {
	stats, err := statPath(l.owner.fs, childPath)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(childPath)
	eventType := EventChange
	if renameClass {
		if stats != nil {
			eventType = EventAdd
			l.entries.Set(name, *stats)
			if stats.IsDirectory {
				l.subdirPaths.Add(childPath)
			} else {
				l.filePaths.Add(childPath)
			}
		} else {
			eventType = EventDelete
			l.entries.Delete(name)
			l.filePaths.Delete(childPath)
			l.subdirPaths.Delete(childPath)
		}
	}

	return &Event{
		Type:      eventType,
		Path:      childPath,
		Stats:     stats,
		Timestamp: nowUTC(),
	}, nil
}

// trackOwnStats is the internal self-subscription: forwarded events about
// this exact path keep the cached stat snapshot current.
//
// Runs as a hub listener, outside the Watcher mutex.
func (l *location) trackOwnStats(event Event) {
	if event.Path != l.path {
		return
	}
	l.owner.mu.Lock()
	if l.online {
		l.stats = event.Stats
	}
	l.owner.mu.Unlock()
}

// forward re-publishes an event about a child entry into that child's own
// hub, if a location is registered for the exact affected path. The child's
// stats are fetched independently: its existence state may differ from what
// the parent-derived event carries by the time it is delivered.
//
// Runs as a hub listener, outside the Watcher mutex.
func (l *location) forward(event Event) {
	w := l.owner

	w.mu.Lock()
	child := w.locations[event.Path]
	if child == nil || child == l || !child.online {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	stats, err := statPath(w.fs, event.Path)
	if err != nil {
		w.logWarn("forward stat failed", map[string]string{
			"path":  event.Path,
			"error": err.Error(),
		})
		return
	}

	w.metrics.IncForwarded()
	w.deliver(child, Event{
		Type:      event.Type,
		Path:      event.Path,
		Stats:     stats,
		Timestamp: event.Timestamp,
	})
}
