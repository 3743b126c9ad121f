package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"canopy/internal/metrics"
)

// fakeBackend records handle operations and lets tests inject native signals.
type fakeBackend struct {
	mu      sync.Mutex
	adds    []string
	removes []string
	failAdd map[string]error

	events chan fsnotify.Event
	errors chan error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		failAdd: make(map[string]error),
		events:  make(chan fsnotify.Event, 16),
		errors:  make(chan error, 4),
	}
}

func (b *fakeBackend) Add(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failAdd[path]; err != nil {
		return err
	}
	b.adds = append(b.adds, path)
	return nil
}

func (b *fakeBackend) Remove(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removes = append(b.removes, path)
	return nil
}

func (b *fakeBackend) Events() <-chan fsnotify.Event { return b.events }
func (b *fakeBackend) Errors() <-chan error          { return b.errors }
func (b *fakeBackend) Close() error                  { return nil }

func (b *fakeBackend) addCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, added := range b.adds {
		if added == path {
			count++
		}
	}
	return count
}

func (b *fakeBackend) removed(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, removed := range b.removes {
		if removed == path {
			return true
		}
	}
	return false
}

func (b *fakeBackend) emit(path string, op fsnotify.Op) {
	b.events <- fsnotify.Event{Name: path, Op: op}
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeBackend, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	backend := newFakeBackend()
	w, err := NewWithOptions(Options{
		Fs:      fsys,
		Backend: backend,
		HomeDir: "/home/user",
		Metrics: &metrics.Registry{},
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, backend, fsys
}

func eventRecorder() (Listener, chan Event) {
	events := make(chan Event, 16)
	return func(event Event) { events <- event }, events
}

func waitForEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitUntil(t *testing.T, message string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestWatchDirectorySnapshot(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := fsys.MkdirAll("/data/sub", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := afero.WriteFile(fsys, "/data/a.txt", []byte("a"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	listener, _ := eventRecorder()
	view, err := w.Watch(context.Background(), "/data", listener)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if !view.Exists() || !view.IsDirectory() {
		t.Fatalf("expected existing directory, got exists=%v dir=%v", view.Exists(), view.IsDirectory())
	}
	if !view.FilePaths().Has("/data/a.txt") {
		t.Fatalf("expected file listing to contain /data/a.txt, got %v", view.FilePaths().Values())
	}
	if !view.SubdirPaths().Has("/data/sub") {
		t.Fatalf("expected subdir listing to contain /data/sub, got %v", view.SubdirPaths().Values())
	}
	if entry, ok := view.Entries().Get("a.txt"); !ok || !entry.IsFile {
		t.Fatalf("expected entry for a.txt, got %+v ok=%v", entry, ok)
	}
	if backend.addCount("/data") != 1 {
		t.Fatalf("expected one handle for /data, got %d", backend.addCount("/data"))
	}
}

func TestWatchFileNeverOpensOwnHandle(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := afero.WriteFile(fsys, "/data/a.txt", []byte("a"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	listener, _ := eventRecorder()
	view, err := w.Watch(context.Background(), "/data/a.txt", listener)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if !view.IsFile() {
		t.Fatal("expected file view")
	}
	if backend.addCount("/data/a.txt") != 0 {
		t.Fatal("a confirmed file must not get its own handle")
	}
	if backend.addCount("/data") != 1 {
		t.Fatalf("expected the parent directory to be watched, got %d adds", backend.addCount("/data"))
	}
}

func TestWatchSharesOneHandlePerPath(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := afero.WriteFile(fsys, "/data/a.txt", []byte("a"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	first, firstEvents := eventRecorder()
	second, secondEvents := eventRecorder()
	if _, err := w.Watch(context.Background(), "/data", first); err != nil {
		t.Fatalf("first watch: %v", err)
	}
	if _, err := w.Watch(context.Background(), "/data", second); err != nil {
		t.Fatalf("second watch: %v", err)
	}

	if backend.addCount("/data") != 1 {
		t.Fatalf("expected a single shared handle, got %d", backend.addCount("/data"))
	}
	if len(w.WatchedPaths()) != 1 {
		t.Fatalf("expected one registered location, got %v", w.WatchedPaths())
	}

	backend.emit("/data/a.txt", fsnotify.Write)
	if event := waitForEvent(t, firstEvents); event.Path != "/data/a.txt" {
		t.Fatalf("first listener got %q", event.Path)
	}
	if event := waitForEvent(t, secondEvents); event.Path != "/data/a.txt" {
		t.Fatalf("second listener got %q", event.Path)
	}
}

func TestWriteEventDeliversChange(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := afero.WriteFile(fsys, "/data/a.txt", []byte("a"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	listener, events := eventRecorder()
	if _, err := w.Watch(context.Background(), "/data", listener); err != nil {
		t.Fatalf("watch: %v", err)
	}

	backend.emit("/data/a.txt", fsnotify.Write)

	event := waitForEvent(t, events)
	if event.Type != EventChange {
		t.Fatalf("expected change event, got %q", event.Type)
	}
	if event.Path != "/data/a.txt" {
		t.Fatalf("unexpected path %q", event.Path)
	}
	if event.Stats == nil || !event.Stats.Exists {
		t.Fatal("expected stats for an existing file")
	}
}

func TestRenameClassEventsMutateListing(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := fsys.MkdirAll("/data", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	listener, events := eventRecorder()
	view, err := w.Watch(context.Background(), "/data", listener)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if view.FilePaths().Len() != 0 {
		t.Fatalf("expected empty listing, got %v", view.FilePaths().Values())
	}

	if err := afero.WriteFile(fsys, "/data/new.txt", []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	backend.emit("/data/new.txt", fsnotify.Create)

	event := waitForEvent(t, events)
	if event.Type != EventAdd {
		t.Fatalf("expected add event, got %q", event.Type)
	}
	if !view.FilePaths().Has("/data/new.txt") {
		t.Fatal("expected listing to gain the created file")
	}
	if _, ok := view.Entries().Get("new.txt"); !ok {
		t.Fatal("expected entries to gain the created file")
	}

	if err := fsys.Remove("/data/new.txt"); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	backend.emit("/data/new.txt", fsnotify.Remove)

	event = waitForEvent(t, events)
	if event.Type != EventDelete {
		t.Fatalf("expected delete event, got %q", event.Type)
	}
	if event.Stats != nil {
		t.Fatal("expected nil stats for a deleted path")
	}
	if view.FilePaths().Has("/data/new.txt") {
		t.Fatal("expected listing to drop the removed file")
	}
}

func TestEventsForwardToChildLocation(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := fsys.MkdirAll("/data", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	backend.failAdd["/data/pending.txt"] = fs.ErrNotExist

	listener, events := eventRecorder()
	view, err := w.Watch(context.Background(), "/data/pending.txt", listener)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if view.Exists() {
		t.Fatal("expected the path to not exist yet")
	}

	if err := afero.WriteFile(fsys, "/data/pending.txt", []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	backend.emit("/data/pending.txt", fsnotify.Create)

	event := waitForEvent(t, events)
	if event.Type != EventAdd {
		t.Fatalf("expected add event, got %q", event.Type)
	}
	if event.Path != "/data/pending.txt" {
		t.Fatalf("unexpected path %q", event.Path)
	}
	waitUntil(t, "view never observed the created file", func() bool {
		return view.Exists() && view.IsFile()
	})
}

func TestSiblingListenersIsolated(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := afero.WriteFile(fsys, "/data/a.txt", []byte("a"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := afero.WriteFile(fsys, "/data/b.txt", []byte("b"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	listenerA, eventsA := eventRecorder()
	listenerB, eventsB := eventRecorder()
	if _, err := w.Watch(context.Background(), "/data/a.txt", listenerA); err != nil {
		t.Fatalf("watch a: %v", err)
	}
	if _, err := w.Watch(context.Background(), "/data/b.txt", listenerB); err != nil {
		t.Fatalf("watch b: %v", err)
	}

	backend.emit("/data/a.txt", fsnotify.Write)

	event := waitForEvent(t, eventsA)
	if event.Path != "/data/a.txt" {
		t.Fatalf("unexpected path %q", event.Path)
	}
	select {
	case event := <-eventsB:
		t.Fatalf("sibling listener received %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelTearsDownLocation(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := fsys.MkdirAll("/data", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	listener, _ := eventRecorder()
	if _, err := w.Watch(ctx, "/data", listener); err != nil {
		t.Fatalf("watch: %v", err)
	}

	cancel()

	waitUntil(t, "location never deregistered after cancel", func() bool {
		return len(w.WatchedPaths()) == 0
	})
	if !backend.removed("/data") {
		t.Fatal("expected the native handle to be closed")
	}
}

func TestSecondDemandKeepsLocationAlive(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := afero.WriteFile(fsys, "/data/a.txt", []byte("a"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	secondCtx, cancelSecond := context.WithCancel(context.Background())
	first, firstEvents := eventRecorder()
	second, secondEvents := eventRecorder()
	if _, err := w.Watch(firstCtx, "/data", first); err != nil {
		t.Fatalf("first watch: %v", err)
	}
	if _, err := w.Watch(secondCtx, "/data", second); err != nil {
		t.Fatalf("second watch: %v", err)
	}

	cancelFirst()
	time.Sleep(50 * time.Millisecond)
	if len(w.WatchedPaths()) != 1 {
		t.Fatalf("expected the location to survive one cancel, got %v", w.WatchedPaths())
	}

	backend.emit("/data/a.txt", fsnotify.Write)
	if event := waitForEvent(t, secondEvents); event.Path != "/data/a.txt" {
		t.Fatalf("surviving listener got %q", event.Path)
	}
	select {
	case event := <-firstEvents:
		t.Fatalf("cancelled listener received %+v", event)
	case <-time.After(50 * time.Millisecond):
	}

	cancelSecond()
	waitUntil(t, "location never deregistered after last cancel", func() bool {
		return len(w.WatchedPaths()) == 0
	})
}

func TestFileTeardownReleasesParent(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := afero.WriteFile(fsys, "/data/a.txt", []byte("a"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	listener, _ := eventRecorder()
	if _, err := w.Watch(ctx, "/data/a.txt", listener); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(w.WatchedPaths()) != 2 {
		t.Fatalf("expected file and parent locations, got %v", w.WatchedPaths())
	}

	cancel()

	waitUntil(t, "parent chain never released", func() bool {
		return len(w.WatchedPaths()) == 0
	})
	if !backend.removed("/data") {
		t.Fatal("expected the parent's handle to be closed")
	}
}

func TestRewatchAfterTeardownSeesFreshListing(t *testing.T) {
	w, _, fsys := newTestWatcher(t)
	if err := fsys.MkdirAll("/data", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	listener, _ := eventRecorder()
	view, err := w.Watch(ctx, "/data", listener)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if view.FilePaths().Len() != 0 {
		t.Fatalf("expected empty listing, got %v", view.FilePaths().Values())
	}

	cancel()
	waitUntil(t, "location never deregistered", func() bool {
		return len(w.WatchedPaths()) == 0
	})

	// Mutations that happen while nothing is watching are picked up by the
	// next watch's fresh snapshot.
	if err := afero.WriteFile(fsys, "/data/late.txt", []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	fresh, err := w.Watch(context.Background(), "/data", listener)
	if err != nil {
		t.Fatalf("rewatch: %v", err)
	}
	if !fresh.FilePaths().Has("/data/late.txt") {
		t.Fatalf("expected fresh snapshot to include late file, got %v", fresh.FilePaths().Values())
	}
}

func TestWatchAfterCloseFails(t *testing.T) {
	w, _, _ := newTestWatcher(t)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	listener, _ := eventRecorder()
	if _, err := w.Watch(context.Background(), "/data", listener); err == nil {
		t.Fatal("expected watch on a closed watcher to fail")
	}
}

func TestWatchValidatesArguments(t *testing.T) {
	w, _, _ := newTestWatcher(t)

	listener, _ := eventRecorder()
	if _, err := w.Watch(context.Background(), "", listener); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
	if _, err := w.Watch(context.Background(), "/data", nil); err == nil {
		t.Fatal("expected nil listener to be rejected")
	}
}

func TestHomeDirectoryDoesNotAttachParent(t *testing.T) {
	w, backend, fsys := newTestWatcher(t)
	if err := fsys.MkdirAll("/home/user", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	listener, _ := eventRecorder()
	if _, err := w.Watch(context.Background(), "/home/user", listener); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if paths := w.WatchedPaths(); len(paths) != 1 || paths[0] != "/home/user" {
		t.Fatalf("expected only the home location, got %v", paths)
	}
	if backend.addCount("/home") != 0 {
		t.Fatal("home's parent must not be watched")
	}
}

func TestBackendErrorReachesHandler(t *testing.T) {
	fsys := afero.NewMemMapFs()
	backend := newFakeBackend()
	errs := make(chan error, 1)
	w, err := NewWithOptions(Options{
		Fs:      fsys,
		Backend: backend,
		HomeDir: "/home/user",
		Metrics: &metrics.Registry{},
		ErrorHandler: func(err error) {
			errs <- err
		},
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	backend.errors <- fs.ErrPermission

	select {
	case got := <-errs:
		if got != fs.ErrPermission {
			t.Fatalf("unexpected error %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error handler")
	}
}

func TestListingSnapshotCoversLargeDirectories(t *testing.T) {
	w, _, fsys := newTestWatcher(t)
	faker := gofakeit.New(7)

	names := make(map[string]struct{})
	for len(names) < 40 {
		name := faker.Word() + ".txt"
		if _, exists := names[name]; exists {
			continue
		}
		names[name] = struct{}{}
		path := filepath.Join("/data", name)
		if err := afero.WriteFile(fsys, path, []byte(name), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}

	listener, _ := eventRecorder()
	view, err := w.Watch(context.Background(), "/data", listener)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if view.FilePaths().Len() != len(names) {
		t.Fatalf("expected %d files, got %d", len(names), view.FilePaths().Len())
	}
	for name := range names {
		if _, ok := view.Entries().Get(name); !ok {
			t.Fatalf("missing entry %q", name)
		}
	}
}
