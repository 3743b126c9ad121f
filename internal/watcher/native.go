package watcher

import (
	"github.com/fsnotify/fsnotify"
)

// Backend is the native, non-recursive change notification primitive. One
// backend serves a whole Watcher; paths are added and removed as locations
// come online and offline. Events for children of a watched directory carry
// the child's full path.
type Backend interface {
	Add(path string) error
	Remove(path string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

type fsnotifyBackend struct {
	inner *fsnotify.Watcher
}

func newFsnotifyBackend() (Backend, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyBackend{inner: inner}, nil
}

func (b *fsnotifyBackend) Add(path string) error {
	return b.inner.Add(path)
}

func (b *fsnotifyBackend) Remove(path string) error {
	return b.inner.Remove(path)
}

func (b *fsnotifyBackend) Events() <-chan fsnotify.Event {
	return b.inner.Events
}

func (b *fsnotifyBackend) Errors() <-chan error {
	return b.inner.Errors
}

func (b *fsnotifyBackend) Close() error {
	return b.inner.Close()
}
