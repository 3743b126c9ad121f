// Package watcher turns the flat, non-recursive change notifications of the
// native watch primitive into a graph of cooperating watched locations.
//
// Each distinct path string gets at most one location per Watcher instance.
// A directory location owns a live snapshot of its listing, a native watch
// handle, and an attachment to its parent directory's location so that
// events about a path watched through its parent are forwarded down. A
// location tears itself down once no listener and no attached child still
// needs it.
//
// All state transitions are serialized on one Watcher-wide mutex; listener
// callbacks run outside it, so callbacks may cancel subscriptions or start
// new watches from separate goroutines without corrupting a delivery pass.
package watcher
