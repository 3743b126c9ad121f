package reactive

import "sync"

// MapChange describes one mutation of a Map. For OpClear the Key and Value
// fields are zero values; for OpDelete the Value is the removed value.
type MapChange[K comparable, V any] struct {
	Op    Op
	Key   K
	Value V
}

// MapView is the read-only surface of a Map.
type MapView[K comparable, V any] interface {
	Len() int
	Get(key K) (V, bool)
	Keys() []K
	Observe(observer func(MapChange[K, V])) (cancel func())
}

// Map is an insertion-ordered observable mapping.
type Map[K comparable, V any] struct {
	mu        sync.RWMutex
	entries   map[K]V
	order     []K
	observers map[uint64]func(MapChange[K, V])
	nextID    uint64
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		entries:   make(map[K]V),
		observers: make(map[uint64]func(MapChange[K, V])),
	}
}

// Set stores value under key, preserving the key's original insertion
// position when it already exists.
func (m *Map[K, V]) Set(key K, value V) {
	m.mu.Lock()
	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = value
	observers := m.observerListLocked()
	m.mu.Unlock()

	notifyMap(observers, MapChange[K, V]{Op: OpAdd, Key: key, Value: value})
}

// Delete removes key, reporting whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	value, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.entries, key)
	for index, existing := range m.order {
		if existing == key {
			m.order = append(m.order[:index], m.order[index+1:]...)
			break
		}
	}
	observers := m.observerListLocked()
	m.mu.Unlock()

	notifyMap(observers, MapChange[K, V]{Op: OpDelete, Key: key, Value: value})
	return true
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	if len(m.entries) == 0 {
		m.mu.Unlock()
		return
	}
	m.entries = make(map[K]V)
	m.order = nil
	observers := m.observerListLocked()
	m.mu.Unlock()

	notifyMap(observers, MapChange[K, V]{Op: OpClear})
}

func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	return value, ok
}

// Keys returns the keys in insertion order.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, len(m.order))
	copy(keys, m.order)
	return keys
}

// Observe registers an observer invoked synchronously after each mutation.
func (m *Map[K, V]) Observe(observer func(MapChange[K, V])) func() {
	if observer == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.observers[id] = observer
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Map[K, V]) observerListLocked() []func(MapChange[K, V]) {
	if len(m.observers) == 0 {
		return nil
	}
	observers := make([]func(MapChange[K, V]), 0, len(m.observers))
	for _, observer := range m.observers {
		observers = append(observers, observer)
	}
	return observers
}

func notifyMap[K comparable, V any](observers []func(MapChange[K, V]), change MapChange[K, V]) {
	for _, observer := range observers {
		observer(change)
	}
}
