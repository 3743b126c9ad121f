// Package reactive provides small observable containers: an insertion-ordered
// set and an insertion-ordered map whose membership changes can be watched by
// registered observers. The watch engine mutates them; consumers receive only
// the read-only view interfaces.
package reactive

import "sync"

// Op describes a mutation observed on a container.
type Op string

const (
	OpAdd    Op = "add"
	OpDelete Op = "delete"
	OpClear  Op = "clear"
)

// SetChange describes one membership change in a Set. For OpClear the Value
// field is the zero value.
type SetChange[T comparable] struct {
	Op    Op
	Value T
}

// SetView is the read-only surface of a Set.
type SetView[T comparable] interface {
	Len() int
	Has(value T) bool
	Values() []T
	Observe(observer func(SetChange[T])) (cancel func())
}

// Set is an insertion-ordered observable set.
type Set[T comparable] struct {
	mu        sync.RWMutex
	members   map[T]struct{}
	order     []T
	observers map[uint64]func(SetChange[T])
	nextID    uint64
}

func NewSet[T comparable]() *Set[T] {
	return &Set[T]{
		members:   make(map[T]struct{}),
		observers: make(map[uint64]func(SetChange[T])),
	}
}

// Add inserts value, reporting whether it was absent.
func (s *Set[T]) Add(value T) bool {
	s.mu.Lock()
	if _, ok := s.members[value]; ok {
		s.mu.Unlock()
		return false
	}
	s.members[value] = struct{}{}
	s.order = append(s.order, value)
	observers := s.observerListLocked()
	s.mu.Unlock()

	notifySet(observers, SetChange[T]{Op: OpAdd, Value: value})
	return true
}

// Delete removes value, reporting whether it was present.
func (s *Set[T]) Delete(value T) bool {
	s.mu.Lock()
	if _, ok := s.members[value]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.members, value)
	for index, existing := range s.order {
		if existing == value {
			s.order = append(s.order[:index], s.order[index+1:]...)
			break
		}
	}
	observers := s.observerListLocked()
	s.mu.Unlock()

	notifySet(observers, SetChange[T]{Op: OpDelete, Value: value})
	return true
}

// Clear removes every member.
func (s *Set[T]) Clear() {
	s.mu.Lock()
	if len(s.members) == 0 {
		s.mu.Unlock()
		return
	}
	s.members = make(map[T]struct{})
	s.order = nil
	observers := s.observerListLocked()
	s.mu.Unlock()

	notifySet(observers, SetChange[T]{Op: OpClear})
}

func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

func (s *Set[T]) Has(value T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[value]
	return ok
}

// Values returns the members in insertion order.
func (s *Set[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]T, len(s.order))
	copy(values, s.order)
	return values
}

// Observe registers an observer invoked synchronously after each mutation.
func (s *Set[T]) Observe(observer func(SetChange[T])) func() {
	if observer == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers[id] = observer
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Set[T]) observerListLocked() []func(SetChange[T]) {
	if len(s.observers) == 0 {
		return nil
	}
	observers := make([]func(SetChange[T]), 0, len(s.observers))
	for _, observer := range s.observers {
		observers = append(observers, observer)
	}
	return observers
}

func notifySet[T comparable](observers []func(SetChange[T]), change SetChange[T]) {
	for _, observer := range observers {
		observer(change)
	}
}
