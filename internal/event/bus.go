// Package event provides a generic in-process bus for streaming engine
// events to out-of-core consumers (HTTP handlers, the CLI printer). Delivery
// is buffered and best-effort: a subscriber that stops draining loses events
// rather than stalling the publisher.
package event

import (
	"context"
	"sync"

	"canopy/internal/metrics"
)

const defaultSubscriberBufferSize = 128

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	HistorySize          int
	Registry             *metrics.Registry
	// TypeOf labels events for metrics; unnamed events count as "unknown".
	TypeOf func(any) string
}

type Bus[T any] struct {
	mu           sync.Mutex
	subscribers  map[uint64]subscription[T]
	nextSubID    uint64
	closed       bool
	closeOnce    sync.Once
	options      BusOptions
	registry     *metrics.Registry
	history      []T
	historyNext  int
	historyCount int
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		registry:    opts.Registry,
	}
	if opts.HistorySize > 0 {
		bus.history = make([]T, opts.HistorySize)
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = subscription[T]{id: id, ch: ch, filter: filter}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.setSubscriberCount(count)

	return ch, func() {
		b.removeSubscriber(id)
	}
}

func (b *Bus[T]) Publish(event T) {
	if b == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.appendHistoryLocked(event)
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	eventType := b.eventType(event)
	if b.registry != nil {
		b.registry.IncEventPublished(b.busName(), eventType)
	}

	for _, sub := range subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if b.registry != nil {
				b.registry.IncEventDropped(b.busName(), eventType)
			}
		}
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.setSubscriberCount(0)
	})
}

// ReplayLast sends the most recent events, oldest first, into subscriber.
func (b *Bus[T]) ReplayLast(count int, subscriber chan<- T) {
	if b == nil || subscriber == nil {
		return
	}
	for _, event := range b.historySnapshot(count) {
		subscriber <- event
	}
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	var ch chan T
	b.mu.Lock()
	if existing, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		ch = existing.ch
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if ch != nil {
		close(ch)
		b.setSubscriberCount(count)
	}
}

func (b *Bus[T]) appendHistoryLocked(event T) {
	if len(b.history) == 0 {
		return
	}
	b.history[b.historyNext] = event
	if b.historyCount < len(b.history) {
		b.historyCount++
	}
	b.historyNext = (b.historyNext + 1) % len(b.history)
}

func (b *Bus[T]) historySnapshot(count int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) == 0 || b.historyCount == 0 {
		return nil
	}
	total := b.historyCount
	if count <= 0 || count > total {
		count = total
	}
	var start int
	if total == len(b.history) {
		start = (b.historyNext - count + len(b.history)) % len(b.history)
	} else {
		start = total - count
	}

	events := make([]T, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, b.history[(start+i)%len(b.history)])
	}
	return events
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}

func (b *Bus[T]) eventType(event T) string {
	if b.options.TypeOf == nil {
		return "unknown"
	}
	value := b.options.TypeOf(event)
	if value == "" {
		return "unknown"
	}
	return value
}

func (b *Bus[T]) setSubscriberCount(count int) {
	if b.registry == nil {
		return
	}
	b.registry.SetBusSubscribers(b.busName(), count)
}
