package watcher

// hub is a per-location synchronous publish/subscribe channel. Listener
// registration order is delivery order. Delivery iterates over a snapshot of
// the listener list, so subscriptions added or cancelled mid-delivery never
// disturb the in-flight pass. Events with no listeners are dropped.
//
// The owning Watcher's mutex guards subscribe, cancel, and snapshot;
// listener invocation happens with the mutex released.
type hub struct {
	nextID    uint64
	listeners []hubEntry
}

type hubEntry struct {
	id       uint64
	listener Listener
}

func (h *hub) subscribe(listener Listener) func() {
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, hubEntry{id: id, listener: listener})

	cancelled := false
	return func() {
		if cancelled {
			return
		}
		cancelled = true
		for index, entry := range h.listeners {
			if entry.id == id {
				h.listeners = append(h.listeners[:index], h.listeners[index+1:]...)
				return
			}
		}
	}
}

func (h *hub) snapshot() []Listener {
	if len(h.listeners) == 0 {
		return nil
	}
	listeners := make([]Listener, 0, len(h.listeners))
	for _, entry := range h.listeners {
		listeners = append(listeners, entry.listener)
	}
	return listeners
}

func (h *hub) empty() bool {
	return len(h.listeners) == 0
}
