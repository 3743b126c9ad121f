package logging

import "sync"

// Buffer retains the most recent entries in a fixed-size ring.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	count   int
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{entries: make([]Entry, size)}
}

func (b *Buffer) Add(entry Entry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// List returns the retained entries, oldest first.
func (b *Buffer) List() []Entry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	start := 0
	if b.count == len(b.entries) {
		start = b.next
	}
	list := make([]Entry, 0, b.count)
	for i := 0; i < b.count; i++ {
		list = append(list, b.entries[(start+i)%len(b.entries)])
	}
	return list
}
