// Package watch fans repository change events out to subscribers.
package watch

import (
	"context"
	"sync"
)

// Op is the kind of change.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Event is one change to a record identified by Key. Value is nil for deletes.
type Event[T any] struct {
	Op    Op
	Key   string
	Value *T
}

// Hub delivers events to every subscriber. A subscriber that does not keep
// up loses events; consumers are expected to reconcile from the table now
// and then.
type Hub[T any] struct {
	mu   sync.Mutex
	subs map[chan Event[T]]struct{}
	size int
}

func NewHub[T any](buffer int) *Hub[T] {
	return &Hub[T]{subs: make(map[chan Event[T]]struct{}), size: buffer}
}

// Subscribe returns a channel closed when ctx is done.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], h.size)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Publish never blocks.
func (h *Hub[T]) Publish(ev Event[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
