package events

import (
	"context"
	"slices"
	"sync"
)

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is an in-process, synchronous publish/subscribe channel. Handlers run in
// subscription order; only handlers subscribed at publish time are called.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is a no-op.
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ctx, ev)
	}
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
