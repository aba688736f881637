package events

import (
	"context"
	"sync"
)

// Counter tracks the running cart count the way a header badge does: deltas
// are added, absolutes overwrite.
type Counter struct {
	mu    sync.Mutex
	count int
}

// NewCounter starts from the count read on mount.
func NewCounter(initial int) *Counter {
	return &Counter{count: initial}
}

// Attach subscribes the counter and returns the unsubscribe func.
func (c *Counter) Attach(bus *Bus) func() {
	return bus.Subscribe(c.Handle)
}

func (c *Counter) Handle(_ context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e := ev.(type) {
	case CountDelta:
		c.count += e.Qty
	case CountAbsolute:
		c.count = e.Count
	}
}

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
