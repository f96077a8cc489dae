package link

import (
	"context"
	"sync"
)

// Implemented by anything drivers can report events to.
type Notifier interface {
	// Must return promptly; drivers call this from their own event
	// goroutines.
	Notify(ev Event)
}

type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) {
	f(ev)
}

// An unbounded FIFO of Events with a single consumer. Notify never blocks and
// never drops, so a slow consumer can't stall a driver.
type Channel struct {
	mu     sync.Mutex
	q      []Event
	signal chan struct{}
}

func NewChannel() *Channel {
	return &Channel{signal: make(chan struct{}, 1)}
}

func (c *Channel) Notify(ev Event) {
	c.mu.Lock()
	c.q = append(c.q, ev)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Number of events waiting to be consumed.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.q)
}

func (c *Channel) take() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.q
	c.q = nil
	return q
}

// Calls handle for each event in the order they were notified until ctx is
// done. Only one Run may be active at a time.
func (c *Channel) Run(ctx context.Context, handle func(Event)) error {
	for {
		for _, ev := range c.take() {
			handle(ev)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.signal:
		}
	}
}
