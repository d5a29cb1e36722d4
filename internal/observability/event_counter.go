package observability

import (
	"sync"

	"github.com/gatenode-ai/gatenode/internal/eventbus"
)

// EventCounter counts published events grouped by topic. It implements
// eventbus.Observer and is attached via eventbus.WithObserver.
type EventCounter struct {
	mu     sync.Mutex
	counts map[eventbus.Topic]uint64
}

// NewEventCounter creates an empty counter.
func NewEventCounter() *EventCounter {
	return &EventCounter{counts: make(map[eventbus.Topic]uint64)}
}

// OnPublish implements eventbus.Observer.
func (c *EventCounter) OnPublish(env eventbus.Envelope) {
	if env.Topic == "" {
		return
	}
	c.mu.Lock()
	c.counts[env.Topic]++
	c.mu.Unlock()
}

// Snapshot returns a stable copy of the current counts.
func (c *EventCounter) Snapshot() map[eventbus.Topic]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[eventbus.Topic]uint64, len(c.counts))
	for topic, n := range c.counts {
		out[topic] = n
	}
	return out
}
