package eventbus

import (
	"sync"
	"time"
)

// Event types published by the state poller.
const (
	TypeBlockAdvance = "block.advance"
	TypeChainChange  = "chain.change"
)

// Event is one chain state notification. For block.advance events Height
// carries the new tip height and Data the models.State snapshot; for
// chain.change events Data carries the new chain ID.
type Event struct {
	Type      string
	Height    uint64
	Timestamp time.Time
	Data      interface{}
}

// Bus fans chain state events out to in-process consumers by event type.
// Delivery is best effort: a subscriber whose channel is full misses the
// event. Closing the bus closes every subscriber channel, so consumers
// can treat channel close as their stop signal.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]chan<- Event
	closed bool
}

func New() *Bus {
	return &Bus{
		subs: make(map[string][]chan<- Event),
	}
}

// Subscribe registers a channel for events of the given type. The caller
// sizes the buffer; an unbuffered or full channel drops events rather
// than blocking the publisher. Subscribing after Close is a no-op.
func (b *Bus) Subscribe(eventType string, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs[eventType] = append(b.subs[eventType], ch)
}

// Publish delivers evt to every subscriber of its type without blocking.
// The lock is held across the sends so a concurrent Close cannot close a
// channel mid-delivery.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[evt.Type] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Close shuts the bus down and closes every subscriber channel exactly
// once, even when a channel is registered under several event types.
// Publish and Subscribe become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan<- Event]struct{})
	for _, chans := range b.subs {
		for _, ch := range chans {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			close(ch)
		}
	}
	b.subs = nil
}
