package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth. The source broker
// is a wide broadcast channel with bounded buffer 100; a slow receiver is
// lagged rather than blocking the publisher.
const subscriberBuffer = 100

// OutputHandle is a broadcast producer: every node output is one of these.
// There is no stdlib or ecosystem multi-consumer broadcast channel in the
// teacher's or the pack's dependency set (Go channels are single-consumer
// by construction) so this, and the companion Subscription type, are
// hand-rolled, grounded on the teacher's EventBus subscriber-fan-out
// dispatch in internal/events/event_bus.go: one goroutine-safe map of
// subscribers, non-blocking delivery, and a per-subscriber drop counter in
// place of the teacher's global eventsDropped counter.
type OutputHandle struct {
	id           string
	mu           sync.Mutex
	subscribers  map[string]*Subscription
	connectCount atomic.Int64
}

// NewOutputHandle creates an unconnected output handle identified by id.
func NewOutputHandle(id string) *OutputHandle {
	return &OutputHandle{id: id, subscribers: make(map[string]*Subscription)}
}

// ID returns the handle's id.
func (h *OutputHandle) ID() string { return h.id }

// IsConnected reports whether at least one edge subscribes to this handle.
func (h *OutputHandle) IsConnected() bool { return h.connectCount.Load() > 0 }

// ConnectCount returns the number of subscribing edges.
func (h *OutputHandle) ConnectCount() int64 { return h.connectCount.Load() }

// Subscribe creates a new input-side subscription, incrementing
// connect_count. Edges added after node initialization are disallowed by
// the graph package, not here.
func (h *OutputHandle) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		ch:     make(chan Event, subscriberBuffer),
		source: h,
	}
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	h.connectCount.Add(1)
	return sub
}

// unsubscribe removes sub, decrementing connect_count. Called when the
// owning input handle's node is torn down.
func (h *OutputHandle) unsubscribe(id string) {
	h.mu.Lock()
	if _, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		h.mu.Unlock()
		h.connectCount.Add(-1)
		return
	}
	h.mu.Unlock()
}

// Publish fans e out to every subscriber. Sends never block the publisher:
// a full subscriber buffer has its oldest unread event dropped to make
// room, and the subscriber's lag counter is incremented (the Go analogue of
// observing Lagged(n) on a tokio broadcast receiver).
func (h *OutputHandle) Publish(e Event) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
			select {
			case <-s.ch:
				s.lagged.Add(1)
			default:
			}
			select {
			case s.ch <- e:
			default:
			}
		}
	}
}

// Subscription is the input-handle side of a broadcast edge: bound to one
// source (from_node_id, from_handle_id) via the OutputHandle it was
// created from.
type Subscription struct {
	id     string
	ch     chan Event
	source *OutputHandle
	lagged atomic.Uint64
}

// Events returns the channel listener tasks select on.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Lagged returns and resets the count of events dropped since the last call,
// mirroring tokio::broadcast::error::RecvError::Lagged(n).
func (s *Subscription) Lagged() uint64 { return s.lagged.Swap(0) }

// Close unsubscribes from the source output handle.
func (s *Subscription) Close() { s.source.unsubscribe(s.id) }
