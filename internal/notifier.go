package internal

import (
	"sync"
	"sync/atomic"
)

// subscriberHolder is one channel subscriber and its delivery counters.
type subscriberHolder struct {
	id      string
	ch      chan<- Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Notifier fans out sequence growth.
//
// Two kinds of listeners:
//   - Observers: called synchronously, in registration order, once per append.
//     No removal (an observer lives as long as the sequence).
//   - Channel subscribers: non-blocking send of an Event; a full channel drops
//     the event for that subscriber only (counted in its stats).
//
// Notify never blocks on a channel subscriber. It does block for as long as
// the observers take, so observers must be quick.
type Notifier struct {
	mu          sync.RWMutex
	observers   []Observer
	subscribers map[string]*subscriberHolder
	closed      bool

	notified atomic.Uint64
}

// SubscriberStats tracks event delivery for one channel subscriber.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// NotifierStats is a snapshot of notifier state.
type NotifierStats struct {
	Observers    int                        `json:"observers"`
	Notified     uint64                     `json:"notified"`
	TotalSent    uint64                     `json:"total_sent"`
	TotalDropped uint64                     `json:"total_dropped"`
	Subscribers  map[string]SubscriberStats `json:"subscribers"`
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[string]*subscriberHolder),
	}
}

// AddObserver appends o to the observer list.
func (n *Notifier) AddObserver(o Observer) error {
	if o == nil {
		return ErrNilObserver
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNotifierClosed
	}

	n.observers = append(n.observers, o)
	return nil
}

// Subscribe registers ch to receive an Event for every append.
func (n *Notifier) Subscribe(id string, ch chan<- Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNotifierClosed
	}

	if _, exists := n.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	if ch == nil {
		return ErrNilChannel
	}

	n.subscribers[id] = &subscriberHolder{id: id, ch: ch}

	logger().Debug("notifier: subscriber added", "component", "notifier", "subscriber", id)
	return nil
}

// Unsubscribe removes a channel subscriber. The channel is not closed.
func (n *Notifier) Unsubscribe(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(n.subscribers, id)
	return nil
}

// Notify delivers ev to every subscriber, then calls every observer.
//
// Must be called without any sequence lock held: observers typically read
// the sequence back (Last, LastK).
func (n *Notifier) Notify(ev Event) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}

	n.notified.Add(1)

	for _, holder := range n.subscribers {
		select {
		case holder.ch <- ev:
			holder.sent.Add(1)
		default:
			holder.dropped.Add(1)
		}
	}

	// Snapshot so observers may register further observers without deadlock
	observers := make([]Observer, len(n.observers))
	copy(observers, n.observers)
	n.mu.RUnlock()

	for _, o := range observers {
		o.Update()
	}
}

// Stats returns a snapshot of notifier state.
func (n *Notifier) Stats() NotifierStats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	stats := NotifierStats{
		Observers:   len(n.observers),
		Notified:    n.notified.Load(),
		Subscribers: make(map[string]SubscriberStats, len(n.subscribers)),
	}

	for id, holder := range n.subscribers {
		s := SubscriberStats{
			Sent:    holder.sent.Load(),
			Dropped: holder.dropped.Load(),
		}
		stats.Subscribers[id] = s
		stats.TotalSent += s.Sent
		stats.TotalDropped += s.Dropped
	}

	return stats
}

// Close drops all listeners. Further Notify calls are no-ops.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	n.closed = true
	n.observers = nil
	n.subscribers = nil
}
