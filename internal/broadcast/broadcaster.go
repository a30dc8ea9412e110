// Package broadcast provides the in-process publish/subscribe channel that
// fans decisions and errors out to alert sinks and live subscribers.
package broadcast

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/tracker"
	"github.com/quantarc/signal-engine/pkg/types"
)

// EventType categorizes broadcast events.
type EventType string

const (
	EventSignal  EventType = "signal"
	EventUpgrade EventType = "upgrade"
	EventError   EventType = "error"
)

// ErrorPayload carries error events.
type ErrorPayload struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Event is one broadcast message. Signal and upgrade events always carry
// the full Decision payload; upgrade events additionally carry the upgrade
// context.
type Event struct {
	Type      EventType             `json:"type"`
	Timestamp time.Time             `json:"timestamp"`
	Decision  *types.Decision       `json:"decision,omitempty"`
	Upgrade   *tracker.UpgradeEvent `json:"upgrade,omitempty"`
	Error     *ErrorPayload         `json:"error,omitempty"`
}

// Subscriber is one persistent connection slot. Events arrive on C until
// Close or eviction; the channel is closed either way.
type Subscriber struct {
	ID string
	C  chan Event

	closeOnce sync.Once
	b         *Broadcaster
}

// Close releases the slot.
func (s *Subscriber) Close() {
	s.b.unsubscribe(s)
}

// Stats exposes broadcaster counters.
type Stats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Evicted     int64 `json:"evicted"`
	Subscribers int   `json:"subscribers"`
}

// Broadcaster is the process-wide fan-out hub. Writes are non-blocking per
// subscriber: a subscriber whose buffer is full is evicted rather than
// allowed to stall the scan loop.
type Broadcaster struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	nextID      atomic.Int64
	closed      bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	evicted   atomic.Int64
}

// New creates a broadcaster with the given per-subscriber buffer.
func New(logger *zap.Logger, bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broadcaster{
		logger:      logger,
		bufferSize:  bufferSize,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe allocates a slot.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID: "sub_" + strconv.FormatInt(b.nextID.Add(1), 10),
		C:  make(chan Event, b.bufferSize),
		b:  b,
	}
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// unsubscribe removes and closes a slot. The channel close happens under
// the write lock so it can never interleave with a Publish send, which
// holds the read lock.
func (b *Broadcaster) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, present := b.subscribers[sub.ID]; present {
		delete(b.subscribers, sub.ID)
		sub.closeOnce.Do(func() { close(sub.C) })
	}
}

// Publish delivers an event to every subscriber without blocking. Slots
// that cannot accept the write are evicted.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.published.Add(1)

	var evicted []*Subscriber

	b.mu.RLock()
	for _, sub := range b.subscribers {
		select {
		case sub.C <- event:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
			b.evicted.Add(1)
			evicted = append(evicted, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range evicted {
		b.logger.Warn("evicting slow subscriber", zap.String("subscriber", sub.ID))
		b.unsubscribe(sub)
	}
}

// PublishSignal publishes a new-signal event.
func (b *Broadcaster) PublishSignal(d *types.Decision) {
	b.Publish(Event{Type: EventSignal, Decision: d})
}

// PublishUpgrade publishes a grade-upgrade event with the decision that
// triggered it, so subscribers see the full levels and sizing.
func (b *Broadcaster) PublishUpgrade(d *types.Decision, u tracker.UpgradeEvent) {
	b.Publish(Event{Type: EventUpgrade, Decision: d, Upgrade: &u})
}

// PublishError publishes an error event.
func (b *Broadcaster) PublishError(source, message, details string) {
	b.Publish(Event{Type: EventError, Error: &ErrorPayload{Source: source, Message: message, Details: details}})
}

// SubscriberCount returns the live slot count.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// GetStats returns broadcaster counters.
func (b *Broadcaster) GetStats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Evicted:     b.evicted.Load(),
		Subscribers: b.SubscriberCount(),
	}
}

// Close evicts every subscriber and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.C) })
	}
}
