package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscription channel capacity. A subscriber
// that falls this far behind the publisher is dropped rather than allowed to
// stall the workflow.
const DefaultBufferSize = 64

// Subscription is one subscriber's ordered view of a document's events. The
// channel is closed when the subscription is dropped or unsubscribed.
type Subscription struct {
	ID         string
	DocumentID string
	C          <-chan Event

	ch chan Event
}

// Bus routes events to per-document subscribers. Publishes for a given
// document must come from a single goroutine at a time; the workflow engine
// serializes stage execution per document, which guarantees that.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[string]*Subscription
	buffer int
	logger *slog.Logger

	total   int
	onDrop  func(documentID string)
	onCount func(total int)
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize overrides the per-subscription channel capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDropHook registers a callback invoked whenever a subscription is
// dropped for falling behind. Used to feed metrics.
func WithDropHook(fn func(documentID string)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// WithCountHook registers a callback observing the total subscriber count
// after every change. Used to feed metrics.
func WithCountHook(fn func(total int)) Option {
	return func(b *Bus) { b.onCount = fn }
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:   make(map[string]map[string]*Subscription),
		buffer: DefaultBufferSize,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber for a document's events.
func (b *Bus) Subscribe(documentID string) *Subscription {
	sub := &Subscription{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		ch:         make(chan Event, b.buffer),
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[documentID] == nil {
		b.subs[documentID] = make(map[string]*Subscription)
	}
	b.subs[documentID][sub.ID] = sub
	b.total++
	if b.onCount != nil {
		b.onCount(b.total)
	}
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub.DocumentID, sub.ID)
}

// Publish delivers an event to every subscriber of the document. Subscribers
// whose buffers are full are dropped so one stalled reader cannot block the
// pipeline or delay its peers.
func (b *Bus) Publish(documentID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped []string
	for id, sub := range b.subs[documentID] {
		select {
		case sub.ch <- ev:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		b.logger.Warn("dropping slow event subscriber",
			"document_id", documentID,
			"subscription_id", id,
			"event", ev.EventKind())
		b.remove(documentID, id)
		if b.onDrop != nil {
			b.onDrop(documentID)
		}
	}
}

// SubscriberCount reports how many subscriptions a document has.
func (b *Bus) SubscriberCount(documentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[documentID])
}

// Close drops every subscription on the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for docID, subs := range b.subs {
		for id := range subs {
			b.remove(docID, id)
		}
	}
}

// remove must be called with b.mu held.
func (b *Bus) remove(documentID, subID string) {
	subs := b.subs[documentID]
	sub, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subs, documentID)
	}
	close(sub.ch)
	b.total--
	if b.onCount != nil {
		b.onCount(b.total)
	}
}
