// Package eventbus fans out engine events to many subscribers with bounded
// lag semantics: at-least-once delivery for everything except
// Progress, which is lossy under a slow subscriber and instead surfaces a
// distinct "lagged" signal so the subscriber can resync via a full List().
package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
)

// DefaultBufferSize is the per-subscriber mailbox capacity. A subscriber
// that cannot keep up with this many buffered events before the producer's
// next send either drops a lossy Progress event or, for a guaranteed-kind
// event, blocks the publisher until that subscriber drains a slot.
const DefaultBufferSize = 64

// Subscription is a single subscriber's view of the bus. Events() yields
// every delivered DownloadEvent; Lagged() fires once each time this
// subscriber's buffer overflowed and a Progress event had to be dropped, at
// which point the subscriber MUST resync via a full List() call.
type Subscription struct {
	events chan core.DownloadEvent
	lagged chan struct{}
	done   chan struct{}

	bus *Bus
	id  uint64
}

// Events returns the channel of delivered events.
func (s *Subscription) Events() <-chan core.DownloadEvent {
	return s.events
}

// Lagged returns a channel that receives a signal each time this
// subscription dropped a Progress event due to a full buffer.
func (s *Subscription) Lagged() <-chan struct{} {
	return s.lagged
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Bus is a single-producer, multi-consumer broadcast channel. The engine
// holds the sole Bus reference with publish rights; every other component
// only ever receives a *Subscription.
type Bus struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
}

// New constructs an empty Bus.
func New(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new Subscription with a fresh bounded mailbox.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := &Subscription{
		events: make(chan core.DownloadEvent, DefaultBufferSize),
		lagged: make(chan struct{}, 1),
		done:   make(chan struct{}),
		bus:    b,
		id:     id,
	}
	b.subs[id] = sub
	return sub
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.done)
	}
}

// Publish broadcasts ev to every current subscriber. For guaranteed-kind
// events (everything except Progress) Publish blocks until every
// subscriber's mailbox has room, bounding publish latency to the slowest
// subscriber's consume rate but never dropping the event. For Progress it
// never blocks: a full mailbox drops the event and signals Lagged instead.
func (b *Bus) Publish(ev core.DownloadEvent) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return
	}

	for _, s := range subs {
		if ev.Kind == core.EventProgress {
			select {
			case s.events <- ev:
			case <-s.done:
			default:
				select {
				case s.lagged <- struct{}{}:
				default:
				}
				if b.logger != nil {
					b.logger.Warnw("subscriber lagging, dropped progress event",
						"download_id", ev.ID.Short())
				}
			}
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
}

// Close unregisters every subscriber and marks the bus closed; subsequent
// Publish calls are no-ops. It is the engine's responsibility to call this
// exactly once during Shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}
