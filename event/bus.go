package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// subscriberQueueSize bounds how many undelivered events a slow subscriber
// may accumulate before publishers start blocking on it.
const subscriberQueueSize = 256

// Handler processes one event. Errors are logged by the bus; they never
// propagate back to the publisher.
type Handler func(ctx context.Context, evt Event) error

// subscriber owns a FIFO queue drained by a single goroutine, which is what
// preserves per-job ordering for that subscriber.
type subscriber struct {
	name    string
	types   map[Type]bool
	queue   chan Event
	handler Handler
}

func (s *subscriber) wants(t Type) bool {
	if len(s.types) == 0 {
		return true // no filter = all events
	}
	return s.types[t]
}

// Bus is the in-process publish/subscribe channel. Publish enqueues the event
// on every matching subscriber's queue and returns; each subscriber's
// goroutine delivers in FIFO order. Sends block rather than drop, so a
// subscriber falling far behind applies backpressure instead of losing events.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	logger *zap.SugaredLogger
}

// NewBus creates an event bus. The logger may be nil.
func NewBus(logger *zap.SugaredLogger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Subscribe registers a handler for the given event types (no types = all).
// Each subscriber gets its own delivery goroutine.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) {
	typeSet := make(map[Type]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	sub := &subscriber{
		name:    name,
		types:   typeSet,
		queue:   make(chan Event, subscriberQueueSize),
		handler: handler,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliverLoop(sub)
}

// deliverLoop drains one subscriber's queue until the bus closes.
func (b *Bus) deliverLoop(sub *subscriber) {
	defer b.wg.Done()
	for evt := range sub.queue {
		if err := sub.handler(b.ctx, evt); err != nil {
			if b.logger != nil {
				b.logger.Errorw("Event handler failed",
					"subscriber", sub.name,
					"event_id", evt.ID,
					"event_type", evt.Type,
					"job_id", evt.JobID,
					"error", err,
				)
			}
		}
	}
}

// Publish enqueues the event for every matching subscriber. It blocks if a
// subscriber's queue is full, so an event accepted by Publish is guaranteed
// to reach every subscriber within this process lifetime.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.wants(evt.Type) {
			sub.queue <- evt
		}
	}

	if b.logger != nil {
		b.logger.Debugw("Event published",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"job_id", evt.JobID,
		)
	}
}

// Close stops accepting events and waits for all queued events to be
// delivered before returning.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.cancel()
}
