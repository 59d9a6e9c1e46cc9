package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// DefaultCapacity is the buffer size given to each subscriber channel
// when none is supplied.
const DefaultCapacity = 256

// DefaultSendTimeout bounds how long Publish blocks trying to hand an
// event to a slow subscriber before giving up and dropping it.
const DefaultSendTimeout = 50 * time.Millisecond

// Bus is an in-process, best-effort notification bus. It is strictly
// separate from the durable outbox: a dropped Bus event never loses
// data, because nothing load-bearing may depend on it being delivered.
// Use it for local reactions — cache invalidation, the backorder sweep
// trigger, metrics — never for anything that must survive a crash.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	capacity    int
	sendTimeout time.Duration
	dropped     *prometheus.CounterVec
	logger      zerolog.Logger
}

type subscriber struct {
	ch chan Event
}

// New constructs a Bus. dropped may be nil, in which case drop counts
// are only logged, not exported as a metric.
func New(logger zerolog.Logger, dropped *prometheus.CounterVec) *Bus {
	return &Bus{
		subscribers: make(map[string][]*subscriber),
		capacity:    DefaultCapacity,
		sendTimeout: DefaultSendTimeout,
		dropped:     dropped,
		logger:      logger,
	}
}

// Subscribe registers a new receiver for eventType ("" subscribes to
// every event type) and returns a channel of events and an unsubscribe
// function.
func (b *Bus) Subscribe(eventType string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.capacity)}

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s == sub {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}

	return sub.ch, unsubscribe
}

// Publish fans an event out to every subscriber of its type and every
// wildcard ("") subscriber. It never blocks the caller for longer than
// sendTimeout per subscriber, and never returns an error — delivery is
// best-effort by design.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers[evt.Type])+len(b.subscribers[""]))
	targets = append(targets, b.subscribers[evt.Type]...)
	targets = append(targets, b.subscribers[""]...)
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		case <-ctx.Done():
			b.recordDrop(evt)
		case <-timer.C:
			b.recordDrop(evt)
			timer.Reset(b.sendTimeout)
		}
	}
}

func (b *Bus) recordDrop(evt Event) {
	if b.dropped != nil {
		b.dropped.WithLabelValues(evt.Type).Inc()
	}
	b.logger.Warn().
		Str("event_type", evt.Type).
		Str("aggregate_id", evt.AggregateID.String()).
		Msg("eventbus: dropped event, subscriber channel full")
}
