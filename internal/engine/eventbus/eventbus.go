// Package eventbus implements a compile-time-typed publish/subscribe fan-out
// over a closed set of channel names, generalizing the teacher's
// internal/alert.AlertManager fan-out into the full channel set consumed by
// dashboard-style subscribers.
package eventbus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tommyca/spotengine/internal/core"
	"github.com/tommyca/spotengine/internal/engine/types"
	"github.com/tommyca/spotengine/pkg/concurrency"
)

// MaxSubscribersPerChannel bounds fan-out so a leaking consumer cannot grow
// the subscriber list without limit.
const MaxSubscribersPerChannel = 200

// ErrSubscriberLimitReached is returned by Subscribe when a channel is full.
var ErrSubscriberLimitReached = errors.New("eventbus: subscriber limit reached for channel")

// ErrUnknownChannel is returned for any channel name outside the closed set.
var ErrUnknownChannel = errors.New("eventbus: unknown channel")

var knownChannels = map[types.Channel]bool{
	types.ChannelPrice:     true,
	types.ChannelTrades:    true,
	types.ChannelPositions: true,
	types.ChannelAlerts:    true,
	types.ChannelMetrics:   true,
	types.ChannelSentiment: true,
}

// Handler receives a published payload. Its shape must match the channel's
// payload type (see types.ChannelPayloads in SPEC_FULL.md); handlers type-assert
// on receipt. A returned error is isolated — it is logged and does not stop
// delivery to other subscribers on the same channel.
type Handler func(payload interface{}) error

type subscription struct {
	id      uint64
	handler Handler
	pool    *concurrency.WorkerPool
}

// Bus is the event bus implementation backing the Typed Event Bus component (C13).
type Bus struct {
	mu     sync.RWMutex
	subs   map[types.Channel][]*subscription
	nextID uint64
	logger core.ILogger
}

func New(logger core.ILogger) *Bus {
	return &Bus{
		subs:   make(map[types.Channel][]*subscription),
		logger: logger.WithField("component", "event_bus"),
	}
}

// Subscribe registers handler on channel and returns an unsubscribe function.
// Each subscriber is backed by its own single-worker, bounded-queue pool so a
// handler that blocks or falls behind only drops its own deliveries instead
// of slowing down Publish or other subscribers on the same channel.
func (b *Bus) Subscribe(channel types.Channel, handler Handler) (func(), error) {
	if !knownChannels[channel] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs[channel]) >= MaxSubscribersPerChannel {
		return nil, fmt.Errorf("%w: %s", ErrSubscriberLimitReached, channel)
	}

	b.nextID++
	id := b.nextID
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        fmt.Sprintf("eventbus-%s-%d", channel, id),
		MaxWorkers:  1,
		MaxCapacity: 64,
		NonBlocking: true,
	}, b.logger)
	sub := &subscription{id: id, handler: handler, pool: pool}
	b.subs[channel] = append(b.subs[channel], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, s := range list {
			if s.id == id {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				s.pool.Stop()
				return
			}
		}
	}, nil
}

// Publish hands payload to every current subscriber of channel's own pool. A
// subscriber whose queue is full drops the payload (logged) rather than
// blocking the publisher or any other subscriber.
func (b *Bus) Publish(channel types.Channel, payload interface{}) error {
	if !knownChannels[channel] {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	b.mu.RLock()
	// copy the slice under the lock so handlers registered/removed mid-publish
	// don't race the delivery loop.
	list := make([]*subscription, len(b.subs[channel]))
	copy(list, b.subs[channel])
	b.mu.RUnlock()

	for _, s := range list {
		b.deliverOne(channel, s, payload)
	}
	return nil
}

func (b *Bus) deliverOne(channel types.Channel, s *subscription, payload interface{}) {
	err := s.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event bus subscriber panicked", "channel", string(channel), "subscriber_id", s.id, "panic", r)
			}
		}()
		if err := s.handler(payload); err != nil {
			b.logger.Warn("event bus subscriber returned error", "channel", string(channel), "subscriber_id", s.id, "error", err)
		}
	})
	if err != nil {
		b.logger.Warn("event bus subscriber queue full, dropping delivery", "channel", string(channel), "subscriber_id", s.id)
	}
}

// SubscriberCount reports the current subscriber count for a channel, for
// status/health reporting.
func (b *Bus) SubscriberCount(channel types.Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
