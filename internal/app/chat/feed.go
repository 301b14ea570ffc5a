/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines feed, the fan-out used for presence and per-user session events.
Publishing never blocks: a subscriber whose buffer is full is dropped and its channel
closed, the same policy the websocket client applies to its send queue.
*/
package chat

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// subscriptionBuffer is the per-subscriber event queue length.
const subscriptionBuffer = 64

// Subscription is a live stream of events. The channel returned by Events is closed when
// the subscription is closed, when the feed ends, or when the subscriber fell too far behind.
type Subscription[T any] struct {
	ch     chan T
	feed   *feed[T]
	lagged atomic.Bool
}

// Lagged reports whether the subscription was dropped for falling behind, as opposed to
// being closed by its owner or by the end of the feed.
func (s *Subscription[T]) Lagged() bool {
	return s.lagged.Load()
}

// Events returns the receive side of the subscription.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once and after the feed ended.
func (s *Subscription[T]) Close() {
	s.feed.drop(s)
}

type feed[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
	logger zerolog.Logger
}

func newFeed[T any](logger zerolog.Logger) *feed[T] {
	return &feed[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		logger: logger,
	}
}

// subscribe registers a new subscriber. initial events are queued before any later publish.
// Subscribing to an ended feed returns an already closed subscription.
func (f *feed[T]) subscribe(initial ...T) *Subscription[T] {
	sub := &Subscription[T]{
		ch:   make(chan T, subscriptionBuffer+len(initial)),
		feed: f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ev := range initial {
		sub.ch <- ev
	}

	if f.closed {
		close(sub.ch)
		return sub
	}

	f.subs[sub] = struct{}{}
	return sub
}

// publish delivers ev to every subscriber without blocking.
func (f *feed[T]) publish(ev T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			f.logger.Warn().Msg("Subscriber queue full, dropping subscriber.")
			sub.lagged.Store(true)
			delete(f.subs, sub)
			close(sub.ch)
		}
	}
}

// drop removes a single subscriber and closes its channel.
func (f *feed[T]) drop(sub *Subscription[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[sub]; ok {
		delete(f.subs, sub)
		close(sub.ch)
	}
}

// close ends the feed for all subscribers. Later publishes are no-ops.
func (f *feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.ch)
	}
}

// count reports the number of live subscribers.
func (f *feed[T]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
