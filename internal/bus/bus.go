// Package bus provides a small synchronous pub/sub fan-out used to deliver
// connection lifecycle and data events to collaborators.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// DefaultReplayCapacity is the size of the recent-event ring kept for
// late-attaching subscribers.
const DefaultReplayCapacity = 32

// Token identifies a subscription and is used to cancel it.
type Token string

// Bus dispatches events of type T to all subscribers synchronously, in
// subscription order. A panicking subscriber is logged and skipped; it never
// prevents delivery to the remaining subscribers and never propagates to the
// publisher.
type Bus[T any] struct {
	mu     sync.RWMutex
	order  []Token
	subs   map[Token]func(T)
	recent mpmc.RichOverlappedRingBuffer[T]
	logger *logrus.Logger
}

// New creates a Bus with the default replay capacity.
func New[T any](logger *logrus.Logger) *Bus[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus[T]{
		subs:   make(map[Token]func(T)),
		recent: mpmc.NewOverlappedRingBuffer[T](uint32(DefaultReplayCapacity)),
		logger: logger,
	}
}

// Subscribe registers a handler and returns a token for Unsubscribe. Handlers
// are invoked on the publisher's goroutine; long-running work belongs on the
// subscriber's side of a channel.
func (b *Bus[T]) Subscribe(handler func(T)) Token {
	token := Token(uuid.NewString())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = append(b.order, token)
	b.subs[token] = handler
	return token
}

// Unsubscribe removes a subscription. Unknown tokens are a no-op.
func (b *Bus[T]) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[token]; !ok {
		return
	}
	delete(b.subs, token)
	for i, t := range b.order {
		if t == token {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers event to every current subscriber and records it in the
// replay ring. The oldest replay entry is overwritten when the ring is full.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	handlers := make([]func(T), 0, len(b.order))
	for _, token := range b.order {
		handlers = append(handlers, b.subs[token])
	}
	b.mu.RUnlock()

	if _, err := b.recent.EnqueueM(event); err != nil {
		b.logger.WithField("error", err).Warn("Failed to record event in replay ring")
	}

	for _, handler := range handlers {
		b.dispatch(handler, event)
	}
}

func (b *Bus[T]) dispatch(handler func(T), event T) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.WithField("panic", rec).Error("Event subscriber panicked")
		}
	}()
	handler(event)
}

// Recent drains and returns the buffered recent events, oldest first. Intended
// for collaborators attaching after the fact (e.g. a UI catching up on the
// last readings).
func (b *Bus[T]) Recent() []T {
	var out []T
	for !b.recent.IsEmpty() {
		v, err := b.recent.Dequeue()
		if err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
