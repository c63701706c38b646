// Package eventbus is an in-process pub/sub fabric delivering
// recipient-lifecycle events to engine subscribers (spec §4.8). Delivery is
// fire-and-forget: publishers never block on subscriber completion, and one
// subscriber's failure never prevents others from running.
package eventbus

import (
	"context"
	"log/slog"

	"github.com/rhewin/birthday-notifier/internal/domain"
)

// Handler processes one published event. ctx carries the event's trace id.
// A returned error is logged but never propagated to the publisher or to
// sibling subscribers.
type Handler func(ctx context.Context, payload any) error

type Bus struct {
	logger      *slog.Logger
	subscribers map[domain.Topic][]Handler
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:      logger.With("component", "eventbus"),
		subscribers: make(map[domain.Topic][]Handler),
	}
}

// Subscribe registers handler for topic. Not safe to call concurrently with
// Publish — register all subscribers at process start before serving traffic.
func (b *Bus) Subscribe(topic domain.Topic, handler Handler) {
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish fans out payload to every subscriber of topic on its own goroutine.
// A panicking or erroring subscriber is isolated and logged with traceID; it
// never prevents its siblings from running.
func (b *Bus) Publish(ctx context.Context, topic domain.Topic, payload any, traceID string) {
	handlers := b.subscribers[topic]
	if len(handlers) == 0 {
		return
	}

	for _, h := range handlers {
		go b.deliver(ctx, topic, h, payload, traceID)
	}
}

func (b *Bus) deliver(ctx context.Context, topic domain.Topic, handler Handler, payload any, traceID string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"topic", topic, "trace_id", traceID, "panic", r)
		}
	}()
	if err := handler(ctx, payload); err != nil {
		b.logger.Error("subscriber failed",
			"topic", topic, "trace_id", traceID, "error", err)
	}
}
