package pubsub

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	errNilHandler         = errors.New("pubsub: handler cannot be nil")
	errSubscriptionClosed = errors.New("pubsub: subscription is closed")
)

// Subscription represents a single subscription to a topic.
type Subscription struct {
	ID      string
	Topic   string
	handler Handler
	closed  atomic.Bool
}

func newSubscription(topic string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errNilHandler
	}
	return &Subscription{
		ID:      uuid.NewString(),
		Topic:   topic,
		handler: handler,
	}, nil
}

// deliver runs the handler for each message. A panicking handler is logged
// and does not affect the publisher.
func (s *Subscription) deliver(ctx context.Context, messages []*Message) error {
	if s.closed.Load() {
		return errSubscriptionClosed
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("subscription_id", s.ID).Str("topic", s.Topic).Interface("panic", r).Msg("subscription handler panicked")
		}
	}()
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.handler(ctx, msg)
	}
	return nil
}

// Close marks the subscription closed; later deliveries are dropped.
func (s *Subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	log.Debug().Str("subscription_id", s.ID).Str("topic", s.Topic).Msg("subscription closed")
	return nil
}
