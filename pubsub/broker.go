package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var errBrokerClosed = errors.New("pubsub: broker not initialized")

// Broker acts as a wrapper around a PubSub implementation.
// It allows easy switching between the memory and Redis backends.
type Broker struct {
	impl PubSub
	mu   sync.RWMutex
}

// New creates a new Broker instance.
// By default, it uses the MemoryPubSub.
// Use WithRedisClient to select the Redis backend.
func New(opts ...BrokerOption) *Broker {
	options := &brokerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var ps PubSub
	if options.redisClient != nil {
		log.Info().Msg("initializing broker with redis pubsub backend")
		ps = NewRedisPubSub(options.redisClient, options.redisOpts...)
	} else {
		log.Info().Msg("initializing broker with memory pubsub backend")
		ps = NewMemoryPubSub()
	}
	return &Broker{impl: ps}
}

// Publish delegates the call to the underlying PubSub implementation.
func (b *Broker) Publish(ctx context.Context, topic string, messages ...*Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.impl == nil {
		return errBrokerClosed
	}
	return b.impl.Publish(ctx, topic, messages...)
}

// Emit encodes payload and publishes it on topic.
func (b *Broker) Emit(ctx context.Context, topic string, payload any) error {
	msg, err := NewMessage(topic, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, msg)
}

// Subscribe delegates the call to the underlying PubSub implementation.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler Handler) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.impl == nil {
		return "", errBrokerClosed
	}
	return b.impl.Subscribe(ctx, topic, handler)
}

// Unsubscribe delegates the call to the underlying PubSub implementation.
func (b *Broker) Unsubscribe(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.impl == nil {
		return errBrokerClosed
	}
	return b.impl.Unsubscribe(ctx, id)
}

// Close closes the underlying PubSub implementation.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.impl == nil {
		return nil
	}
	err := b.impl.Close()
	b.impl = nil
	return err
}
