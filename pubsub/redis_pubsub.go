package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var errRedisPubSubClosed = errors.New("pubsub: redis pubsub is closed")

// redisSubscription pairs a subscription with its listener goroutine.
type redisSubscription struct {
	*Subscription
	queueKey string
	cancel   context.CancelFunc
	done     chan struct{}
}

// RedisPubSub implements the PubSub interface using Redis lists. Publish
// appends with RPUSH and listeners pop with BLPOP, so delivery is FIFO and
// each message reaches one listener per list.
type RedisPubSub struct {
	client redis.Cmdable
	opts   redisOptions
	mu     sync.RWMutex
	closed bool
	subs   map[string]*redisSubscription
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(client redis.Cmdable, opts ...RedisOption) PubSub {
	if client == nil {
		panic("pubsub: redis client cannot be nil")
	}
	o := defaultRedisOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisPubSub{
		client: client,
		opts:   o,
		subs:   make(map[string]*redisSubscription),
	}
}

func (r *RedisPubSub) queueKey(topic string) string {
	return r.opts.keyPrefix + topic
}

// Publish serializes each message and appends it to the topic's list.
func (r *RedisPubSub) Publish(ctx context.Context, topic string, messages ...*Message) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return errRedisPubSubClosed
	}

	key := r.queueKey(topic)
	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("failed to marshal message")
			continue
		}
		if err := r.client.RPush(ctx, key, payload).Err(); err != nil {
			log.Error().Err(err).Str("topic", topic).Str("queue_key", key).Msg("failed to RPUSH message to redis")
			return fmt.Errorf("failed to push message to redis: %w", err)
		}
	}
	return nil
}

// Subscribe starts a listener goroutine for topic.
func (r *RedisPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", errRedisPubSubClosed
	}
	base, err := newSubscription(topic, handler)
	if err != nil {
		return "", err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		Subscription: base,
		queueKey:     r.queueKey(topic),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	r.subs[sub.ID] = sub
	go r.listenLoop(listenCtx, sub)

	log.Debug().Str("subscription_id", sub.ID).Str("topic", topic).Str("queue_key", sub.queueKey).Msg("new redis subscription created")
	return sub.ID, nil
}

// Unsubscribe stops the listener and waits for it to exit.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, id string) error {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.subs, id)
	r.mu.Unlock()

	r.stop(sub)
	log.Debug().Str("subscription_id", id).Str("topic", sub.Topic).Msg("redis subscription removed")
	return nil
}

// Close stops every listener.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[string]*redisSubscription)
	r.mu.Unlock()

	for _, sub := range subs {
		r.stop(sub)
	}
	log.Info().Int("subscriptions", len(subs)).Msg("redis pubsub closed")
	return nil
}

func (r *RedisPubSub) stop(sub *redisSubscription) {
	_ = sub.Subscription.Close()
	sub.cancel()
	<-sub.done
}

// listenLoop pops messages until ctx is canceled.
func (r *RedisPubSub) listenLoop(ctx context.Context, sub *redisSubscription) {
	defer close(sub.done)
	log.Debug().Str("subscription_id", sub.ID).Str("queue_key", sub.queueKey).Msg("starting redis listener loop")

	for {
		if ctx.Err() != nil {
			return
		}
		result, err := r.client.BLPop(ctx, r.opts.blockTimeout, sub.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing queued
			}
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("subscription_id", sub.ID).Str("queue_key", sub.queueKey).Msg("redis BLPOP error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// result is []string{queueKey, messageData}
		if len(result) != 2 {
			log.Error().Str("subscription_id", sub.ID).Int("result_len", len(result)).Msg("invalid result format from BLPOP")
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
			log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to unmarshal message from redis")
			continue
		}
		if err := sub.deliver(ctx, []*Message{&msg}); err != nil && !errors.Is(err, errSubscriptionClosed) && ctx.Err() == nil {
			log.Error().Err(err).Str("subscription_id", sub.ID).Str("topic", sub.Topic).Msg("failed to deliver message from redis")
		}
	}
}

// Ensure RedisPubSub implements PubSub interface
var _ PubSub = (*RedisPubSub)(nil)
