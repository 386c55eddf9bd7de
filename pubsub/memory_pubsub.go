package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var errMemoryPubSubClosed = errors.New("pubsub: memory pubsub is closed")

// MemoryPubSub implements the PubSub interface using in-memory data structures.
// Handlers run synchronously in the publishing goroutine.
type MemoryPubSub struct {
	mu     sync.RWMutex
	closed bool
	topics map[string]map[string]*Subscription // topic -> subID -> Subscription
	subs   map[string]*Subscription            // subID -> Subscription (for fast unsubscribe)
	order  map[string][]string                 // topic -> subIDs in subscription order
}

// NewMemoryPubSub creates a new in-memory PubSub instance.
func NewMemoryPubSub() PubSub {
	return &MemoryPubSub{
		topics: make(map[string]map[string]*Subscription),
		subs:   make(map[string]*Subscription),
		order:  make(map[string][]string),
	}
}

// Publish delivers messages to every current subscriber of topic, in
// subscription order.
func (m *MemoryPubSub) Publish(ctx context.Context, topic string, messages ...*Message) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errMemoryPubSubClosed
	}
	subs := m.getSubscriptionsForTopicLocked(topic)
	m.mu.RUnlock() // release before running handlers

	for _, sub := range subs {
		if err := sub.deliver(ctx, messages); err != nil {
			if errors.Is(err, errSubscriptionClosed) {
				continue
			}
			return err
		}
	}
	return nil
}

// Subscribe creates a new subscription.
func (m *MemoryPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", errMemoryPubSubClosed
	}

	sub, err := newSubscription(topic, handler)
	if err != nil {
		return "", err
	}

	if _, ok := m.topics[topic]; !ok {
		m.topics[topic] = make(map[string]*Subscription)
	}
	m.topics[topic][sub.ID] = sub
	m.subs[sub.ID] = sub
	m.order[topic] = append(m.order[topic], sub.ID)

	log.Debug().Str("subscription_id", sub.ID).Str("topic", topic).Msg("new subscription created")
	return sub.ID, nil
}

// Unsubscribe removes a subscription.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return nil // already gone
	}
	delete(m.subs, id)
	if topicSubs, ok := m.topics[sub.Topic]; ok {
		delete(topicSubs, id)
		if len(topicSubs) == 0 {
			delete(m.topics, sub.Topic)
		}
	}
	ids := m.order[sub.Topic]
	for i, sid := range ids {
		if sid == id {
			m.order[sub.Topic] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(m.order[sub.Topic]) == 0 {
		delete(m.order, sub.Topic)
	}
	m.mu.Unlock()

	if err := sub.Close(); err != nil {
		log.Error().Err(err).Str("subscription_id", id).Msg("error closing subscription during unsubscribe")
	}
	log.Debug().Str("subscription_id", id).Str("topic", sub.Topic).Msg("subscription removed")
	return nil
}

// Close shuts down the MemoryPubSub instance.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subsToClose := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subsToClose = append(subsToClose, sub)
	}
	m.topics = make(map[string]map[string]*Subscription)
	m.subs = make(map[string]*Subscription)
	m.order = make(map[string][]string)
	m.mu.Unlock()

	for _, sub := range subsToClose {
		_ = sub.Close()
	}
	log.Info().Int("subscriptions", len(subsToClose)).Msg("memory pubsub closed")
	return nil
}

// getSubscriptionsForTopicLocked returns a copy of the topic's subscriptions.
// Requires RLock to be held.
func (m *MemoryPubSub) getSubscriptionsForTopicLocked(topic string) []*Subscription {
	ids := m.order[topic]
	if len(ids) == 0 {
		return nil
	}
	subs := make([]*Subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := m.topics[topic][id]; ok {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Ensure MemoryPubSub implements PubSub interface
var _ PubSub = (*MemoryPubSub)(nil)
