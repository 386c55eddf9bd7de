// Package pubsub relays extension lifecycle notifications (loaded, failed,
// callback submitted, deinitialized) to interested observers.
//
// Two backends exist: an in-memory one that calls handlers synchronously in
// the publishing goroutine, and a Redis one that appends to a list per topic
// so observers in other processes can follow along.
package pubsub

import (
	"context"
	"encoding/json"
)

// Message is a single notification.
type Message struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage encodes payload as JSON.
func NewMessage(topic string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Topic: topic, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler receives messages for one subscription.
type Handler func(ctx context.Context, msg *Message)

// PubSub defines the interface for a publish/subscribe backend.
type PubSub interface {
	// Publish sends messages to every subscriber of topic.
	Publish(ctx context.Context, topic string, messages ...*Message) error

	// Subscribe registers handler for topic and returns a subscription ID.
	Subscribe(ctx context.Context, topic string, handler Handler) (string, error)

	// Unsubscribe removes the subscription with the given ID.
	Unsubscribe(ctx context.Context, id string) error

	// Close shuts down the backend, cleaning up resources.
	Close() error
}
