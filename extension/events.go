package extension

import (
	"context"
	"time"

	"github.com/bram-dingelstad/helix/pubsub"
	"github.com/rs/zerolog/log"
)

// Lifecycle topics published on the registry's broker.
const (
	TopicLoaded   = "extension.loaded"
	TopicFailed   = "extension.failed"
	TopicCallback = "extension.callback"
	TopicDeinit   = "extension.deinit"
)

// eventTimeout bounds one publish so a slow backend cannot stall the host
// goroutine or a submitting extension.
const eventTimeout = 500 * time.Millisecond

// Event is the payload of every lifecycle topic.
type Event struct {
	Extension    string `json:"extension"`
	Path         string `json:"path,omitempty"`
	Stage        Stage  `json:"stage,omitempty"`
	Capabilities string `json:"capabilities,omitempty"`
	Ticket       string `json:"ticket,omitempty"`
	Error        string `json:"error,omitempty"`
}

// emitter publishes lifecycle events. A nil broker drops them.
type emitter struct {
	broker *pubsub.Broker
}

func (e emitter) emit(topic string, ev Event) {
	if e.broker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := e.broker.Emit(ctx, topic, ev); err != nil {
		log.Warn().Err(err).Str("topic", topic).Str("extension", ev.Extension).Msg("failed to publish extension event")
	}
}
