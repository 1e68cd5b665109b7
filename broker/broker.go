// Package broker fans events out to every gateway node. Each topic is an
// ordered log; subscribers start at the tail or resume after a known event.
package broker

import (
	"context"
	"errors"
)

// ErrTopicClosed ends a subscription whose topic was cleaned up.
var ErrTopicClosed = errors.New("broker: topic closed")

// Broker publishes to and follows named topics.
type Broker interface {
	// Publish appends data to topic and returns the assigned event ID.
	Publish(ctx context.Context, topic string, data []byte) (eventID string, err error)

	// Subscribe calls h for every event after lastEventID, or for every event
	// published after the call when lastEventID is empty or unknown. It blocks
	// until ctx ends, h returns an error, or the topic is cleaned up.
	Subscribe(ctx context.Context, topic, lastEventID string, h Handler) error

	// Cleanup drops the topic's stored events.
	Cleanup(ctx context.Context, topic string) error
}

// Handler receives events in publish order.
type Handler func(ctx context.Context, ev Envelope) error

// Envelope is one published event.
type Envelope struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}
