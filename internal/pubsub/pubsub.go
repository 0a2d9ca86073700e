// Package pubsub provides an interface-driven pub/sub system for realtime messaging.
// The in-memory implementation serves a single instance; Redis fans out across instances.
package pubsub

import (
	"context"
	"encoding/json"
)

// Message represents a pub/sub message with typed payload
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler is a callback for processing messages
type Handler func(ctx context.Context, msg *Message)

// Subscription represents an active subscription that can be closed
type Subscription interface {
	// Unsubscribe removes the subscription
	Unsubscribe() error
}

// PubSub defines the interface for publish/subscribe operations.
// All implementations must be safe for concurrent use.
type PubSub interface {
	// Publish sends a message to all subscribers of the given topic.
	// Returns error if the message could not be published.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers a handler for messages on the given topic.
	// The handler is called for each message published to the topic, one at
	// a time and in publish order.
	// Returns a Subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close shuts down the pub/sub system and releases resources.
	Close() error
}

// TopicBuilder helps construct consistent topic names
type TopicBuilder struct{}

// Call returns the topic carrying turn notifications for a call
func (t TopicBuilder) Call(callID string) string {
	return "call:" + callID
}

// Signals returns the topic carrying server speaking messages for a call
func (t TopicBuilder) Signals(callID string) string {
	return "signals:" + callID
}

// Topics is a helper for building topic names
var Topics = TopicBuilder{}

// NewMessage builds a Message with a JSON-encoded payload.
func NewMessage(topic, msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Topic: topic, Type: msgType, Payload: data}, nil
}
