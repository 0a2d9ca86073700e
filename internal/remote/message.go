// Package remote carries authoritative speaking messages from the server
// pipeline to a call's turn coordinator.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/pubsub"
)

// Envelope is the wire format of a server message.
type Envelope struct {
	Label   string          `json:"label,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload is the optional body of a speaking message.
type Payload struct {
	Participant string `json:"participant,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Message is a decoded speaking message.
type Message struct {
	Kind        domain.MessageKind
	Participant string
	Reason      string
}

// ParseKind normalizes a wire type. Underscore spellings and case
// differences are accepted.
func ParseKind(typ string) (domain.MessageKind, error) {
	kind := domain.MessageKind(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(typ), "_", "-")))
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, typ)
	}
	return kind, nil
}

// Decode parses a JSON envelope.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope validates an already-parsed envelope.
func DecodeEnvelope(env Envelope) (Message, error) {
	if env.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	}

	kind, err := ParseKind(env.Type)
	if err != nil {
		return Message{}, err
	}

	var p Payload
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("%w: payload: %v", domain.ErrMalformedMessage, err)
		}
	}

	return Message{Kind: kind, Participant: p.Participant, Reason: p.Reason}, nil
}

// Publish puts m on the call's signal topic.
func Publish(ctx context.Context, ps pubsub.PubSub, callID string, m Message) error {
	topic := pubsub.Topics.Signals(callID)
	msg, err := pubsub.NewMessage(topic, string(m.Kind), Payload{Participant: m.Participant, Reason: m.Reason})
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	if err := ps.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}
