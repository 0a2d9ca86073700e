package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/smartwinnr/callturn/internal/pubsub"
	"github.com/smartwinnr/callturn/internal/turn"
)

const publishTimeout = 2 * time.Second

// PubSubNotifier forwards coordinator notifications to the call topic so
// every connected client, on any instance, renders the same state.
type PubSubNotifier struct {
	ps     pubsub.PubSub
	callID string
	logger *slog.Logger
}

// NewPubSubNotifier creates a notifier for callID.
func NewPubSubNotifier(ps pubsub.PubSub, callID string, logger *slog.Logger) *PubSubNotifier {
	return &PubSubNotifier{
		ps:     ps,
		callID: callID,
		logger: logger.With("component", "notifier", "call_id", callID),
	}
}

// Notify publishes n. Failures are logged; the coordinator never waits on them.
func (n *PubSubNotifier) Notify(note turn.Notification) {
	if err := n.publish(note.EventType(), note); err != nil {
		n.logger.Warn("failed to publish notification", "event", note.EventType(), "error", err)
	}
}

func (n *PubSubNotifier) publish(eventType string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	topic := pubsub.Topics.Call(n.callID)
	msg, err := pubsub.NewMessage(topic, eventType, payload)
	if err != nil {
		return err
	}
	return n.ps.Publish(ctx, topic, msg)
}
