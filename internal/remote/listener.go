package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/metrics"
	"github.com/smartwinnr/callturn/internal/pubsub"
)

// Target receives decoded speaking messages. The turn coordinator satisfies it.
type Target interface {
	RemoteMessage(kind domain.MessageKind, participant string)
}

// Listener feeds one call's signal topic into a Target. Decoding happens on
// the pub/sub delivery goroutine; only the decoded message reaches the target.
type Listener struct {
	ps      pubsub.PubSub
	callID  string
	target  Target
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu  sync.Mutex
	sub pubsub.Subscription
}

// NewListener creates a Listener for callID.
func NewListener(ps pubsub.PubSub, callID string, target Target, m *metrics.Metrics, logger *slog.Logger) *Listener {
	return &Listener{
		ps:      ps,
		callID:  callID,
		target:  target,
		metrics: m,
		logger:  logger.With("component", "remote", "call_id", callID),
	}
}

// Start subscribes to the call's signal topic.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub != nil {
		return nil
	}
	sub, err := l.ps.Subscribe(ctx, pubsub.Topics.Signals(l.callID), l.handle)
	if err != nil {
		return fmt.Errorf("subscribe to signals: %w", err)
	}
	l.sub = sub
	return nil
}

// Stop unsubscribes. Safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub == nil {
		return
	}
	if err := l.sub.Unsubscribe(); err != nil {
		l.logger.Warn("failed to unsubscribe from signals", "error", err)
	}
	l.sub = nil
}

func (l *Listener) handle(ctx context.Context, msg *pubsub.Message) {
	m, err := DecodeEnvelope(Envelope{Type: msg.Type, Payload: msg.Payload})
	if err != nil {
		reason := metrics.DropMalformed
		if errors.Is(err, domain.ErrUnknownMessageType) {
			reason = metrics.DropUnknownType
		}
		l.logger.Warn("ignoring server message", "type", msg.Type, "error", err)
		l.metrics.SignalDropped(reason)
		return
	}

	l.metrics.RemoteMessage(string(m.Kind))
	l.logger.Debug("server message", "type", m.Kind, "participant", m.Participant, "reason", m.Reason)
	l.target.RemoteMessage(m.Kind, m.Participant)
}
