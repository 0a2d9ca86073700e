package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/metrics"
	"github.com/smartwinnr/callturn/internal/pubsub"
	"github.com/smartwinnr/callturn/internal/remote"
	"github.com/smartwinnr/callturn/internal/turn"
	"github.com/smartwinnr/callturn/internal/vad"
)

// End reasons published with call.ended
const (
	EndReasonEmpty     = "empty"
	EndReasonRequested = "requested"
	EndReasonShutdown  = "shutdown"
)

// Config holds the per-call settings applied to every new session
type Config struct {
	Turn turn.Options
	VAD  vad.Params
}

// Manager handles live call sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	config   Config
	pubsub   pubsub.PubSub
	metrics  *metrics.Metrics
	base     *slog.Logger // no component; per-call parts add their own
	logger   *slog.Logger
}

// NewManager creates a new call manager
func NewManager(cfg Config, ps pubsub.PubSub, m *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		config:   cfg,
		pubsub:   ps,
		metrics:  m,
		base:     logger,
		logger:   logger.With("component", "call"),
	}
}

// GetOrCreateSession gets an existing session or starts a new one.
// A call's turn state lives on exactly one instance; deployments route
// every client of a call to the same instance by call ID. Peers sharing
// the bus only forward signals and relay call-topic events.
func (m *Manager) GetOrCreateSession(ctx context.Context, callID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[callID]; ok {
		return s, nil
	}

	callLogger := m.base.With("call_id", callID)
	notifier := NewPubSubNotifier(m.pubsub, callID, m.base)

	opts := m.config.Turn
	opts.Metrics = m.metrics
	opts.Logger = callLogger
	coord := turn.New(notifier, opts)

	listener := remote.NewListener(m.pubsub, callID, coord, m.metrics, m.base)
	if err := listener.Start(ctx); err != nil {
		coord.Cleanup()
		return nil, err
	}

	s := &Session{
		ID:           callID,
		CreatedAt:    time.Now(),
		coordinator:  coord,
		listener:     listener,
		notifier:     notifier,
		vadParams:    m.config.VAD,
		logger:       callLogger,
		participants: make(map[string]*Participant),
	}
	m.sessions[callID] = s
	m.metrics.CallStarted()

	m.logger.Info("call session started", "call_id", callID)
	return s, nil
}

// GetSession returns a session if it exists
func (m *Manager) GetSession(callID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return s, nil
}

// JoinCall adds a participant to a call, starting the session if needed
func (m *Manager) JoinCall(ctx context.Context, callID, participantID string, role domain.Role, name string) (*Session, error) {
	s, err := m.GetOrCreateSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.join(participantID, role, name); err != nil {
		return nil, err
	}

	m.publishCount(s, participantID, "joined")
	m.logger.Info("participant joined call", "call_id", callID, "participant_id", participantID, "role", role)
	return s, nil
}

// LeaveCall removes a participant, ending the call when nobody is left
func (m *Manager) LeaveCall(ctx context.Context, callID, participantID string) error {
	s, err := m.GetSession(callID)
	if err != nil {
		return err
	}
	if err := s.leave(participantID); err != nil {
		return err
	}

	m.publishCount(s, participantID, "left")
	m.logger.Info("participant left call", "call_id", callID, "participant_id", participantID)

	if s.ParticipantCount() == 0 {
		return m.EndCall(ctx, callID, EndReasonEmpty)
	}
	return nil
}

// EndCall tears down a session and tells its clients
func (m *Manager) EndCall(ctx context.Context, callID, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
	}
	m.mu.Unlock()

	if !ok {
		return domain.ErrCallNotFound
	}
	if !s.end() {
		return nil
	}

	m.metrics.CallEnded()
	if err := s.notifier.publish(EventTypeCallEnded, CallEndedPayload{CallID: callID, Reason: reason}); err != nil {
		m.logger.Warn("failed to publish call end", "call_id", callID, "error", err)
	}

	m.logger.Info("call ended", "call_id", callID, "reason", reason)
	return nil
}

// ActiveCalls returns the IDs of live sessions (for monitoring)
func (m *Manager) ActiveCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close ends every live session
func (m *Manager) Close(ctx context.Context) {
	for _, id := range m.ActiveCalls() {
		if err := m.EndCall(ctx, id, EndReasonShutdown); err != nil {
			m.logger.Debug("call already ended during shutdown", "call_id", id)
		}
	}
}

func (m *Manager) publishCount(s *Session, participantID, action string) {
	payload := ParticipantCountPayload{
		CallID:        s.ID,
		ParticipantID: participantID,
		Action:        action,
		Count:         s.ParticipantCount(),
	}
	if err := s.notifier.publish(EventTypeParticipantCount, payload); err != nil {
		m.logger.Warn("failed to publish participant count", "call_id", s.ID, "error", err)
	}
}
