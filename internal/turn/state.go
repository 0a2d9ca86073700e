package turn

import (
	"log/slog"
	"time"

	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/metrics"
)

// state is the coordinator's mutable data. Only the loop goroutine touches it.
type state struct {
	c       *Coordinator
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	participants map[string]*domain.ParticipantState
	order        []string
	localID      string
	spokeAt      map[string]time.Time

	turn           domain.TurnState
	sessionStarted bool
	debounce       *debouncer
}

func newState(c *Coordinator) *state {
	return &state{
		c:            c,
		logger:       c.logger,
		metrics:      c.metrics,
		now:          time.Now,
		participants: make(map[string]*domain.ParticipantState),
		spokeAt:      make(map[string]time.Time),
		turn:         domain.TurnState{Owner: domain.OwnerUser},
		debounce:     newDebouncer(c.opts.Debounce, c.post),
	}
}

// =============================================================================
// Membership
// =============================================================================

func (s *state) join(id string, role domain.Role, name string) {
	switch {
	case id == "":
		s.logger.Warn("ignoring join without participant id")
		return
	case !role.Valid():
		s.logger.Warn("ignoring join with invalid role", "participant_id", id, "role", role)
		return
	case s.participants[id] != nil:
		s.logger.Debug("participant already registered", "participant_id", id)
		return
	case role == domain.RoleLocal && s.localID != "":
		s.logger.Warn("ignoring second local participant", "participant_id", id, "local_id", s.localID)
		return
	}

	s.participants[id] = &domain.ParticipantState{
		ID:       id,
		Role:     role,
		Name:     name,
		JoinedAt: s.now(),
	}
	s.order = append(s.order, id)
	if role == domain.RoleLocal {
		s.localID = id
	}
	s.logger.Info("participant joined", "participant_id", id, "role", role)

	s.maybeStartSession()
}

// maybeStartSession runs once, when a local and a remote participant are
// both present.
func (s *state) maybeStartSession() {
	if s.sessionStarted || s.localID == "" || s.primaryRemote() == nil {
		return
	}
	s.sessionStarted = true
	s.logger.Info("turn session started", "ai_first", s.c.opts.AIFirst)

	if s.c.opts.AIFirst {
		s.switchToAI("ai_first")
	}
}

func (s *state) leave(id string) {
	p := s.participants[id]
	if p == nil {
		s.logger.Debug("leave for unknown participant", "participant_id", id)
		return
	}

	s.debounce.cancel(id)
	wasSpeaking, wasThinking := p.IsSpeaking, p.IsThinking
	if p.IsSpeaking {
		p.IsSpeaking = false
		p.IsActiveSpeaker = false
		s.recordStop(p)
	}

	delete(s.participants, id)
	delete(s.spokeAt, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.localID == id {
		s.localID = ""
	}

	s.logger.Info("participant left", "participant_id", id, "role", p.Role)
	s.emit(ParticipantRemoved{
		ParticipantID: id,
		Role:          p.Role,
		WasSpeaking:   wasSpeaking,
		WasThinking:   wasThinking,
	})
}

// =============================================================================
// Signals
// =============================================================================

func (s *state) localSignal(id string, speaking bool) {
	if s.c.opts.Mode != domain.InputModeHeuristic {
		s.metrics.SignalDropped(metrics.DropInputMode)
		return
	}
	p := s.participants[id]
	if p == nil {
		s.logger.Debug("local signal for unknown participant", "participant_id", id)
		s.metrics.SignalDropped(metrics.DropUnknownParticipant)
		return
	}
	if !p.IsLocal() {
		s.logger.Debug("local signal for remote participant", "participant_id", id)
		s.metrics.SignalDropped(metrics.DropWrongRole)
		return
	}
	s.apply(p, speaking)
}

func (s *state) remoteMessage(kind domain.MessageKind, hint string) {
	var p *domain.ParticipantState
	if kind.Role() == domain.RoleLocal {
		p = s.participants[s.localID]
	} else if hint != "" {
		if cand := s.participants[hint]; cand != nil && !cand.IsLocal() {
			p = cand
		}
	} else {
		p = s.primaryRemote()
	}

	if p == nil {
		s.logger.Debug("no participant for server message", "kind", kind, "participant", hint)
		s.metrics.SignalDropped(metrics.DropUnknownParticipant)
		return
	}
	s.apply(p, kind.Speaking())
}

func (s *state) apply(p *domain.ParticipantState, speaking bool) {
	if speaking {
		s.startSpeaking(p)
	} else {
		s.stopSpeaking(p)
	}
}

// =============================================================================
// Speaking edges
// =============================================================================

func (s *state) startSpeaking(p *domain.ParticipantState) {
	if p.IsSpeaking {
		return
	}

	// A new speaker supersedes every pending switch, not just its own.
	if n := s.debounce.cancelAll(); n > 0 {
		for i := 0; i < n; i++ {
			s.metrics.DebounceCancelled()
		}
		s.logger.Debug("pending turn switches cancelled", "participant_id", p.ID, "count", n)
	}

	if p.IsLocal() {
		s.forceStopRemotes("barge_in")
		if s.turn.Owner == domain.OwnerAI {
			s.switchToUser("barge_in")
		}
	}

	// Nobody may think while someone speaks. The speaker's own flag is
	// folded into its speaking notification below.
	p.IsThinking = false
	for _, id := range s.order {
		other := s.participants[id]
		if other != p && other.IsThinking {
			other.IsThinking = false
			s.emitState(other)
		}
	}

	now := s.now()
	p.IsSpeaking = true
	p.IsActiveSpeaker = true
	p.LastSpokenAt = now
	p.TurnNumber = s.turn.CurrentTurn
	s.spokeAt[p.ID] = now

	s.record(p, domain.ActionStarted, nil)
	s.metrics.SpeakingEdge(string(p.Role), string(domain.ActionStarted))
	s.emitState(p)
}

func (s *state) stopSpeaking(p *domain.ParticipantState) {
	if !p.IsSpeaking {
		return
	}

	p.IsSpeaking = false
	p.IsActiveSpeaker = false
	s.recordStop(p)
	s.emitState(p)

	if p.IsLocal() {
		s.debounce.schedule(p.ID, func(s *state) { s.switchToAI("user_silence") })
	} else {
		s.debounce.schedule(p.ID, func(s *state) { s.switchToUser("bot_silence") })
	}
}

// forceStopRemotes clears speaking and thinking on every remote participant.
func (s *state) forceStopRemotes(reason string) {
	for _, id := range s.order {
		p := s.participants[id]
		if p.IsLocal() {
			continue
		}
		s.debounce.cancel(id)
		if !p.IsSpeaking && !p.IsThinking {
			continue
		}

		p.IsThinking = false
		if p.IsSpeaking {
			p.IsSpeaking = false
			p.IsActiveSpeaker = false
			s.recordStop(p)
		}
		s.logger.Debug("force-stopped remote participant", "participant_id", id, "reason", reason)
		s.emitState(p)
	}
}

// =============================================================================
// Turn switches
// =============================================================================

func (s *state) switchToAI(reason string) {
	if s.localID != "" {
		s.debounce.cancel(s.localID)
	}
	s.advance(domain.OwnerAI, reason)

	if s.anySpeaking() {
		s.logger.Debug("skipping thinking, a participant is speaking", "turn", s.turn.CurrentTurn)
		return
	}
	if p := s.primaryRemote(); p != nil && !p.IsThinking {
		p.IsThinking = true
		s.emitState(p)
	}
}

func (s *state) switchToUser(reason string) {
	s.forceStopRemotes(reason)
	s.advance(domain.OwnerUser, reason)
}

func (s *state) advance(owner domain.TurnOwner, reason string) {
	s.turn.Owner = owner
	s.turn.CurrentTurn++

	s.logger.Info("turn switched", "turn", s.turn.CurrentTurn, "owner", owner, "reason", reason)
	s.metrics.TurnSwitched(string(owner))
	s.emit(TurnChanged{CurrentTurn: s.turn.CurrentTurn, Owner: owner})
}

// =============================================================================
// Helpers
// =============================================================================

func (s *state) record(p *domain.ParticipantState, action domain.TurnAction, d *time.Duration) {
	s.turn.History = append(s.turn.History, domain.TurnRecord{
		Turn:        p.TurnNumber,
		Speaker:     p.Role.Owner(),
		SpeakerID:   p.ID,
		SpeakerName: p.Name,
		Action:      action,
		Timestamp:   s.now(),
		Duration:    d,
	})
}

// recordStop appends the stopped record matching the participant's last start.
func (s *state) recordStop(p *domain.ParticipantState) {
	var d time.Duration
	if at, ok := s.spokeAt[p.ID]; ok {
		d = s.now().Sub(at)
		delete(s.spokeAt, p.ID)
	}
	if d < 0 {
		d = 0
	}
	s.record(p, domain.ActionStopped, &d)
	s.metrics.SpeakingEdge(string(p.Role), string(domain.ActionStopped))
}

func (s *state) primaryRemote() *domain.ParticipantState {
	for _, id := range s.order {
		if p := s.participants[id]; !p.IsLocal() {
			return p
		}
	}
	return nil
}

func (s *state) anySpeaking() bool {
	for _, p := range s.participants {
		if p.IsSpeaking {
			return true
		}
	}
	return false
}

func (s *state) emitState(p *domain.ParticipantState) {
	s.emit(ParticipantStateChanged{
		ParticipantID:   p.ID,
		Role:            p.Role,
		IsSpeaking:      p.IsSpeaking,
		IsThinking:      p.IsThinking,
		IsActiveSpeaker: p.IsActiveSpeaker,
		Turn:            s.turn.CurrentTurn,
	})
}

// emit hands n to the dispatcher without waiting for the notifier.
func (s *state) emit(n Notification) {
	select {
	case s.c.outbox <- outbound{n: n}:
	default:
		s.logger.Warn("notification outbox full, dropping", "event", n.EventType())
		s.metrics.NotificationDropped()
	}
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		Participants:   make([]domain.ParticipantState, 0, len(s.order)),
		Turn:           s.turn.Clone(),
		SessionStarted: s.sessionStarted,
	}
	for _, id := range s.order {
		snap.Participants = append(snap.Participants, *s.participants[id])
	}
	return snap
}

func (s *state) teardown() {
	s.debounce.cancelAll()
	s.participants = make(map[string]*domain.ParticipantState)
	s.spokeAt = make(map[string]time.Time)
	s.order = nil
	s.localID = ""
	s.turn = domain.TurnState{Owner: domain.OwnerUser}
	s.sessionStarted = false
	s.logger.Debug("coordinator state cleared")
}
