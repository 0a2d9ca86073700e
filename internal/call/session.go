// Package call manages live call sessions. Each session owns the turn
// coordinator for one call and the adapters feeding it.
package call

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/remote"
	"github.com/smartwinnr/callturn/internal/turn"
	"github.com/smartwinnr/callturn/internal/vad"
)

// Participant is a roster entry
type Participant struct {
	ID       string      `json:"id"`
	Role     domain.Role `json:"role"`
	Name     string      `json:"name,omitempty"`
	JoinedAt time.Time   `json:"joined_at"`
}

// Session is one active call
type Session struct {
	ID        string
	CreatedAt time.Time

	coordinator *turn.Coordinator
	listener    *remote.Listener
	notifier    *PubSubNotifier
	vadParams   vad.Params
	logger      *slog.Logger

	mu           sync.RWMutex
	participants map[string]*Participant
	adapter      *vad.Adapter
	ended        bool
}

// Coordinator returns the session's turn coordinator.
func (s *Session) Coordinator() *turn.Coordinator {
	return s.coordinator
}

// Snapshot returns the coordinator state.
func (s *Session) Snapshot() (turn.Snapshot, error) {
	snap, ok := s.coordinator.Snapshot()
	if !ok {
		return turn.Snapshot{}, domain.ErrCallEnded
	}
	return snap, nil
}

// Participants returns a copy of the roster
func (s *Session) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

// ParticipantCount returns the number of participants
func (s *Session) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// Participant returns a roster entry.
func (s *Session) Participant(id string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// LocalSpeaking forwards an explicit client-side speaking estimate.
func (s *Session) LocalSpeaking(id string, speaking bool) error {
	if _, err := s.local(id); err != nil {
		return err
	}
	s.coordinator.LocalSpeakingSignal(id, speaking)
	return nil
}

// AudioLevel feeds a sampled audio level for the local participant through
// the energy detector.
func (s *Session) AudioLevel(id string, level float64) error {
	a, err := s.local(id)
	if err != nil {
		return err
	}
	a.ProcessLevel(level)
	return nil
}

// AudioFrame feeds raw 16-bit PCM for the local participant.
func (s *Session) AudioFrame(id string, pcm []byte) error {
	a, err := s.local(id)
	if err != nil {
		return err
	}
	a.ProcessPCM(pcm)
	return nil
}

// ActiveSpeakerChanged relays the call SDK's active-speaker callback.
func (s *Session) ActiveSpeakerChanged(activeID string) {
	s.mu.RLock()
	a := s.adapter
	s.mu.RUnlock()

	if a != nil {
		a.ActiveSpeakerChanged(activeID)
	}
}

// LocalMuted relays the local participant's microphone state. A muted
// participant cannot be heard, so any speech in progress ends.
func (s *Session) LocalMuted(id string, muted bool) error {
	a, err := s.local(id)
	if err != nil {
		return err
	}
	a.SetMuted(muted)
	return nil
}

// RemoteMessage applies a decoded server message directly, bypassing the
// signal topic.
func (s *Session) RemoteMessage(m remote.Message) {
	s.coordinator.RemoteMessage(m.Kind, m.Participant)
}

func (s *Session) local(id string) (*vad.Adapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ended {
		return nil, domain.ErrCallEnded
	}
	p, ok := s.participants[id]
	if !ok {
		return nil, domain.ErrUnknownParticipant
	}
	if p.Role != domain.RoleLocal || s.adapter == nil {
		return nil, domain.ErrInvalidRole
	}
	return s.adapter, nil
}

func (s *Session) join(id string, role domain.Role, name string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", domain.ErrUnknownParticipant)
	}
	if !role.Valid() {
		return domain.ErrInvalidRole
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return domain.ErrCallEnded
	}
	if _, ok := s.participants[id]; ok {
		s.mu.Unlock()
		return domain.ErrParticipantExists
	}
	if role == domain.RoleLocal && s.adapter != nil {
		s.mu.Unlock()
		return domain.ErrLocalAlreadyPresent
	}

	if role == domain.RoleLocal {
		detector, err := vad.NewDetector(s.vadParams)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("create detector: %w", err)
		}
		s.adapter = vad.NewAdapter(id, detector, s.coordinator, s.logger)
	}
	s.participants[id] = &Participant{ID: id, Role: role, Name: name, JoinedAt: time.Now()}
	s.coordinator.ParticipantJoined(id, role, name)
	s.mu.Unlock()
	return nil
}

func (s *Session) leave(id string) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return domain.ErrCallEnded
	}
	p, ok := s.participants[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrUnknownParticipant
	}
	delete(s.participants, id)
	if p.Role == domain.RoleLocal {
		s.adapter = nil
	}
	s.coordinator.ParticipantLeft(id)
	s.mu.Unlock()
	return nil
}

// end tears the session down. Returns false if it had already ended.
func (s *Session) end() bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	s.adapter = nil
	s.mu.Unlock()

	s.listener.Stop()
	s.coordinator.Cleanup()
	return true
}
