package vad

import (
	"log/slog"
	"sync"
)

// Sink receives edge-triggered speaking signals. The turn coordinator
// satisfies it.
type Sink interface {
	LocalSpeakingSignal(id string, speaking bool)
}

// Adapter binds a Detector to the local participant of one call and
// forwards only speaking edges to the sink.
type Adapter struct {
	participantID string
	detector      *Detector
	sink          Sink
	logger        *slog.Logger

	mu       sync.Mutex
	speaking bool
	muted    bool
}

// NewAdapter creates an Adapter for the local participant id.
func NewAdapter(participantID string, detector *Detector, sink Sink, logger *slog.Logger) *Adapter {
	return &Adapter{
		participantID: participantID,
		detector:      detector,
		sink:          sink,
		logger:        logger.With("component", "vad", "participant_id", participantID),
	}
}

// ParticipantID returns the local participant this adapter speaks for.
func (a *Adapter) ParticipantID() string {
	return a.participantID
}

// ProcessPCM feeds a frame of 16-bit little-endian PCM. Ignored while muted.
func (a *Adapter) ProcessPCM(frame []byte) {
	if a.Muted() {
		return
	}
	a.set(a.detector.ProcessPCM(frame))
}

// ProcessLevel feeds a normalized audio level in [0, 1]. Ignored while muted.
func (a *Adapter) ProcessLevel(level float64) {
	if a.Muted() {
		return
	}
	a.set(a.detector.ProcessLevel(level))
}

// ActiveSpeakerChanged handles the call SDK's active-speaker callback. The
// local participant is speaking exactly when it is the active speaker.
func (a *Adapter) ActiveSpeakerChanged(activeID string) {
	if a.Muted() {
		return
	}
	a.set(activeID == a.participantID)
}

// SetMuted follows the local microphone state. Muting ends any speech in
// progress.
func (a *Adapter) SetMuted(muted bool) {
	a.mu.Lock()
	changed := a.muted != muted
	a.muted = muted
	a.mu.Unlock()

	if changed && muted {
		a.Reset()
	}
}

// Muted reports whether input is being ignored.
func (a *Adapter) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

// Speaking reports the last state forwarded to the sink.
func (a *Adapter) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

// Reset clears the detector. A participant left speaking gets a stop signal.
func (a *Adapter) Reset() {
	a.detector.Reset()
	a.set(false)
}

func (a *Adapter) set(speaking bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if speaking == a.speaking {
		return
	}
	a.speaking = speaking
	a.logger.Debug("local speaking edge", "speaking", speaking, "level", a.detector.Level())
	a.sink.LocalSpeakingSignal(a.participantID, speaking)
}
