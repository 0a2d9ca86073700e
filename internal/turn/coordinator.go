// Package turn decides whose turn it is in a user/AI call and which
// participant is speaking or thinking. All state is owned by one goroutine
// per Coordinator; callers on any goroutine post operations to it.
package turn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smartwinnr/callturn/internal/domain"
	"github.com/smartwinnr/callturn/internal/metrics"
)

const (
	// DefaultDebounce is how long a speaker must stay silent before the turn moves.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultNotifyBuffer is the outbox size between the loop and the notifier.
	DefaultNotifyBuffer = 256

	opsBuffer = 64
)

// Options configures a Coordinator.
type Options struct {
	Debounce     time.Duration
	AIFirst      bool
	Mode         domain.InputMode
	NotifyBuffer int
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// op is a unit of work executed on the coordinator loop.
type op func(s *state)

// outbound is one outbox entry: a notification or a flush marker.
type outbound struct {
	n       Notification
	flushed chan struct{}
}

// Coordinator is the single authority for speaking/thinking flags and turn
// ownership within one call. It never returns errors to its callers:
// signals it cannot apply are logged and dropped.
type Coordinator struct {
	opts     Options
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ops       chan op
	outbox    chan outbound
	quit      chan struct{}
	stopped   chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
}

// Snapshot is a consistent copy of the coordinator state.
type Snapshot struct {
	Participants   []domain.ParticipantState `json:"participants"`
	Turn           domain.TurnState          `json:"turn"`
	SessionStarted bool                      `json:"session_started"`
}

// New creates a Coordinator and starts its loop and notification dispatcher.
func New(notifier Notifier, opts Options) *Coordinator {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.NotifyBuffer <= 0 {
		opts.NotifyBuffer = DefaultNotifyBuffer
	}
	if !opts.Mode.Valid() {
		opts.Mode = domain.InputModeMessages
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}

	c := &Coordinator{
		opts:     opts,
		notifier: notifier,
		logger:   opts.Logger.With("component", "turn"),
		metrics:  opts.Metrics,
		ops:      make(chan op, opsBuffer),
		outbox:   make(chan outbound, opts.NotifyBuffer),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		drained:  make(chan struct{}),
	}

	s := newState(c)
	go c.loop(s)
	go c.dispatch()

	return c
}

// ParticipantJoined registers a participant with all flags false.
func (c *Coordinator) ParticipantJoined(id string, role domain.Role, name string) {
	c.submit("participant_joined", func(s *state) { s.join(id, role, name) })
}

// ParticipantLeft removes a participant and any pending turn switch it owns.
func (c *Coordinator) ParticipantLeft(id string) {
	c.submit("participant_left", func(s *state) { s.leave(id) })
}

// LocalSpeakingSignal applies an on-device speaking estimate for the local
// participant. Ignored unless the coordinator runs in heuristic mode.
func (c *Coordinator) LocalSpeakingSignal(id string, speaking bool) {
	c.submit("local_speaking", func(s *state) { s.localSignal(id, speaking) })
}

// RemoteMessage applies an authoritative server message. participant is an
// optional hint naming the remote participant a bot-* message refers to.
func (c *Coordinator) RemoteMessage(kind domain.MessageKind, participant string) {
	if !kind.Valid() {
		c.logger.Warn("ignoring unknown message kind", "kind", kind)
		c.metrics.SignalDropped(metrics.DropUnknownType)
		return
	}
	c.submit("remote_message", func(s *state) { s.remoteMessage(kind, participant) })
}

// Snapshot returns a copy of the current state. ok is false once the
// coordinator has been cleaned up.
func (c *Coordinator) Snapshot() (snap Snapshot, ok bool) {
	reply := make(chan Snapshot, 1)
	if !c.post(func(s *state) { reply <- s.snapshot() }) {
		return Snapshot{}, false
	}

	select {
	case snap = <-reply:
		return snap, true
	case <-c.stopped:
		select {
		case snap = <-reply:
			return snap, true
		default:
			return Snapshot{}, false
		}
	}
}

// History returns a copy of the turn history.
func (c *Coordinator) History() []domain.TurnRecord {
	snap, _ := c.Snapshot()
	return snap.Turn.History
}

// Flush blocks until every operation submitted before it has been applied
// and the notifications it produced have been handed to the notifier.
func (c *Coordinator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	posted := c.post(func(s *state) {
		select {
		case c.outbox <- outbound{flushed: done}:
		case <-c.quit:
			close(done)
		}
	})
	if !posted {
		return domain.ErrCallEnded
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		select {
		case <-done:
			return nil
		default:
			return domain.ErrCallEnded
		}
	}
}

// Cleanup cancels pending turn switches and clears all state. It is safe to
// call more than once and from several goroutines; signals arriving
// afterwards are dropped. It returns once queued notifications have been
// delivered.
func (c *Coordinator) Cleanup() {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.stopped
	<-c.drained
}

// Done is closed once the coordinator has been cleaned up.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stopped
}

func (c *Coordinator) submit(what string, fn op) {
	if !c.post(fn) {
		c.logger.Debug("dropping signal after cleanup", "signal", what)
		c.metrics.SignalDropped(metrics.DropClosed)
	}
}

func (c *Coordinator) post(fn op) bool {
	select {
	case <-c.quit:
		return false
	default:
	}

	select {
	case c.ops <- fn:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Coordinator) loop(s *state) {
	defer close(c.stopped)
	defer close(c.outbox)

	for {
		select {
		case <-c.quit:
			s.teardown()
			return
		case fn := <-c.ops:
			// Prefer teardown over work that raced with Cleanup.
			select {
			case <-c.quit:
				s.teardown()
				return
			default:
			}
			fn(s)
		}
	}
}

func (c *Coordinator) dispatch() {
	defer close(c.drained)
	for out := range c.outbox {
		if out.flushed != nil {
			close(out.flushed)
			continue
		}
		c.deliver(out.n)
	}
}

func (c *Coordinator) deliver(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notifier panicked", "error", r, "event", n.EventType())
		}
	}()
	c.notifier.Notify(n)
}
