package turn

import "time"

// pendingSwitch is a turn switch waiting for its debounce window to pass.
type pendingSwitch struct {
	timer *time.Timer
	seq   uint64
}

// debouncer keeps at most one pending turn switch per participant.
// Its map is only touched from the coordinator loop; timer callbacks post
// back onto the loop and are matched by sequence number, so a switch that
// was cancelled or superseded while its callback was in flight is ignored.
type debouncer struct {
	delay   time.Duration
	post    func(op) bool
	pending map[string]*pendingSwitch
	seq     uint64
}

func newDebouncer(delay time.Duration, post func(op) bool) *debouncer {
	return &debouncer{
		delay:   delay,
		post:    post,
		pending: make(map[string]*pendingSwitch),
	}
}

// schedule replaces any pending switch for id with fn, to run after the delay.
func (d *debouncer) schedule(id string, fn op) {
	d.cancel(id)

	d.seq++
	seq := d.seq
	p := &pendingSwitch{seq: seq}
	p.timer = time.AfterFunc(d.delay, func() {
		d.post(func(s *state) { d.fire(s, id, seq, fn) })
	})
	d.pending[id] = p
}

func (d *debouncer) fire(s *state, id string, seq uint64, fn op) {
	p, ok := d.pending[id]
	if !ok || p.seq != seq {
		return
	}
	delete(d.pending, id)
	fn(s)
}

// cancel drops the pending switch for id. Returns true if one was pending.
func (d *debouncer) cancel(id string) bool {
	p, ok := d.pending[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, id)
	return true
}

// cancelAll drops every pending switch and returns how many there were.
func (d *debouncer) cancelAll() int {
	n := len(d.pending)
	for id, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, id)
	}
	return n
}
