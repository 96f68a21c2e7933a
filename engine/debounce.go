package engine

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of work per key. Every Schedule call replaces
// the key's pending token; when a delay elapses, the callback only runs if
// its token is still the current one, so a timer that fires after being
// superseded does nothing even if Stop lost the race.
type Debouncer struct {
	clock Clock
	delay time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingWork
	stopped bool
}

type pendingWork struct {
	token uint64
	timer Timer
}

// NewDebouncer creates a Debouncer running callbacks delay after the last
// Schedule for a key
func NewDebouncer(clock Clock, delay time.Duration) *Debouncer {
	return &Debouncer{
		clock:   clock,
		delay:   delay,
		pending: make(map[string]*pendingWork),
	}
}

// Schedule arranges for fn to run after the delay unless key is scheduled
// again or cancelled first
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if old, ok := d.pending[key]; ok {
		old.timer.Stop()
	}

	d.seq++
	token := d.seq
	work := &pendingWork{token: token}
	d.pending[key] = work
	work.timer = d.clock.AfterFunc(d.delay, func() {
		d.fire(key, token, fn)
	})
}

func (d *Debouncer) fire(key string, token uint64, fn func()) {
	d.mu.Lock()
	work, ok := d.pending[key]
	if d.stopped || !ok || work.token != token {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending work for key, if any
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if work, ok := d.pending[key]; ok {
		work.timer.Stop()
		delete(d.pending, key)
	}
}

// CancelAll drops every pending callback
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, work := range d.pending {
		work.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports whether key has work waiting
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels everything and rejects further scheduling
func (d *Debouncer) Stop() {
	d.CancelAll()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}
