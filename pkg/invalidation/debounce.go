package invalidation

import (
	"sync"
	"time"
)

// Debouncer coalesces actions by key: scheduling a key again before its
// timer fires replaces the pending action.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*pendingAction
	stopped bool
}

type pendingAction struct {
	timer *time.Timer
}

// NewDebouncer creates an idle debouncer
func NewDebouncer() *Debouncer {
	return &Debouncer{pending: make(map[string]*pendingAction)}
}

// Schedule runs action after delay unless key is rescheduled or the
// debouncer is stopped first. It reports whether an earlier pending action
// was replaced.
func (d *Debouncer) Schedule(key string, delay time.Duration, action func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	replaced := false
	if prev, ok := d.pending[key]; ok {
		replaced = prev.timer.Stop()
		delete(d.pending, key)
	}

	p := &pendingAction{}
	p.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		// A replaced timer that already started must not run
		if d.pending[key] != p {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()

		action()
	})
	d.pending[key] = p
	return replaced
}

// Cancel drops the pending action for key
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok {
		return false
	}
	delete(d.pending, key)
	return p.timer.Stop()
}

// Pending returns the number of scheduled actions
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending action; later schedules are ignored
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}
