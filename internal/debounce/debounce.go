// Package debounce provides a single-slot cancellable pending task. Arming a
// new task always replaces the previous one, so bursts of triggers collapse
// into one run after the last trigger's delay.
package debounce

import (
	"sync"
	"time"
)

// DefaultDelay coalesces bursts of near-simultaneous store writes.
const DefaultDelay = 500 * time.Millisecond

// Timer is the subset of *time.Timer used by the debouncer.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via Std.
type AfterFunc func(d time.Duration, f func()) Timer

// Std wraps time.AfterFunc.
func Std(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer owns at most one pending task.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	after   AfterFunc
	pending Timer
	seq     uint64
	stopped bool
	fired   uint64
}

// New creates a Debouncer backed by real timers.
func New(delay time.Duration) *Debouncer {
	return NewWithTimer(delay, Std)
}

// NewWithTimer creates a Debouncer with an injected timer factory.
func NewWithTimer(delay time.Duration, after AfterFunc) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if after == nil {
		after = Std
	}
	return &Debouncer{delay: delay, after: after}
}

// Trigger cancels any pending task and arms fn to run after the delay.
// It returns false once the debouncer has been stopped.
func (d *Debouncer) Trigger(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	if d.pending != nil {
		d.pending.Stop()
	}
	d.seq++
	seq := d.seq
	d.pending = d.after(d.delay, func() { d.run(seq, fn) })
	return true
}

func (d *Debouncer) run(seq uint64, fn func()) {
	d.mu.Lock()
	// A timer that fired while being replaced or stopped must not run.
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.fired++
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending task, if any, and reports whether one was dropped.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

func (d *Debouncer) cancelLocked() bool {
	if d.pending == nil {
		return false
	}
	d.pending.Stop()
	d.pending = nil
	d.seq++
	return true
}

// Stop cancels the pending task and rejects further triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

// Pending reports whether a task is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Fired returns how many tasks have run.
func (d *Debouncer) Fired() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}
