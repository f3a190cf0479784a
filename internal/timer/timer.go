// Package timer provides cancellable delayed invocation with arena-style
// handles and a debouncer built on top of it.
//
// A Scheduler is owned by a single event loop. Expirations coming from the
// Clock must be delivered on that loop; the scheduler then looks the handle up
// in its arena, so an expiration that raced with Cancel is dropped instead of
// running a cancelled action.
package timer

import "time"

// Handle identifies a scheduled action. The zero Handle is never issued.
type Handle uint64

// Stopper stops a platform timer.
type Stopper interface {
	Stop() bool
}

// Clock arms platform timers.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type entry struct {
	action func()
	stop   Stopper
}

// Scheduler runs actions after a delay. It is not safe for concurrent use.
type Scheduler struct {
	clock   Clock
	next    Handle
	pending map[Handle]entry
}

// NewScheduler creates a Scheduler driven by clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{
		clock:   clock,
		pending: make(map[Handle]entry),
	}
}

// Schedule arms action to run once after delay.
func (s *Scheduler) Schedule(delay time.Duration, action func()) Handle {
	s.next++
	h := s.next
	stop := s.clock.AfterFunc(delay, func() { s.fire(h) })
	s.pending[h] = entry{action: action, stop: stop}
	return h
}

// Cancel disarms h. Cancelling a fired, cancelled or unknown handle is a no-op.
func (s *Scheduler) Cancel(h Handle) {
	e, ok := s.pending[h]
	if !ok {
		return
	}
	delete(s.pending, h)
	e.stop.Stop()
}

// Pending reports whether h is armed.
func (s *Scheduler) Pending(h Handle) bool {
	_, ok := s.pending[h]
	return ok
}

// Len returns the number of armed handles.
func (s *Scheduler) Len() int {
	return len(s.pending)
}

func (s *Scheduler) fire(h Handle) {
	e, ok := s.pending[h]
	if !ok {
		return
	}
	delete(s.pending, h)
	e.action()
}

// Debouncer keeps at most one pending action: every Trigger replaces the
// previous one.
type Debouncer struct {
	s      *Scheduler
	delay  time.Duration
	handle Handle
}

// NewDebouncer creates a Debouncer with the given quiet period.
func NewDebouncer(s *Scheduler, delay time.Duration) *Debouncer {
	return &Debouncer{s: s, delay: delay}
}

// Trigger cancels any pending action and arms action after the quiet period.
func (d *Debouncer) Trigger(action func()) {
	d.s.Cancel(d.handle)
	d.handle = d.s.Schedule(d.delay, action)
}

// Cancel drops the pending action, if any.
func (d *Debouncer) Cancel() {
	d.s.Cancel(d.handle)
	d.handle = 0
}

// Pending reports whether an action is armed.
func (d *Debouncer) Pending() bool {
	return d.handle != 0 && d.s.Pending(d.handle)
}
