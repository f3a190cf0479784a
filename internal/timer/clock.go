package timer

import (
	"sort"
	"time"
)

// RealClock arms wall-clock timers and hands expirations to Post, which is
// expected to run them on the scheduler's event loop.
type RealClock struct {
	Post func(func())
}

// AfterFunc implements Clock.
func (c RealClock) AfterFunc(d time.Duration, f func()) Stopper {
	post := c.Post
	if post == nil {
		post = func(fn func()) { fn() }
	}
	return time.AfterFunc(d, func() { post(f) })
}

// ManualClock is a virtual clock for tests. Time moves only through Advance,
// which runs due callbacks synchronously in deadline order.
type ManualClock struct {
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewManualClock returns a ManualClock at virtual time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// AfterFunc implements Clock.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.seq++
	t := &manualTimer{at: c.now + d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Now returns the virtual time elapsed since creation.
func (c *ManualClock) Now() time.Duration {
	return c.now
}

// Advance moves virtual time forward by d and fires every timer that became
// due, including timers armed by callbacks within the advanced window.
func (c *ManualClock) Advance(d time.Duration) {
	target := c.now + d
	for {
		next := c.nextDue(target)
		if next == nil {
			break
		}
		c.now = next.at
		next.fired = true
		next.f()
	}
	c.now = target
	c.compact()
}

// Armed returns the number of timers that have neither fired nor stopped.
func (c *ManualClock) Armed() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *ManualClock) nextDue(limit time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= limit {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (c *ManualClock) compact() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
}
