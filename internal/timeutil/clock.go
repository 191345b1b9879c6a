package timeutil

import (
	"slices"
	"sync"
	"time"
)

// Timer is a handle of a scheduled callback.
type Timer interface {
	// Stop prevents the timer from firing.
	// It returns false if the timer has already fired or been stopped.
	Stop() bool
}

// Clock is a source of time and timers.
type Clock interface {
	Now() time.Time
	// AfterFunc waits for the duration to elapse and then calls f.
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// FakeClock is a manually driven [Clock].
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *FakeClock
	when  time.Time
	seq   uint64
	fn    func()
	done  bool
}

// NewFakeClock creates a new [FakeClock] started at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{
		clock: c,
		when:  c.now.Add(d),
		seq:   c.seq,
		fn:    f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d and runs every timer
// that becomes due, in deadline order.
// Callbacks are called on the caller goroutine.
// Timers scheduled by callbacks fire within the same call if they are due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		t := c.nextDue(target)
		if t == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if t.when.After(c.now) {
			c.now = t.when
		}
		t.done = true
		c.removeLocked(t)
		c.mu.Unlock()

		t.fn()
	}
}

// Pending returns the number of scheduled timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *FakeClock) nextDue(target time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.when.After(target) {
			continue
		}
		if next == nil || t.when.Before(next.when) || (t.when.Equal(next.when) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (c *FakeClock) removeLocked(t *fakeTimer) {
	c.timers = slices.DeleteFunc(c.timers, func(v *fakeTimer) bool { return v == t })
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.clock.removeLocked(t)
	return true
}
