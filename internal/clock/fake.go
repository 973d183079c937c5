package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time stands still until Advance
// is called.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order, with Now reporting the callback's own deadline. A callback may
// schedule further timers; those fire within the same Advance when
// their deadline is still covered.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	waiters []*fakeWaiter
	changed chan struct{}
}

type fakeWaiter struct {
	deadline time.Time
	seq      uint64
	fn       func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{
		now:     initial,
		changed: make(chan struct{}),
	}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives when the clock is advanced
// past now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		ch <- c.Now()
	})
	return ch
}

// AfterFunc schedules f. A non-positive d runs f before returning.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		f()
		return &fakeTimer{clock: c, waiter: &fakeWaiter{fired: true}}
	}

	c.mu.Lock()
	c.seq++
	w := &fakeWaiter{
		deadline: c.now.Add(d),
		seq:      c.seq,
		fn:       f,
	}
	c.waiters = append(c.waiters, w)
	c.notifyLocked()
	c.mu.Unlock()

	return &fakeTimer{clock: c, waiter: w}
}

// Advance moves the clock forward by d, firing every timer whose
// deadline falls inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		w := c.nextDue(target)
		if w == nil {
			break
		}
		w.fn()
	}

	c.mu.Lock()
	if c.now.Before(target) {
		c.now = target
	}
	c.mu.Unlock()
}

// Pending returns the number of timers waiting to fire.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// WaitForTimers blocks until at least n timers are pending or the
// timeout elapses. It reports whether the count was reached.
//
// Tests use it to wait for a goroutine to reach its next timer before
// calling Advance.
func (c *FakeClock) WaitForTimers(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		changed := c.changed
		c.mu.Unlock()

		if c.Pending() >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return c.Pending() >= n
		}
	}
}

// nextDue pops the earliest waiter due at or before target and moves
// the clock to its deadline.
func (c *FakeClock) nextDue(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *fakeWaiter
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		live = append(live, w)
		if w.deadline.After(target) {
			continue
		}
		if next == nil || w.deadline.Before(next.deadline) ||
			(w.deadline.Equal(next.deadline) && w.seq < next.seq) {
			next = w
		}
	}
	c.waiters = live

	if next == nil {
		return nil
	}
	next.fired = true
	if next.deadline.After(c.now) {
		c.now = next.deadline
	}
	c.notifyLocked()
	return next
}

func (c *FakeClock) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	t.clock.notifyLocked()
	return true
}
