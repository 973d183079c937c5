// Package schedule runs cancellable periodic tasks.
//
// A Periodic carries its own remaining-tick count, so "repeat N times
// then stop" and "repeat until stopped" are the same abstraction. The
// next tick is scheduled only after the current one returns, so ticks
// of one task never overlap.
package schedule

import (
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
)

// ErrInvalidInterval is returned when a Periodic is created with a
// non-positive interval.
var ErrInvalidInterval = errors.New("schedule: interval must be positive")

// TickFunc is called once per tick. tick counts from 1; last is true
// on the final tick of a bounded task.
type TickFunc func(tick int, last bool)

// Periodic is a task that fires every interval until its tick budget
// is spent or it is stopped.
type Periodic struct {
	clock    clock.Clock
	interval time.Duration
	fn       TickFunc

	mu        sync.Mutex
	bounded   bool
	remaining int
	ticks     int
	timer     clock.Timer
	started   bool
	stopped   bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewPeriodic creates a task firing fn every interval. count is the
// number of ticks to run; zero means run until Stop.
func NewPeriodic(c clock.Clock, interval time.Duration, count int, fn TickFunc) (*Periodic, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if count < 0 {
		count = 0
	}
	if c == nil {
		c = clock.Real()
	}
	return &Periodic{
		clock:     c,
		interval:  interval,
		fn:        fn,
		bounded:   count > 0,
		remaining: count,
		done:      make(chan struct{}),
	}, nil
}

// Start schedules the first tick one interval from now. Calling Start
// more than once has no effect.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.timer = p.clock.AfterFunc(p.interval, p.tick)
}

// Stop cancels any pending tick. A tick already running completes.
func (p *Periodic) Stop() {
	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	p.finish()
}

// Done is closed once the task has run its last tick or been stopped.
func (p *Periodic) Done() <-chan struct{} {
	return p.done
}

// Remaining returns the ticks left for a bounded task, or -1 for an
// unbounded one.
func (p *Periodic) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bounded {
		return -1
	}
	return p.remaining
}

// Ticks returns how many ticks have fired.
func (p *Periodic) Ticks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

func (p *Periodic) tick() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.ticks++
	n := p.ticks
	last := false
	if p.bounded {
		p.remaining--
		last = p.remaining == 0
	}
	p.mu.Unlock()

	p.fn(n, last)

	p.mu.Lock()
	if last || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		p.finish()
		return
	}
	p.timer = p.clock.AfterFunc(p.interval, p.tick)
	p.mu.Unlock()
}

func (p *Periodic) finish() {
	p.closeOnce.Do(func() { close(p.done) })
}
