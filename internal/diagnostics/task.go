package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/command"
	"github.com/nerrad567/gray-logic-agent/internal/schedule"
)

// CommandName is the method name the task answers to.
const CommandName = "rundiagnostics"

// Defaults for a diagnostics run.
const (
	DefaultTicks    = 3
	DefaultInterval = 2 * time.Second
)

// ErrWaitTimeout is returned by Wait when runs are still active.
var ErrWaitTimeout = errors.New("diagnostics: runs still active")

// Reporter sends reported-property patches.
type Reporter interface {
	ReportProperties(patch map[string]any) <-chan error
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Task.
type Options struct {
	Reporter Reporter
	Clock    clock.Clock
	Logger   Logger
	Ticks    int
	Interval time.Duration
}

// Run is one in-flight diagnostics invocation.
type Run struct {
	RequestID string
	StartedAt time.Time
	periodic  *schedule.Periodic
}

// Remaining returns the ticks left before completion.
func (r *Run) Remaining() int {
	return r.periodic.Remaining()
}

// Done is closed after the final tick.
func (r *Run) Done() <-chan struct{} {
	return r.periodic.Done()
}

// Task starts diagnostics runs.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Task struct {
	reporter Reporter
	clock    clock.Clock
	logger   Logger
	ticks    int
	interval time.Duration

	mu     sync.Mutex
	active map[*Run]struct{}
	wg     sync.WaitGroup
}

// New creates a Task.
func New(opts Options) *Task {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Ticks <= 0 {
		opts.Ticks = DefaultTicks
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Task{
		reporter: opts.Reporter,
		clock:    opts.Clock,
		logger:   opts.Logger,
		ticks:    opts.Ticks,
		interval: opts.Interval,
		active:   make(map[*Run]struct{}),
	}
}

// Registration returns the async command registration.
func (t *Task) Registration() command.Registration {
	return command.Registration{
		Name: CommandName,
		Mode: command.Async,
		Async: func(ctx context.Context, req command.Request) {
			if _, err := t.Start(req.RequestID); err != nil {
				t.logError("failed to start diagnostics run", "rid", req.RequestID, "error", err)
			}
		},
	}
}

// Start begins a run. The first tick fires one interval from now.
func (t *Task) Start(requestID string) (*Run, error) {
	run := &Run{RequestID: requestID, StartedAt: t.clock.Now()}

	p, err := schedule.NewPeriodic(t.clock, t.interval, t.ticks, func(tick int, last bool) {
		t.tick(run, tick, last)
	})
	if err != nil {
		return nil, fmt.Errorf("creating diagnostics schedule: %w", err)
	}
	run.periodic = p

	t.mu.Lock()
	t.active[run] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	t.logInfo("starting asynchronous diagnostics run", "rid", requestID, "ticks", t.ticks, "interval", t.interval)
	p.Start()
	return run, nil
}

func (t *Task) tick(run *Run, tick int, last bool) {
	t.logInfo("generating diagnostics...", "rid", run.RequestID, "tick", tick)
	if !last {
		return
	}

	completed := t.clock.Now().UTC()
	if t.reporter != nil {
		t.reporter.ReportProperties(map[string]any{
			CommandName: map[string]any{
				"value": "Diagnostics run complete at " + completed.Format(time.RFC3339),
			},
		})
	}
	t.logInfo("diagnostics run complete", "rid", run.RequestID, "duration", completed.Sub(run.StartedAt.UTC()))

	t.mu.Lock()
	delete(t.active, run)
	t.mu.Unlock()
	t.wg.Done()
}

// Active returns the number of runs not yet complete.
func (t *Task) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Wait blocks until every active run has completed or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %d", ErrWaitTimeout, t.Active())
	}
}

func (t *Task) logInfo(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Info(msg, args...)
	}
}

func (t *Task) logError(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Error(msg, args...)
	}
}
