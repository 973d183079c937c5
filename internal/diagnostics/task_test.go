package diagnostics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/command"
)

type mockReporter struct {
	mu      sync.Mutex
	patches []map[string]any
}

func (m *mockReporter) ReportProperties(patch map[string]any) <-chan error {
	m.mu.Lock()
	m.patches = append(m.patches, patch)
	m.mu.Unlock()
	done := make(chan error, 1)
	done <- nil
	return done
}

func (m *mockReporter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patches)
}

var epoch = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func TestRunReportsOnceAfterThreeTicks(t *testing.T) {
	fc := clock.Fake(epoch)
	rep := &mockReporter{}
	task := New(Options{Reporter: rep, Clock: fc})

	run, err := task.Start("42")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if run.Remaining() != DefaultTicks {
		t.Errorf("Remaining() = %d, want %d", run.Remaining(), DefaultTicks)
	}

	for i := 1; i < DefaultTicks; i++ {
		fc.Advance(DefaultInterval)
		if rep.count() != 0 {
			t.Fatalf("patch sent after tick %d", i)
		}
		if run.Remaining() != DefaultTicks-i {
			t.Errorf("after tick %d Remaining() = %d", i, run.Remaining())
		}
	}

	fc.Advance(DefaultInterval)
	if rep.count() != 1 {
		t.Fatalf("got %d patches after final tick, want 1", rep.count())
	}
	select {
	case <-run.Done():
	default:
		t.Error("run not done after final tick")
	}

	body, ok := rep.patches[0][CommandName].(map[string]any)
	if !ok {
		t.Fatalf("patch = %v", rep.patches[0])
	}
	want := "Diagnostics run complete at " + epoch.Add(3*DefaultInterval).Format(time.RFC3339)
	if body["value"] != want {
		t.Errorf("value = %v, want %q", body["value"], want)
	}
	if len(body) != 1 {
		t.Errorf("patch body has extra fields: %v", body)
	}

	// No further ticks.
	fc.Advance(10 * DefaultInterval)
	if rep.count() != 1 || fc.Pending() != 0 {
		t.Errorf("patches = %d pending timers = %d after completion", rep.count(), fc.Pending())
	}
	if task.Active() != 0 {
		t.Errorf("Active() = %d, want 0", task.Active())
	}
}

func TestConcurrentRunsIndependent(t *testing.T) {
	fc := clock.Fake(epoch)
	rep := &mockReporter{}
	task := New(Options{Reporter: rep, Clock: fc})

	if _, err := task.Start("a"); err != nil {
		t.Fatalf("Start(a) error = %v", err)
	}
	fc.Advance(time.Second)
	if _, err := task.Start("b"); err != nil {
		t.Fatalf("Start(b) error = %v", err)
	}
	if task.Active() != 2 {
		t.Errorf("Active() = %d, want 2", task.Active())
	}

	fc.Advance(5 * time.Second) // a completes at 6s
	if rep.count() != 1 {
		t.Fatalf("patches = %d at 6s, want 1", rep.count())
	}
	fc.Advance(time.Second) // b completes at 7s
	if rep.count() != 2 {
		t.Fatalf("patches = %d at 7s, want 2", rep.count())
	}
}

func TestRegistrationIsAsync(t *testing.T) {
	fc := clock.Fake(epoch)
	rep := &mockReporter{}
	task := New(Options{Reporter: rep, Clock: fc})

	reg := task.Registration()
	if reg.Name != CommandName || reg.Mode != command.Async || reg.Async == nil {
		t.Fatalf("Registration() = %+v", reg)
	}

	reg.Async(context.Background(), command.Request{Name: CommandName, RequestID: "7"})
	if task.Active() != 1 {
		t.Fatalf("Active() = %d after invocation, want 1", task.Active())
	}
	fc.Advance(3 * DefaultInterval)
	if rep.count() != 1 {
		t.Errorf("patches = %d, want 1", rep.count())
	}
}

func TestWait(t *testing.T) {
	fc := clock.Fake(epoch)
	task := New(Options{Reporter: &mockReporter{}, Clock: fc, Ticks: 1, Interval: time.Second})

	if _, err := task.Start("1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := task.Wait(ctx)
	if !errors.Is(err, ErrWaitTimeout) || !strings.Contains(err.Error(), "1") {
		t.Errorf("Wait() error = %v, want ErrWaitTimeout with one run", err)
	}

	fc.Advance(time.Second)
	if err := task.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after completion error = %v", err)
	}
}
