package telemetry

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
)

type mockTransport struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (m *mockTransport) PublishTelemetry(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return m.err
}

func (m *mockTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

type mockSink struct {
	mu      sync.Mutex
	samples []Sample
	err     error
}

func (m *mockSink) WriteSample(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return m.err
}

// blockingTransport holds every publish until its context expires or
// release is closed.
type blockingTransport struct {
	mu       sync.Mutex
	attempts int
	release  chan struct{}
}

func (b *blockingTransport) PublishTelemetry(ctx context.Context, _ []byte) error {
	b.mu.Lock()
	b.attempts++
	b.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.release:
		return nil
	}
}

func (b *blockingTransport) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// drain waits for deliveries started by the ticks so far.
func drain(t *testing.T, p *Publisher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

// constSource always yields the same bits.
type constSource uint64

func (c constSource) Uint64() uint64 { return uint64(c) }

func TestSamplerBounds(t *testing.T) {
	tests := []struct {
		name string
		src  rand.Source
	}{
		{"pcg", rand.NewPCG(1, 2)},
		{"min", constSource(0)},
		{"max", constSource(^uint64(0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampler(DefaultTarget, tt.src)
			for i := 0; i < 1000; i++ {
				got := s.Sample(time.Time{})
				if got.Temp < DefaultTarget || got.Temp >= DefaultTarget+TempSpan {
					t.Fatalf("temp = %v, want [%v,%v)", got.Temp, DefaultTarget, DefaultTarget+TempSpan)
				}
				if got.Humid < HumidityBase || got.Humid >= HumidityBase+HumiditySpan {
					t.Fatalf("humid = %v, want [70,80)", got.Humid)
				}
			}
		})
	}
}

func TestPayloadShape(t *testing.T) {
	fc := clock.Fake(time.Unix(1767225600, 0))
	tr := &mockTransport{}
	p := NewPublisher(Options{Transport: tr, Sampler: NewSampler(0, constSource(0)), Clock: fc})

	p.Tick()

	var body map[string]any
	if err := json.Unmarshal(tr.payloads[0], &body); err != nil {
		t.Fatalf("payload %s: %v", tr.payloads[0], err)
	}
	if len(body) != 2 || body["temp"] != float64(0) || body["humid"] != float64(70) {
		t.Errorf("payload = %s, want only temp and humid", tr.payloads[0])
	}
}

func TestPublisherTicksOnInterval(t *testing.T) {
	fc := clock.Fake(time.Unix(1767225600, 0))
	tr := &mockTransport{}
	sink := &mockSink{}
	p := NewPublisher(Options{Transport: tr, Clock: fc, Sinks: []Sink{sink}})

	if err := p.Start(time.Second); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(time.Second); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	fc.Advance(999 * time.Millisecond)
	if tr.count() != 0 {
		t.Fatal("published before first interval")
	}
	fc.Advance(3*time.Second + time.Millisecond)
	drain(t, p)
	if tr.count() != 4 {
		t.Errorf("published %d times, want 4", tr.count())
	}
	if len(sink.samples) != 4 {
		t.Errorf("sink got %d samples, want 4", len(sink.samples))
	}
	if last, ok := p.Last(); !ok || !last.Time.Equal(fc.Now()) {
		t.Errorf("Last() = %+v, %v", last, ok)
	}

	p.Stop()
	fc.Advance(5 * time.Second)
	drain(t, p)
	if tr.count() != 4 {
		t.Errorf("published %d times after Stop, want 4", tr.count())
	}
}

func TestPublishFailureDoesNotStopTicks(t *testing.T) {
	fc := clock.Fake(time.Unix(1767225600, 0))
	tr := &mockTransport{err: errors.New("not connected")}
	sink := &mockSink{err: errors.New("influx down")}
	p := NewPublisher(Options{Transport: tr, Clock: fc, Sinks: []Sink{sink}})

	if err := p.Start(time.Second); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fc.Advance(3 * time.Second)
	drain(t, p)

	if tr.count() != 3 {
		t.Errorf("attempted %d publishes, want 3", tr.count())
	}
	if s := p.Stats(); s.Failed != 3 || s.Sent != 0 {
		t.Errorf("Stats() = %+v, want 3 failed", s)
	}
	if len(sink.samples) != 3 {
		t.Errorf("sink got %d samples, want 3", len(sink.samples))
	}
}

func TestBlockedPublishDoesNotDelayTicks(t *testing.T) {
	fc := clock.Fake(time.Unix(1767225600, 0))
	tr := &blockingTransport{release: make(chan struct{})}
	sink := &mockSink{}
	p := NewPublisher(Options{Transport: tr, Clock: fc, Sinks: []Sink{sink}, PublishTimeout: time.Minute})

	if err := p.Start(time.Second); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	advanced := make(chan struct{})
	go func() {
		fc.Advance(5 * time.Second)
		close(advanced)
	}()
	select {
	case <-advanced:
	case <-time.After(2 * time.Second):
		close(tr.release)
		t.Fatal("ticks waited on a blocked publish")
	}

	deadline := time.Now().Add(2 * time.Second)
	for tr.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := tr.count(); n != 5 {
		t.Errorf("publish attempts = %d, want 5 while all are blocked", n)
	}

	close(tr.release)
	p.Stop()
	drain(t, p)
	if s := p.Stats(); s.Sent != 5 {
		t.Errorf("Stats() = %+v, want 5 sent", s)
	}
	if len(sink.samples) != 5 {
		t.Errorf("sink got %d samples, want 5", len(sink.samples))
	}
}

func TestSinksOutliveTimedOutPublish(t *testing.T) {
	tr := &blockingTransport{release: make(chan struct{})}
	var sinkErr error
	sink := sinkFunc(func(ctx context.Context, _ Sample) error {
		sinkErr = ctx.Err()
		return nil
	})
	p := NewPublisher(Options{Transport: tr, Sinks: []Sink{sink}, PublishTimeout: 20 * time.Millisecond})

	p.Tick()

	if s := p.Stats(); s.Failed != 1 {
		t.Errorf("Stats() = %+v, want 1 failed", s)
	}
	if sinkErr != nil {
		t.Errorf("sink context already done: %v", sinkErr)
	}
}

// sinkFunc adapts a function to Sink.
type sinkFunc func(ctx context.Context, s Sample) error

func (f sinkFunc) WriteSample(ctx context.Context, s Sample) error { return f(ctx, s) }

func TestStartRejectsBadInterval(t *testing.T) {
	p := NewPublisher(Options{Transport: &mockTransport{}})
	if err := p.Start(0); err == nil {
		t.Error("Start(0) succeeded")
	}
}
