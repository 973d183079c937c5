package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/schedule"
)

// DefaultPublishTimeout bounds each telemetry publish.
const DefaultPublishTimeout = 5 * time.Second

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("telemetry: publisher already started")
)

// Transport sends telemetry payloads.
type Transport interface {
	PublishTelemetry(ctx context.Context, payload []byte) error
}

// Sink receives every sample after it is published, whether or not
// the publish succeeded.
type Sink interface {
	WriteSample(ctx context.Context, s Sample) error
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Publisher.
type Options struct {
	Transport      Transport
	Sampler        *Sampler
	Sinks          []Sink
	Clock          clock.Clock
	Logger         Logger
	PublishTimeout time.Duration
}

// Stats counts publish outcomes.
type Stats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// Publisher samples and publishes telemetry on a fixed interval.
//
// Each tick samples on the timer and delivers in its own goroutine, so
// a slow or failing publish never delays the next tick.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Publisher struct {
	transport      Transport
	sampler        *Sampler
	sinks          []Sink
	clock          clock.Clock
	logger         Logger
	publishTimeout time.Duration

	inflight sync.WaitGroup

	mu       sync.Mutex
	periodic *schedule.Periodic
	last     Sample
	hasLast  bool
	stats    Stats
}

// NewPublisher creates a Publisher.
func NewPublisher(opts Options) *Publisher {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Sampler == nil {
		opts.Sampler = NewSampler(DefaultTarget, nil)
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	return &Publisher{
		transport:      opts.Transport,
		sampler:        opts.Sampler,
		sinks:          opts.Sinks,
		clock:          opts.Clock,
		logger:         opts.Logger,
		publishTimeout: opts.PublishTimeout,
	}
}

// Start publishes one sample every interval until Stop.
func (p *Publisher) Start(interval time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.periodic != nil {
		return ErrAlreadyStarted
	}

	periodic, err := schedule.NewPeriodic(p.clock, interval, 0, func(int, bool) { p.tickAsync() })
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	p.periodic = periodic
	periodic.Start()

	p.logInfo("telemetry started", "interval", interval)
	return nil
}

// Stop cancels future ticks. Deliveries already started complete;
// use Wait to block on them.
func (p *Publisher) Stop() {
	p.mu.Lock()
	periodic := p.periodic
	p.mu.Unlock()
	if periodic != nil {
		periodic.Stop()
	}
}

// Wait blocks until every started delivery has finished or ctx is done.
func (p *Publisher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick samples and publishes once, returning after delivery.
func (p *Publisher) Tick() {
	sample, payload, ok := p.sample()
	if !ok {
		return
	}
	p.inflight.Add(1)
	p.deliver(sample, payload)
}

func (p *Publisher) tickAsync() {
	sample, payload, ok := p.sample()
	if !ok {
		return
	}
	p.inflight.Add(1)
	go p.deliver(sample, payload)
}

func (p *Publisher) sample() (Sample, []byte, bool) {
	sample := p.sampler.Sample(p.clock.Now())

	payload, err := json.Marshal(sample)
	if err != nil {
		p.logError("encoding telemetry", "error", err)
		return Sample{}, nil, false
	}

	p.mu.Lock()
	p.last, p.hasLast = sample, true
	p.mu.Unlock()
	return sample, payload, true
}

// deliver publishes one sample and hands it to every sink.
func (p *Publisher) deliver(sample Sample, payload []byte) {
	defer p.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	err := p.transport.PublishTelemetry(ctx, payload)
	cancel()

	p.mu.Lock()
	if err != nil {
		p.stats.Failed++
	} else {
		p.stats.Sent++
	}
	p.mu.Unlock()

	if err != nil {
		p.logWarn("telemetry publish failed", "payload", string(payload), "error", err)
	} else {
		p.logDebug("sent message", "payload", string(payload))
	}

	if len(p.sinks) == 0 {
		return
	}
	sinkCtx, sinkCancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer sinkCancel()
	for _, sink := range p.sinks {
		if err := sink.WriteSample(sinkCtx, sample); err != nil {
			p.logWarn("telemetry sink failed", "error", err)
		}
	}
}

// Last returns the most recent sample.
func (p *Publisher) Last() (Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}

// Stats returns publish counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Publisher) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Publisher) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Publisher) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Publisher) logError(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
