package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/command"
	"github.com/nerrad567/gray-logic-agent/internal/device"
	"github.com/nerrad567/gray-logic-agent/internal/diagnostics"
	"github.com/nerrad567/gray-logic-agent/internal/identity"
	"github.com/nerrad567/gray-logic-agent/internal/telemetry"
	"github.com/nerrad567/gray-logic-agent/internal/twin"
)

// DefaultShutdownTimeout bounds the wait for in-flight work on exit.
const DefaultShutdownTimeout = 10 * time.Second

// Phase is the agent's lifecycle position.
type Phase string

// Lifecycle phases.
const (
	PhaseIdle         Phase = "idle"
	PhaseProvisioning Phase = "provisioning"
	PhaseConnecting   Phase = "connecting"
	PhaseRunning      Phase = "running"
	PhaseDegraded     Phase = "degraded"
	PhaseStopped      Phase = "stopped"
	PhaseFailed       Phase = "failed"
)

// Provisioner exchanges credentials for a hub assignment.
type Provisioner interface {
	Register(ctx context.Context, creds identity.Credentials) (identity.Assignment, error)
}

// Session is the open hub connection. *session.Session satisfies it.
type Session interface {
	twin.Transport
	command.Transport
	telemetry.Transport

	DeviceID() string
	Hub() string
	Connected() bool
	Done() <-chan struct{}
	Err() error
	Close() error
}

// OpenFunc opens a session from a connection descriptor.
type OpenFunc func(ctx context.Context, descriptor string) (Session, error)

// Events receives everything worth streaming to local observers.
type Events interface {
	twin.Observer
	command.Observer
	telemetry.Sink
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options wires the agent's collaborators.
type Options struct {
	Identity    *identity.Device
	Provisioner Provisioner
	Open        OpenFunc
	Controller  *device.Controller

	TelemetryInterval time.Duration
	Sampler           *telemetry.Sampler
	Sinks             []telemetry.Sink

	DiagnosticsTicks    int
	DiagnosticsInterval time.Duration

	Recorder command.Recorder
	Events   Events

	Clock           clock.Clock
	Logger          Logger
	ShutdownTimeout time.Duration
}

// Status is a point-in-time view for the local API.
type Status struct {
	Phase             Phase             `json:"phase"`
	RegistrationID    string            `json:"registration_id"`
	Hub               string            `json:"hub,omitempty"`
	DeviceID          string            `json:"device_id,omitempty"`
	Connected         bool              `json:"connected"`
	Device            device.State      `json:"device"`
	Twin              *twin.Snapshot    `json:"twin,omitempty"`
	LastTelemetry     *telemetry.Sample `json:"last_telemetry,omitempty"`
	Telemetry         telemetry.Stats   `json:"telemetry"`
	Commands          []string          `json:"commands,omitempty"`
	ActiveDiagnostics int               `json:"active_diagnostics"`
	StartedAt         time.Time         `json:"started_at"`
}

// Agent runs one device through its lifecycle.
//
// Thread Safety:
//   - Run is called once; Status and Phase may be called concurrently.
type Agent struct {
	opts Options

	mu         sync.RWMutex
	phase      Phase
	running    bool
	startedAt  time.Time
	session    Session
	synch      *twin.Synchronizer
	publisher  *telemetry.Publisher
	dispatcher *command.Dispatcher
	diag       *diagnostics.Task
}

// New validates opts and creates an Agent.
func New(opts Options) (*Agent, error) {
	switch {
	case opts.Identity == nil:
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidOptions)
	case opts.Provisioner == nil:
		return nil, fmt.Errorf("%w: provisioner is required", ErrInvalidOptions)
	case opts.Open == nil:
		return nil, fmt.Errorf("%w: session opener is required", ErrInvalidOptions)
	case opts.Controller == nil:
		return nil, fmt.Errorf("%w: device controller is required", ErrInvalidOptions)
	case opts.TelemetryInterval <= 0:
		return nil, fmt.Errorf("%w: telemetry interval must be positive", ErrInvalidOptions)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Agent{opts: opts, phase: PhaseIdle}, nil
}

// Run provisions, connects and serves until ctx is cancelled (nil
// error) or a fatal failure occurs.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.startedAt = a.opts.Clock.Now()
	a.mu.Unlock()

	a.setPhase(PhaseProvisioning)
	assignment, err := a.opts.Provisioner.Register(ctx, a.opts.Identity.Credentials())
	if err != nil {
		a.setPhase(PhaseFailed)
		a.logError("error registering device", "error", err)
		return fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	if err := a.opts.Identity.Assign(assignment); err != nil {
		a.setPhase(PhaseFailed)
		return fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	a.logInfo("registration succeeded", "assigned_hub", assignment.Hub, "device_id", assignment.DeviceID)

	descriptor, err := a.opts.Identity.ConnectionString()
	if err != nil {
		a.setPhase(PhaseFailed)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	a.setPhase(PhaseConnecting)
	sess, err := a.opts.Open(ctx, descriptor)
	if err != nil {
		a.setPhase(PhaseFailed)
		a.logError("device could not connect", "error", err)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	a.logInfo("device successfully connected", "hub", sess.Hub(), "device_id", sess.DeviceID())

	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()
	defer a.shutdown()

	if err := a.startTelemetry(sess); err != nil {
		a.setPhase(PhaseFailed)
		return err
	}

	if degraded := a.startTwinAndCommands(ctx, sess); degraded {
		a.setPhase(PhaseDegraded)
	} else {
		a.setPhase(PhaseRunning)
	}

	select {
	case <-ctx.Done():
		a.logInfo("shutdown requested")
		return nil
	case <-sess.Done():
		a.setPhase(PhaseFailed)
		a.logError("session lost", "error", sess.Err())
		return fmt.Errorf("%w: %w", ErrSessionLost, sess.Err())
	}
}

func (a *Agent) startTelemetry(sess Session) error {
	var sinks []telemetry.Sink
	sinks = append(sinks, a.opts.Sinks...)
	if a.opts.Events != nil {
		sinks = append(sinks, a.opts.Events)
	}

	pub := telemetry.NewPublisher(telemetry.Options{
		Transport: sess,
		Sampler:   a.opts.Sampler,
		Sinks:     sinks,
		Clock:     a.opts.Clock,
		Logger:    a.opts.Logger,
	})
	if err := pub.Start(a.opts.TelemetryInterval); err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}

	a.mu.Lock()
	a.publisher = pub
	a.mu.Unlock()
	return nil
}

// startTwinAndCommands reports whether the agent is degraded.
func (a *Agent) startTwinAndCommands(ctx context.Context, sess Session) bool {
	var observer twin.Observer
	if a.opts.Events != nil {
		observer = a.opts.Events
	}

	synch, err := twin.New(twin.Options{
		Transport:  sess,
		Properties: a.opts.Controller.WritableProperties(),
		Observer:   observer,
		Logger:     a.opts.Logger,
	})
	if err != nil {
		a.logError("creating twin synchronizer", "error", err)
		return true
	}
	synch.Start()

	a.mu.Lock()
	a.synch = synch
	a.mu.Unlock()

	if _, err := synch.FetchAndInitialize(ctx); err != nil {
		a.logError("error getting device twin; continuing with telemetry only", "error", err)
		return true
	}

	// Device-online marker; the result is logged by the synchronizer.
	synch.ReportProperties(map[string]any{"state": "true"})

	diag := diagnostics.New(diagnostics.Options{
		Reporter: synch,
		Clock:    a.opts.Clock,
		Logger:   a.opts.Logger,
		Ticks:    a.opts.DiagnosticsTicks,
		Interval: a.opts.DiagnosticsInterval,
	})

	var cmdObserver command.Observer
	if a.opts.Events != nil {
		cmdObserver = a.opts.Events
	}
	dispatcher := command.NewDispatcher(command.Options{
		Transport: sess,
		Recorder:  a.opts.Recorder,
		Observer:  cmdObserver,
		Logger:    a.opts.Logger,
	})

	a.mu.Lock()
	a.diag = diag
	a.dispatcher = dispatcher
	a.mu.Unlock()

	regs := append(a.opts.Controller.Commands(), diag.Registration())
	if err := dispatcher.RegisterAll(regs); err != nil {
		a.logError("binding commands", "error", err)
		return true
	}
	return false
}

// shutdown stops telemetry, lets in-flight work finish within the
// shutdown timeout and closes the session.
func (a *Agent) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
	defer cancel()

	a.mu.RLock()
	pub, diag, synch, sess := a.publisher, a.diag, a.synch, a.session
	a.mu.RUnlock()

	if pub != nil {
		pub.Stop()
		if err := pub.Wait(ctx); err != nil {
			a.logWarn("telemetry publishes abandoned", "error", err)
		}
	}
	if diag != nil {
		if err := diag.Wait(ctx); err != nil {
			a.logWarn("diagnostics runs abandoned", "error", err)
		}
	}
	if synch != nil {
		synch.Stop(ctx)
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			a.logWarn("error closing session", "error", err)
		}
	}

	a.mu.Lock()
	if a.phase != PhaseFailed {
		a.phase = PhaseStopped
	}
	a.mu.Unlock()
	a.logInfo("agent stopped")
}

// Phase returns the current lifecycle phase.
func (a *Agent) Phase() Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase
}

func (a *Agent) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
	a.logDebug("phase changed", "phase", string(p))
}

// Status returns a snapshot of the agent.
func (a *Agent) Status() Status {
	a.mu.RLock()
	st := Status{
		Phase:          a.phase,
		RegistrationID: a.opts.Identity.RegistrationID(),
		Device:         a.opts.Controller.State(),
		StartedAt:      a.startedAt,
	}
	sess, synch, pub, diag, dispatcher := a.session, a.synch, a.publisher, a.diag, a.dispatcher
	a.mu.RUnlock()

	if asg, ok := a.opts.Identity.Assignment(); ok {
		st.Hub, st.DeviceID = asg.Hub, asg.DeviceID
	}
	if sess != nil {
		st.Connected = sess.Connected()
	}
	if synch != nil {
		snap := synch.Document().Snapshot()
		st.Twin = &snap
	}
	if pub != nil {
		if last, ok := pub.Last(); ok {
			st.LastTelemetry = &last
		}
		st.Telemetry = pub.Stats()
	}
	if diag != nil {
		st.ActiveDiagnostics = diag.Active()
	}
	if dispatcher != nil {
		st.Commands = dispatcher.Registered()
	}
	return st
}

func (a *Agent) logDebug(msg string, args ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Debug(msg, args...)
	}
}

func (a *Agent) logInfo(msg string, args ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Info(msg, args...)
	}
}

func (a *Agent) logWarn(msg string, args ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Warn(msg, args...)
	}
}

func (a *Agent) logError(msg string, args ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Error(msg, args...)
	}
}
