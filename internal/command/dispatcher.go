package command

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/session"
)

// DefaultResponseTimeout bounds each method response publish.
const DefaultResponseTimeout = 5 * time.Second

// Mode selects the response protocol of a command.
type Mode int

const (
	// Sync commands answer with their result.
	Sync Mode = iota
	// Async commands answer 202 and finish in the background.
	Async
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sync":
		return Sync, nil
	case "async":
		return Async, nil
	default:
		return 0, fmt.Errorf("unknown command mode %q", s)
	}
}

// Request is an inbound command invocation.
type Request struct {
	Name      string
	RequestID string
	Payload   []byte
}

// Response is a Sync command's answer. A nil Payload is sent as an
// empty body.
type Response struct {
	Status  int
	Payload any
}

// SyncHandler executes a command and returns its response.
type SyncHandler func(ctx context.Context, req Request) Response

// AsyncHandler starts a command's background work and returns.
type AsyncHandler func(ctx context.Context, req Request)

// Registration binds a command name to its handler.
type Registration struct {
	Name  string
	Mode  Mode
	Sync  SyncHandler
	Async AsyncHandler
}

// Outcome states recorded for each invocation.
const (
	StatusResponded    = "responded"
	StatusAcknowledged = "acknowledged"
	StatusSendFailed   = "send_failed"
)

// Record describes one handled invocation.
type Record struct {
	Name           string    `json:"name"`
	RequestID      string    `json:"request_id"`
	Mode           Mode      `json:"mode"`
	Payload        []byte    `json:"-"`
	ResponseStatus int       `json:"response_status"`
	Outcome        string    `json:"outcome"`
	HandledAt      time.Time `json:"handled_at"`
}

// Transport is the session capability set the dispatcher needs.
type Transport interface {
	OnCommand(name string, h session.CommandHandler) error
	Respond(ctx context.Context, rid string, status int, payload any) error
}

// Recorder persists invocation records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Observer is told about each handled invocation.
type Observer interface {
	CommandHandled(rec Record)
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Dispatcher.
type Options struct {
	Transport       Transport
	Recorder        Recorder
	Observer        Observer
	Logger          Logger
	ResponseTimeout time.Duration
}

// Dispatcher binds registrations to the session and runs the sync and
// async response protocols.
//
// Thread Safety:
//   - Invocations may arrive concurrently; each runs on its own goroutine.
type Dispatcher struct {
	transport       Transport
	recorder        Recorder
	observer        Observer
	logger          Logger
	responseTimeout time.Duration

	mu    sync.RWMutex
	regs  map[string]Registration
	bound bool
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	return &Dispatcher{
		transport:       opts.Transport,
		recorder:        opts.Recorder,
		observer:        opts.Observer,
		logger:          opts.Logger,
		responseTimeout: opts.ResponseTimeout,
		regs:            make(map[string]Registration),
	}
}

// RegisterAll validates every registration and binds each one to the
// transport. Nothing is bound if any registration is invalid.
func (d *Dispatcher) RegisterAll(regs []Registration) error {
	d.mu.Lock()
	if d.bound {
		d.mu.Unlock()
		return ErrAlreadyRegistered
	}
	byName := make(map[string]Registration, len(regs))
	for _, r := range regs {
		if err := validate(r); err != nil {
			d.mu.Unlock()
			return err
		}
		if _, dup := byName[r.Name]; dup {
			d.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, r.Name)
		}
		byName[r.Name] = r
	}
	d.regs = byName
	d.bound = true
	d.mu.Unlock()

	for _, r := range regs {
		if err := d.transport.OnCommand(r.Name, d.handle); err != nil {
			return fmt.Errorf("binding command %s: %w", r.Name, err)
		}
		d.logDebug("command registered", "command", r.Name, "mode", r.Mode.String())
	}
	return nil
}

func validate(r Registration) error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRegistration)
	}
	switch r.Mode {
	case Sync:
		if r.Sync == nil {
			return fmt.Errorf("%w: %s has no sync handler", ErrInvalidRegistration, r.Name)
		}
	case Async:
		if r.Async == nil {
			return fmt.Errorf("%w: %s has no async handler", ErrInvalidRegistration, r.Name)
		}
	default:
		return fmt.Errorf("%w: %s has unknown mode %s", ErrInvalidRegistration, r.Name, r.Mode)
	}
	return nil
}

// Registered reports the bound command names in sorted order.
func (d *Dispatcher) Registered() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.regs))
	for name := range d.regs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) handle(in session.CommandRequest) {
	d.mu.RLock()
	reg, ok := d.regs[in.Name]
	d.mu.RUnlock()
	if !ok {
		// The session answers unknown names itself.
		return
	}

	req := Request{Name: in.Name, RequestID: in.RequestID, Payload: in.Payload}
	d.logInfo("command received", "command", req.Name, "rid", req.RequestID, "mode", reg.Mode.String())

	switch reg.Mode {
	case Sync:
		d.runSync(reg, req)
	case Async:
		d.runAsync(reg, req)
	}
}

func (d *Dispatcher) runSync(reg Registration, req Request) {
	resp := reg.Sync(context.Background(), req)
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}

	outcome := StatusResponded
	if err := d.respond(req, resp.Status, resp.Payload); err != nil {
		outcome = StatusSendFailed
	}
	d.finish(reg, req, resp.Status, outcome)
}

func (d *Dispatcher) runAsync(reg Registration, req Request) {
	if err := d.respond(req, http.StatusAccepted, nil); err != nil {
		d.finish(reg, req, http.StatusAccepted, StatusSendFailed)
		return
	}
	d.finish(reg, req, http.StatusAccepted, StatusAcknowledged)
	reg.Async(context.Background(), req)
}

func (d *Dispatcher) respond(req Request, status int, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.responseTimeout)
	defer cancel()

	if err := d.transport.Respond(ctx, req.RequestID, status, payload); err != nil {
		d.logError("unable to send method response",
			"command", req.Name,
			"rid", req.RequestID,
			"status", status,
			"error", err,
		)
		return err
	}
	d.logDebug("method response sent", "command", req.Name, "rid", req.RequestID, "status", status)
	return nil
}

func (d *Dispatcher) finish(reg Registration, req Request, status int, outcome string) {
	rec := Record{
		Name:           req.Name,
		RequestID:      req.RequestID,
		Mode:           reg.Mode,
		Payload:        req.Payload,
		ResponseStatus: status,
		Outcome:        outcome,
		HandledAt:      time.Now().UTC(),
	}

	if d.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.responseTimeout)
		if err := d.recorder.Record(ctx, rec); err != nil {
			d.logWarn("failed to record command", "command", req.Name, "rid", req.RequestID, "error", err)
		}
		cancel()
	}
	if d.observer != nil {
		d.observer.CommandHandled(rec)
	}
}

func (d *Dispatcher) logDebug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

func (d *Dispatcher) logInfo(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *Dispatcher) logWarn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

func (d *Dispatcher) logError(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Error(msg, args...)
	}
}
