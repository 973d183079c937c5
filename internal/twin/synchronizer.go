package twin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-agent/internal/session"
)

// Transport is the session capability set the synchronizer needs.
type Transport interface {
	FetchTwin(ctx context.Context) (*session.Twin, error)
	PatchReported(ctx context.Context, patch map[string]any) (int64, error)
	OnDesiredChange(h session.DesiredHandler) error
}

// Outcome is the result of applying a writable property: the value the
// device ended up with and a status string such as "completed".
type Outcome struct {
	Value  any
	Status string
}

// UpdateFunc applies a desired value and delivers exactly one Outcome
// on the returned channel. The synchronizer is its only reader.
type UpdateFunc func(ctx context.Context, value any) <-chan Outcome

// WritableProperty binds a desired-property name to its update function.
type WritableProperty struct {
	Name   string
	Update UpdateFunc
}

// DesiredHandler is notified of each desired push after the local
// document has been updated.
type DesiredHandler func(changes map[string]DesiredProperty)

// Observer receives twin changes, e.g. for the local event stream.
type Observer interface {
	DesiredChanged(changes map[string]DesiredProperty)
	ReportedChanged(patch map[string]any, version int64)
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Synchronizer.
type Options struct {
	Transport  Transport
	Properties []WritableProperty
	Observer   Observer
	Logger     Logger
}

type desiredPush struct {
	patch   session.Properties
	version int64
}

type patchRequest struct {
	patch map[string]any
	done  chan error
}

// Synchronizer keeps the local twin document in step with the hub.
//
// Reported patches are sent one at a time in the order they were
// queued. Writable-property acknowledgements always carry the desired
// version of the push that triggered them.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Synchronizer struct {
	transport Transport
	props     map[string]WritableProperty
	observer  Observer
	logger    Logger
	doc       *Document

	handlersMu sync.RWMutex
	handlers   []DesiredHandler

	// deliverMu orders desired pushes against the initial load. Pushes
	// that arrive before the document is loaded wait in early.
	deliverMu sync.Mutex
	loaded    bool
	failed    bool
	early     []desiredPush

	// ctx is handed to update functions and cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []patchRequest
	started  bool
	closing  bool // no new property updates
	stopping bool // no new patches; worker drains and exits
	notify   chan struct{}

	updates    sync.WaitGroup
	workerDone chan struct{}
	stopOnce   sync.Once
}

// New creates a Synchronizer.
//
// Returns:
//   - error: ErrDuplicateProperty if two writable properties share a name
func New(opts Options) (*Synchronizer, error) {
	props := make(map[string]WritableProperty, len(opts.Properties))
	for _, p := range opts.Properties {
		if _, dup := props[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProperty, p.Name)
		}
		props[p.Name] = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		transport:  opts.Transport,
		props:      props,
		observer:   opts.Observer,
		logger:     opts.Logger,
		doc:        newDocument(),
		ctx:        ctx,
		cancel:     cancel,
		notify:     make(chan struct{}, 1),
		workerDone: make(chan struct{}),
	}, nil
}

// Start launches the patch worker. It must run before
// FetchAndInitialize so startup acknowledgements can be queued.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Stop waits for in-flight property updates until ctx is done, then
// abandons the rest, sends every queued patch and stops the worker.
func (s *Synchronizer) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		started := s.started
		s.mu.Unlock()

		waited := make(chan struct{})
		go func() {
			s.updates.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			s.logWarn("abandoning in-flight property updates")
		}
		s.cancel()

		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		s.signal()

		if started {
			<-s.workerDone
		}
	})
}

// Document returns the local twin view.
func (s *Synchronizer) Document() *Document {
	return s.doc
}

// OnDesiredChange registers h to be told about each desired push.
func (s *Synchronizer) OnDesiredChange(h DesiredHandler) {
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, h)
	s.handlersMu.Unlock()
}

// FetchAndInitialize subscribes to desired pushes, loads the twin and
// applies any desired writable values not yet acknowledged. It is
// called once per session.
//
// The subscription is made before the GET so no push can fall between
// the snapshot and the subscription. Pushes received while the GET is
// in flight are held and applied after the load unless the snapshot
// already covers their version.
//
// Returns:
//   - *Document: The initialised local view
//   - error: Wrapping ErrFetchFailed; the caller continues without twin features
func (s *Synchronizer) FetchAndInitialize(ctx context.Context) (*Document, error) {
	if err := s.transport.OnDesiredChange(s.receiveDesired); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	t, err := s.transport.FetchTwin(ctx)
	if err != nil {
		s.deliverMu.Lock()
		s.failed = true
		s.early = nil
		s.deliverMu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.doc.load(t)
	s.loaded = true

	version, _ := t.Desired.Version()
	for _, name := range sortedNames(t.Desired) {
		prop, known := s.props[name]
		if !known {
			continue
		}
		if rp, ok := s.doc.Reported(name); ok && rp.DesiredVersion >= version {
			continue
		}
		value, _ := t.Desired.Value(name)
		s.logInfo("applying pending desired property", "property", name, "desired_version", version)
		s.track(prop, DesiredProperty{Value: value, Version: version})
	}

	for _, push := range s.early {
		if push.version <= version {
			s.logDebug("dropping desired push covered by fetched twin", "desired_version", push.version)
			continue
		}
		s.handleDesired(push.patch, push.version)
	}
	s.early = nil

	s.logInfo("twin initialised",
		"desired_version", version,
		"reported_properties", len(t.Reported.Names()),
	)
	return s.doc, nil
}

// receiveDesired is the session's desired-push handler.
func (s *Synchronizer) receiveDesired(patch session.Properties, version int64) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	switch {
	case s.failed:
		s.logDebug("ignoring desired push without a twin", "desired_version", version)
	case !s.loaded:
		s.early = append(s.early, desiredPush{patch: patch, version: version})
	default:
		s.handleDesired(patch, version)
	}
}

// ReportProperties queues a reported-property patch. The returned
// channel yields exactly one value: nil once the hub accepted the
// patch, or the error. Failures are logged and never retried.
func (s *Synchronizer) ReportProperties(patch map[string]any) <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	switch {
	case !s.started:
		done <- ErrNotStarted
	case s.stopping:
		done <- ErrStopped
	default:
		s.queue = append(s.queue, patchRequest{patch: patch, done: done})
	}
	s.mu.Unlock()

	s.signal()
	return done
}

func (s *Synchronizer) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) run() {
	defer close(s.workerDone)
	for {
		req, ok := s.next()
		if !ok {
			return
		}
		s.send(req)
	}
}

// next blocks until a patch is queued, or returns false once stopping
// with an empty queue.
func (s *Synchronizer) next() (patchRequest, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			req := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return req, true
		}
		if s.stopping {
			s.mu.Unlock()
			return patchRequest{}, false
		}
		s.mu.Unlock()
		<-s.notify
	}
}

func (s *Synchronizer) send(req patchRequest) {
	version, err := s.transport.PatchReported(context.Background(), req.patch)
	if err != nil {
		s.logError("reported patch failed", "properties", sortedKeys(req.patch), "error", err)
		req.done <- err
		return
	}

	s.doc.applyReported(req.patch, version)
	s.logInfo("reported patch sent", "properties", sortedKeys(req.patch), "version", version)
	if s.observer != nil {
		s.observer.ReportedChanged(req.patch, version)
	}
	req.done <- nil
}

func (s *Synchronizer) handleDesired(patch session.Properties, version int64) {
	changes := make(map[string]DesiredProperty)
	for _, name := range patch.Names() {
		v, _ := patch.Value(name)
		changes[name] = DesiredProperty{Value: v, Version: version}
	}
	s.doc.applyDesired(changes, version)

	if s.observer != nil {
		s.observer.DesiredChanged(changes)
	}
	s.handlersMu.RLock()
	handlers := append([]DesiredHandler(nil), s.handlers...)
	s.handlersMu.RUnlock()
	for _, h := range handlers {
		h(changes)
	}

	for _, name := range sortedNames(patch) {
		prop, known := s.props[name]
		if !known {
			s.logDebug("ignoring desired property without handler", "property", name)
			continue
		}
		change := changes[name]
		s.logInfo("received setting", "property", name, "value", change.Value, "desired_version", version)
		s.track(prop, change)
	}
}

// track runs one property update and acknowledges its outcome with the
// version of the change that started it.
func (s *Synchronizer) track(prop WritableProperty, change DesiredProperty) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.logWarn("dropping desired change during shutdown", "property", prop.Name)
		return
	}
	s.updates.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.updates.Done()

		results := prop.Update(s.ctx, change.Value)
		select {
		case out, ok := <-results:
			if !ok {
				s.logWarn("property update finished without outcome", "property", prop.Name)
				return
			}
			s.ReportProperties(map[string]any{
				prop.Name: map[string]any{
					"value":          out.Value,
					"status":         out.Status,
					"desiredVersion": change.Version,
				},
			})
		case <-s.ctx.Done():
		}
	}()
}

func sortedNames(p session.Properties) []string {
	names := p.Names()
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Synchronizer) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Synchronizer) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Synchronizer) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Synchronizer) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
