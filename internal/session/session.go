package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
)

// Session is a live hub connection. It is owned by the Manager that
// opened it; other components use it only through the capabilities
// below.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	conn           Conn
	hub            string
	deviceID       string
	qos            byte
	requestTimeout time.Duration
	logger         Logger
	topics         mqtt.Topics

	pendingMu sync.Mutex
	pending   map[string]chan reply

	handlersMu     sync.RWMutex
	desired        []DesiredHandler
	desiredOnce    bool
	commands       map[string]CommandHandler
	commandsSubbed bool

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// reply is a twin GET/PATCH response delivered to exactly one waiter.
type reply struct {
	status  int
	version int64
	body    []byte
}

// CommandRequest is one inbound method invocation.
type CommandRequest struct {
	Name      string
	RequestID string
	Payload   []byte
}

// CommandHandler handles a method invocation. The handler, or code it
// starts, must answer with Session.Respond using req.RequestID.
type CommandHandler func(req CommandRequest)

// DesiredHandler receives one desired-property push. version is the
// twin's desired $version carried by that push.
type DesiredHandler func(patch Properties, version int64)

func newSession(conn Conn, hub, deviceID string, qos byte, requestTimeout time.Duration, logger Logger) *Session {
	return &Session{
		conn:           conn,
		hub:            hub,
		deviceID:       deviceID,
		qos:            qos,
		requestTimeout: requestTimeout,
		logger:         logger,
		pending:        make(map[string]chan reply),
		commands:       make(map[string]CommandHandler),
		done:           make(chan struct{}),
	}
}

// DeviceID returns the device id this session is bound to.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Hub returns the hub host name.
func (s *Session) Hub() string {
	return s.hub
}

// Connected reports whether the session is still up.
func (s *Session) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.conn.IsConnected()
	}
}

// Done is closed when the session ends, either by Close or by losing
// the connection.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended: nil after Close, an error
// wrapping ErrSessionLost after a drop.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close ends the session and disconnects from the hub.
func (s *Session) Close() error {
	s.finish(nil)
	return s.conn.Close()
}

func (s *Session) finish(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

func (s *Session) handleConnectionLost(err error) {
	s.logError("hub session lost", "device_id", s.deviceID, "error", err)
	s.finish(fmt.Errorf("%w: %w", ErrSessionLost, err))
}

// =============================================================================
// Telemetry
// =============================================================================

// PublishTelemetry sends one device-to-cloud message. It returns once
// the hub acknowledged it or the publish failed; it never retries.
func (s *Session) PublishTelemetry(ctx context.Context, payload []byte) error {
	if err := s.usable(ctx); err != nil {
		return err
	}
	if err := s.conn.Publish(s.topics.Telemetry(s.deviceID), payload, s.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// =============================================================================
// Twin
// =============================================================================

// FetchTwin retrieves the full twin document.
func (s *Session) FetchTwin(ctx context.Context) (*Twin, error) {
	r, err := s.request(ctx, s.topics.TwinGet, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTwinFetchFailed, err)
	}
	if r.status != 200 {
		return nil, fmt.Errorf("%w: status %d", ErrTwinFetchFailed, r.status)
	}

	var twin Twin
	if err := json.Unmarshal(r.body, &twin); err != nil {
		return nil, fmt.Errorf("%w: decoding document: %w", ErrTwinFetchFailed, err)
	}
	if twin.Desired == nil {
		twin.Desired = Properties{}
	}
	if twin.Reported == nil {
		twin.Reported = Properties{}
	}
	return &twin, nil
}

// PatchReported sends a reported-property patch and returns the new
// reported $version assigned by the hub.
func (s *Session) PatchReported(ctx context.Context, patch map[string]any) (int64, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("%w: encoding patch: %w", ErrPatchFailed, err)
	}

	r, err := s.request(ctx, s.topics.TwinPatchReported, body)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPatchFailed, err)
	}
	if r.status != 204 && r.status != 200 {
		return 0, fmt.Errorf("%w: status %d", ErrPatchFailed, r.status)
	}
	return r.version, nil
}

// OnDesiredChange registers h for desired-property pushes. The hub
// subscription is made on the first call.
func (s *Session) OnDesiredChange(h DesiredHandler) error {
	s.handlersMu.Lock()
	s.desired = append(s.desired, h)
	subscribe := !s.desiredOnce
	s.desiredOnce = true
	s.handlersMu.Unlock()

	if !subscribe {
		return nil
	}
	if err := s.conn.Subscribe(s.topics.TwinDesired(), s.qos, s.handleDesired); err != nil {
		s.handlersMu.Lock()
		s.desiredOnce = false
		s.desired = s.desired[:len(s.desired)-1]
		s.handlersMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// request publishes a twin request and waits for the reply carrying
// the same $rid. Each request id has exactly one waiter.
func (s *Session) request(ctx context.Context, topicFor func(rid string) string, body []byte) (reply, error) {
	if err := s.usable(ctx); err != nil {
		return reply{}, err
	}

	rid := uuid.NewString()
	ch := make(chan reply, 1)

	s.pendingMu.Lock()
	s.pending[rid] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, rid)
		s.pendingMu.Unlock()
	}()

	if body == nil {
		body = []byte{}
	}
	if err := s.conn.Publish(topicFor(rid), body, s.qos, false); err != nil {
		return reply{}, err
	}

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		return reply{}, fmt.Errorf("%w: no reply to %s within %v", ErrRequestTimeout, rid, s.requestTimeout)
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-s.done:
		return reply{}, ErrSessionClosed
	}
}

// handleTwinResponse routes "$iothub/twin/res/<status>/?$rid=..." to
// the waiting request.
func (s *Session) handleTwinResponse(topic string, payload []byte) error {
	resp, err := mqtt.ParseResponse(topic, mqtt.TwinResponsePrefix)
	if err != nil {
		return err
	}

	s.pendingMu.Lock()
	ch, ok := s.pending[resp.RequestID]
	delete(s.pending, resp.RequestID)
	s.pendingMu.Unlock()

	if !ok {
		s.logDebug("twin reply without waiter", "rid", resp.RequestID, "status", resp.Status)
		return nil
	}

	ch <- reply{
		status:  resp.Status,
		version: resp.Int64(mqtt.QueryVersion, 0),
		body:    append([]byte(nil), payload...),
	}
	return nil
}

func (s *Session) handleDesired(topic string, payload []byte) error {
	var patch Properties
	if err := json.Unmarshal(payload, &patch); err != nil {
		return fmt.Errorf("decoding desired patch: %w", err)
	}

	version, ok := patch.Version()
	if !ok {
		version, ok = mqtt.ParseDesiredVersion(topic)
	}
	if !ok {
		return fmt.Errorf("desired patch on %s carries no $version", topic)
	}

	s.handlersMu.RLock()
	handlers := append([]DesiredHandler(nil), s.desired...)
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		h(patch, version)
	}
	return nil
}

// =============================================================================
// Commands
// =============================================================================

// OnCommand binds h to the method called name. Names are unique; the
// hub subscription is made on the first registration. Invocations of
// names with no handler are answered with 404.
func (s *Session) OnCommand(name string, h CommandHandler) error {
	if name == "" || h == nil {
		return fmt.Errorf("%w: name and handler are required", ErrInvalidCommand)
	}

	s.handlersMu.Lock()
	if _, exists := s.commands[name]; exists {
		s.handlersMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	s.commands[name] = h
	subscribe := !s.commandsSubbed
	s.commandsSubbed = true
	s.handlersMu.Unlock()

	if !subscribe {
		return nil
	}
	if err := s.conn.Subscribe(s.topics.Methods(), s.qos, s.handleMethod); err != nil {
		s.handlersMu.Lock()
		delete(s.commands, name)
		s.commandsSubbed = false
		s.handlersMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Respond answers a method invocation. A nil payload is sent as an
// empty body; []byte payloads are sent as-is; anything else is JSON
// encoded.
func (s *Session) Respond(ctx context.Context, rid string, status int, payload any) error {
	if err := s.usable(ctx); err != nil {
		return err
	}

	var body []byte
	switch p := payload.(type) {
	case nil:
		body = []byte{}
	case []byte:
		body = p
	case json.RawMessage:
		body = p
	default:
		var err error
		body, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("%w: encoding payload: %w", ErrResponseFailed, err)
		}
	}

	if err := s.conn.Publish(s.topics.MethodResponse(status, rid), body, s.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrResponseFailed, err)
	}
	return nil
}

func (s *Session) handleMethod(topic string, payload []byte) error {
	name, rid, err := mqtt.ParseMethod(topic)
	if err != nil {
		return err
	}

	s.handlersMu.RLock()
	h, ok := s.commands[name]
	s.handlersMu.RUnlock()

	if !ok {
		s.logWarn("unknown method invoked", "method", name, "rid", rid)
		ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
		defer cancel()
		return s.Respond(ctx, rid, 404, map[string]string{"message": "unknown method " + name})
	}

	h(CommandRequest{
		Name:      name,
		RequestID: rid,
		Payload:   append([]byte(nil), payload...),
	})
	return nil
}

// usable fails fast when the context is done or the session is over.
func (s *Session) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
		return nil
	}
}

func (s *Session) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Session) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Session) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
