package provisioning

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/identity"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
)

const testKey = "c2VjcmV0LWtleS1mb3ItdGVzdHM="

var creds = identity.Credentials{RegistrationID: "sensor-01", SymmetricKey: testKey}

// scripted replies to each publish in turn: status, extra query, body.
type scripted struct {
	status int
	query  string
	body   string
}

// mockConn answers publishes from a script.
type mockConn struct {
	mu        sync.Mutex
	handler   mqtt.MessageHandler
	published []string
	script    []scripted
	closed    bool

	SubscribeErr error
	PublishErr   error
}

func (m *mockConn) Publish(topic string, _ []byte, _ byte, _ bool) error {
	m.mu.Lock()
	if m.PublishErr != nil {
		m.mu.Unlock()
		return m.PublishErr
	}
	m.published = append(m.published, topic)
	var next *scripted
	if len(m.script) > 0 {
		next = &m.script[0]
		m.script = m.script[1:]
	}
	h := m.handler
	m.mu.Unlock()

	if next == nil || h == nil {
		return nil
	}
	reply := mqtt.DPSResponsePrefix + strconv.Itoa(next.status) + "/?$rid=" + ridOf(topic) + next.query
	return h(reply, []byte(next.body))
}

func (m *mockConn) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeErr != nil {
		return m.SubscribeErr
	}
	if topic != (mqtt.Topics{}).DPSResponses() {
		return errors.New("unexpected subscription " + topic)
	}
	m.handler = h
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func ridOf(topic string) string {
	_, query, _ := strings.Cut(topic, "?")
	for _, kv := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(kv, "$rid="); ok {
			return v
		}
	}
	return ""
}

const assignedBody = `{"operationId":"op-1","status":"assigned","registrationState":{"registrationId":"sensor-01","assignedHub":"hub.example.net","deviceId":"sensor-01","status":"assigned"}}`

func newTestClient(conn *mockConn, dials *int, got *mqtt.Options) *Client {
	return NewClient(Options{
		IDScope: "0ne000ABC",
		Clock:   clock.Real(),
		Timeout: 2 * time.Second,
		Dialer: func(o mqtt.Options) (Conn, error) {
			if dials != nil {
				*dials++
			}
			if got != nil {
				*got = o
			}
			return conn, nil
		},
	})
}

func TestRegisterImmediateAssignment(t *testing.T) {
	conn := &mockConn{script: []scripted{{status: 200, body: assignedBody}}}
	var got mqtt.Options
	c := newTestClient(conn, nil, &got)

	a, err := c.Register(context.Background(), creds)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if a.Hub != "hub.example.net" || a.DeviceID != "sensor-01" {
		t.Errorf("assignment = %+v", a)
	}

	if got.Host != DefaultHost || got.Port != DefaultPort || got.ClientID != "sensor-01" {
		t.Errorf("dial options = %+v", got)
	}
	if want := "0ne000ABC/registrations/sensor-01/api-version=" + DefaultAPIVersion; got.Username != want {
		t.Errorf("Username = %q, want %q", got.Username, want)
	}
	if !strings.Contains(got.Password, "sr=0ne000ABC%2Fregistrations%2Fsensor-01") || !strings.HasSuffix(got.Password, "&skn=registration") {
		t.Errorf("Password = %q", got.Password)
	}
	if !strings.HasPrefix(conn.published[0], "$dps/registrations/PUT/iotdps-register/?$rid=") {
		t.Errorf("register topic = %q", conn.published[0])
	}
	if !conn.closed {
		t.Error("connection not closed after registration")
	}
}

func TestRegisterPollsUntilAssigned(t *testing.T) {
	conn := &mockConn{script: []scripted{
		{status: 202, query: "&retry-after=0", body: `{"operationId":"op-7","status":"assigning"}`},
		{status: 202, query: "&retry-after=0", body: `{"operationId":"op-7","status":"assigning"}`},
		{status: 200, body: assignedBody},
	}}
	c := newTestClient(conn, nil, nil)

	a, err := c.Register(context.Background(), creds)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if a.Hub != "hub.example.net" {
		t.Errorf("assignment = %+v", a)
	}
	if len(conn.published) != 3 {
		t.Fatalf("published %d requests, want 3", len(conn.published))
	}
	for _, topic := range conn.published[1:] {
		if !strings.HasPrefix(topic, "$dps/registrations/GET/iotdps-get-operationstatus/") || !strings.Contains(topic, "operationId=op-7") {
			t.Errorf("poll topic = %q", topic)
		}
	}
}

func TestRegisterDefaultRetryAfter(t *testing.T) {
	fc := clock.Fake(time.Unix(1767225600, 0))
	conn := &mockConn{script: []scripted{
		{status: 202, body: `{"operationId":"op-2","status":"assigning"}`},
		{status: 200, body: assignedBody},
	}}
	c := NewClient(Options{
		IDScope: "0ne000ABC",
		Clock:   fc,
		Timeout: 2 * time.Second,
		Dialer:  func(mqtt.Options) (Conn, error) { return conn, nil },
	})

	type result struct {
		a   identity.Assignment
		err error
	}
	done := make(chan result, 1)
	go func() {
		a, err := c.Register(context.Background(), creds)
		done <- result{a, err}
	}()

	if !fc.WaitForTimers(1, time.Second) {
		t.Fatal("no poll timer scheduled")
	}
	fc.Advance(DefaultRetryAfter - time.Millisecond)
	select {
	case <-done:
		t.Fatal("polled before retry-after elapsed")
	default:
	}
	fc.Advance(time.Millisecond)

	r := <-done
	if r.err != nil || r.a.DeviceID != "sensor-01" {
		t.Errorf("Register() = %+v, %v", r.a, r.err)
	}
}

func TestRegisterRejections(t *testing.T) {
	tests := []struct {
		name       string
		script     []scripted
		wantStatus string
		wantCode   int
	}{
		{
			name:     "unauthorized",
			script:   []scripted{{status: 401, body: `{"errorCode":401002,"message":"Unauthorized"}`}},
			wantCode: 401,
		},
		{
			name:       "disabled",
			script:     []scripted{{status: 200, body: `{"operationId":"op","status":"disabled"}`}},
			wantStatus: StatusDisabled,
			wantCode:   200,
		},
		{
			name: "failed after polling",
			script: []scripted{
				{status: 202, query: "&retry-after=0", body: `{"operationId":"op","status":"assigning"}`},
				{status: 200, body: `{"operationId":"op","status":"failed","registrationState":{"status":"failed","errorMessage":"custom allocation failed"}}`},
			},
			wantStatus: StatusFailed,
			wantCode:   200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(&mockConn{script: tt.script}, nil, nil)

			_, err := c.Register(context.Background(), creds)
			if !errors.Is(err, ErrProvisioningFailed) {
				t.Fatalf("Register() error = %v, want ErrProvisioningFailed", err)
			}
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("Register() error = %T, want *Error", err)
			}
			if perr.Status != tt.wantCode || perr.RegistrationStatus != tt.wantStatus {
				t.Errorf("Error = %+v", perr)
			}
		})
	}
}

func TestRegisterRejectsBeforeIO(t *testing.T) {
	tests := []struct {
		name  string
		creds identity.Credentials
	}{
		{"empty registration id", identity.Credentials{SymmetricKey: testKey}},
		{"empty key", identity.Credentials{RegistrationID: "sensor-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dials := 0
			c := newTestClient(&mockConn{}, &dials, nil)

			_, err := c.Register(context.Background(), tt.creds)
			if !errors.Is(err, ErrProvisioningFailed) || !errors.Is(err, identity.ErrMissingCredentials) {
				t.Errorf("Register() error = %v", err)
			}
			if dials != 0 {
				t.Errorf("dialled %d times, want 0", dials)
			}
		})
	}
}

func TestRegisterTimeout(t *testing.T) {
	c := NewClient(Options{
		IDScope: "0ne000ABC",
		Timeout: 20 * time.Millisecond,
		Dialer:  func(mqtt.Options) (Conn, error) { return &mockConn{}, nil },
	})

	_, err := c.Register(context.Background(), creds)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrProvisioningFailed) {
		t.Errorf("Register() error = %v, want ErrTimeout", err)
	}
}

func TestRegisterTransportFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		dialer Dialer
	}{
		{"dial", func(mqtt.Options) (Conn, error) { return nil, boom }},
		{"subscribe", func(mqtt.Options) (Conn, error) { return &mockConn{SubscribeErr: boom}, nil }},
		{"publish", func(mqtt.Options) (Conn, error) { return &mockConn{PublishErr: boom}, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(Options{IDScope: "0ne000ABC", Dialer: tt.dialer})
			_, err := c.Register(context.Background(), creds)
			if !errors.Is(err, ErrProvisioningFailed) || !errors.Is(err, boom) {
				t.Errorf("Register() error = %v", err)
			}
		})
	}
}
