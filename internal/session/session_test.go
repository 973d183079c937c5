package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
)

const descriptor = "HostName=hub.example.net;DeviceId=sensor-01;SharedAccessKey=" + testKey

func openTestSession(t *testing.T, conn *MockConn) *Session {
	t.Helper()
	m := NewManager(Options{
		Dialer:         func(mqtt.Options) (Conn, error) { return conn, nil },
		QoS:            1,
		RequestTimeout: time.Second,
		Clock:          clock.Fake(time.Unix(1767225600, 0)),
	})
	s, err := m.Open(context.Background(), descriptor)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

// =============================================================================
// Open
// =============================================================================

func TestOpenBuildsCredentials(t *testing.T) {
	conn := NewMockConn()
	var got mqtt.Options
	m := NewManager(Options{
		Dialer: func(o mqtt.Options) (Conn, error) {
			got = o
			return conn, nil
		},
		TLS:   true,
		Clock: clock.Fake(time.Unix(1767225600, 0)),
	})

	s, err := m.Open(context.Background(), descriptor)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if got.Host != "hub.example.net" || got.Port != DefaultPort || !got.TLS {
		t.Errorf("dial target = %s:%d tls=%v", got.Host, got.Port, got.TLS)
	}
	if got.ClientID != "sensor-01" {
		t.Errorf("ClientID = %q, want sensor-01", got.ClientID)
	}
	if want := "hub.example.net/sensor-01/?api-version=" + DefaultAPIVersion; got.Username != want {
		t.Errorf("Username = %q, want %q", got.Username, want)
	}
	if !strings.HasPrefix(got.Password, "SharedAccessSignature sr=hub.example.net%2Fdevices%2Fsensor-01&") {
		t.Errorf("Password = %q, want SAS token for the device resource", got.Password)
	}
	if !strings.Contains(got.Password, "&se=1767229200") {
		t.Errorf("Password = %q, want expiry one hour ahead", got.Password)
	}
	if !conn.Subscribed(mqtt.Topics{}.TwinResponses()) {
		t.Error("twin response topic not subscribed on open")
	}
	if s.DeviceID() != "sensor-01" || s.Hub() != "hub.example.net" {
		t.Errorf("session identity = %s@%s", s.DeviceID(), s.Hub())
	}
	if !s.Connected() {
		t.Error("Connected() = false after open")
	}
}

func TestOpenFailures(t *testing.T) {
	dialErr := errors.New("tls handshake failed")

	tests := []struct {
		name       string
		descriptor string
		dialer     Dialer
		wantDials  int
	}{
		{"malformed descriptor", "HostName=hub", nil, 0},
		{"dial error", descriptor, func(mqtt.Options) (Conn, error) { return nil, dialErr }, 1},
		{"subscribe error", descriptor, func(mqtt.Options) (Conn, error) {
			c := NewMockConn()
			c.SubscribeErr = errors.New("not authorised")
			return c, nil
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dials := 0
			m := NewManager(Options{Dialer: func(o mqtt.Options) (Conn, error) {
				dials++
				if tt.dialer == nil {
					return NewMockConn(), nil
				}
				return tt.dialer(o)
			}})

			s, err := m.Open(context.Background(), tt.descriptor)
			if !errors.Is(err, ErrConnectFailed) {
				t.Errorf("Open() error = %v, want ErrConnectFailed", err)
			}
			if s != nil {
				t.Error("Open() returned a session on failure")
			}
			if dials != tt.wantDials {
				t.Errorf("dials = %d, want %d", dials, tt.wantDials)
			}
		})
	}
}

func TestOpenCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(Options{Dialer: func(mqtt.Options) (Conn, error) {
		t.Error("dialer called with a cancelled context")
		return NewMockConn(), nil
	}})
	if _, err := m.Open(ctx, descriptor); !errors.Is(err, context.Canceled) {
		t.Errorf("Open() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Telemetry
// =============================================================================

func TestPublishTelemetry(t *testing.T) {
	conn := NewMockConn()
	s := openTestSession(t, conn)

	if err := s.PublishTelemetry(context.Background(), []byte(`{"temp":30,"humid":75}`)); err != nil {
		t.Fatalf("PublishTelemetry() error = %v", err)
	}

	pubs := conn.Published()
	if len(pubs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pubs))
	}
	if pubs[0].topic != "devices/sensor-01/messages/events/" {
		t.Errorf("topic = %q", pubs[0].topic)
	}

	conn.PublishErr = errors.New("broker gone")
	if err := s.PublishTelemetry(context.Background(), []byte(`{}`)); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishTelemetry() error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// Twin
// =============================================================================

func TestFetchTwin(t *testing.T) {
	conn := NewMockConn()
	conn.Responder = func(m *MockConn, topic string, _ []byte) {
		if strings.HasPrefix(topic, "$iothub/twin/GET/") {
			m.SimulateMessage("$iothub/twin/res/200/?$rid="+ridOf(topic),
				[]byte(`{"desired":{"brightness":40,"$version":3},"reported":{"name":{"value":"lab","status":"completed","desiredVersion":2},"$version":9}}`))
		}
	}
	s := openTestSession(t, conn)

	twin, err := s.FetchTwin(context.Background())
	if err != nil {
		t.Fatalf("FetchTwin() error = %v", err)
	}

	if v, ok := twin.Desired.Version(); !ok || v != 3 {
		t.Errorf("Desired.Version() = %d, %v, want 3", v, ok)
	}
	if v, _ := twin.Desired.Value("brightness"); v != float64(40) {
		t.Errorf("Desired brightness = %v, want 40", v)
	}
	if v, _ := twin.Reported.Value("name"); v != "lab" {
		t.Errorf("Reported name = %v, want lab (unwrapped)", v)
	}
	if names := twin.Reported.Names(); len(names) != 1 || names[0] != "name" {
		t.Errorf("Reported.Names() = %v, want [name]", names)
	}
}

func TestFetchTwinFailures(t *testing.T) {
	t.Run("error status", func(t *testing.T) {
		conn := NewMockConn()
		conn.Responder = func(m *MockConn, topic string, _ []byte) {
			m.SimulateMessage("$iothub/twin/res/429/?$rid="+ridOf(topic), nil)
		}
		s := openTestSession(t, conn)

		if _, err := s.FetchTwin(context.Background()); !errors.Is(err, ErrTwinFetchFailed) {
			t.Errorf("FetchTwin() error = %v, want ErrTwinFetchFailed", err)
		}
	})

	t.Run("no reply", func(t *testing.T) {
		conn := NewMockConn()
		m := NewManager(Options{
			Dialer:         func(mqtt.Options) (Conn, error) { return conn, nil },
			RequestTimeout: 20 * time.Millisecond,
		})
		s, err := m.Open(context.Background(), descriptor)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		_, err = s.FetchTwin(context.Background())
		if !errors.Is(err, ErrTwinFetchFailed) || !errors.Is(err, ErrRequestTimeout) {
			t.Errorf("FetchTwin() error = %v, want ErrTwinFetchFailed wrapping ErrRequestTimeout", err)
		}
	})
}

func TestPatchReportedCorrelatesByRequestID(t *testing.T) {
	conn := NewMockConn()
	// Reply asynchronously with the patched property's number as version,
	// so each caller must receive the reply for its own request.
	conn.Responder = func(m *MockConn, topic string, payload []byte) {
		if !strings.HasPrefix(topic, "$iothub/twin/PATCH/properties/reported/") {
			return
		}
		var patch map[string]int
		_ = json.Unmarshal(payload, &patch)
		go m.SimulateMessage(fmt.Sprintf("$iothub/twin/res/204/?$rid=%s&$version=%d", ridOf(topic), patch["n"]), nil)
	}
	s := openTestSession(t, conn)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			version, err := s.PatchReported(context.Background(), map[string]any{"n": n})
			if err != nil {
				errs <- err
				return
			}
			if version != int64(n) {
				errs <- fmt.Errorf("patch %d got version %d", n, version)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestPatchReportedRejected(t *testing.T) {
	conn := NewMockConn()
	conn.Responder = func(m *MockConn, topic string, _ []byte) {
		m.SimulateMessage("$iothub/twin/res/400/?$rid="+ridOf(topic), nil)
	}
	s := openTestSession(t, conn)

	if _, err := s.PatchReported(context.Background(), map[string]any{"x": 1}); !errors.Is(err, ErrPatchFailed) {
		t.Errorf("PatchReported() error = %v, want ErrPatchFailed", err)
	}
}

func TestDesiredChange(t *testing.T) {
	conn := NewMockConn()
	s := openTestSession(t, conn)

	type push struct {
		patch   Properties
		version int64
	}
	got := make(chan push, 2)
	if err := s.OnDesiredChange(func(p Properties, v int64) { got <- push{p, v} }); err != nil {
		t.Fatalf("OnDesiredChange() error = %v", err)
	}
	if !conn.Subscribed(mqtt.Topics{}.TwinDesired()) {
		t.Fatal("desired topic not subscribed")
	}

	err := conn.SimulateMessage("$iothub/twin/PATCH/properties/desired/?$version=7",
		[]byte(`{"brightness":{"value":55},"$version":7}`))
	if err != nil {
		t.Fatalf("desired handler error = %v", err)
	}

	p := <-got
	if p.version != 7 {
		t.Errorf("version = %d, want 7", p.version)
	}
	if v, _ := p.patch.Value("brightness"); v != float64(55) {
		t.Errorf("brightness = %v, want 55", v)
	}

	// Version only in the topic.
	_ = conn.SimulateMessage("$iothub/twin/PATCH/properties/desired/?$version=8", []byte(`{"name":"porch"}`))
	if p := <-got; p.version != 8 {
		t.Errorf("version from topic = %d, want 8", p.version)
	}

	// No version anywhere is rejected.
	if err := conn.SimulateMessage("$iothub/twin/PATCH/properties/desired/", []byte(`{"name":"x"}`)); err == nil {
		t.Error("push without $version accepted")
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestCommandRoundTrip(t *testing.T) {
	conn := NewMockConn()
	s := openTestSession(t, conn)

	requests := make(chan CommandRequest, 1)
	if err := s.OnCommand("blink", func(req CommandRequest) { requests <- req }); err != nil {
		t.Fatalf("OnCommand() error = %v", err)
	}
	if err := s.OnCommand("blink", func(CommandRequest) {}); !errors.Is(err, ErrDuplicateCommand) {
		t.Errorf("duplicate OnCommand() error = %v, want ErrDuplicateCommand", err)
	}
	if err := s.OnCommand("", func(CommandRequest) {}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("OnCommand(\"\") error = %v, want ErrInvalidCommand", err)
	}

	if err := conn.SimulateMessage("$iothub/methods/POST/blink/?$rid=11", []byte("5")); err != nil {
		t.Fatalf("method handler error = %v", err)
	}
	req := <-requests
	if req.Name != "blink" || req.RequestID != "11" || string(req.Payload) != "5" {
		t.Errorf("request = %+v", req)
	}

	if err := s.Respond(context.Background(), req.RequestID, 200, map[string]string{"status": "ok"}); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if err := s.Respond(context.Background(), "12", 202, nil); err != nil {
		t.Fatalf("Respond(nil) error = %v", err)
	}

	pubs := conn.Published()
	if len(pubs) != 2 {
		t.Fatalf("published %d responses, want 2", len(pubs))
	}
	if pubs[0].topic != "$iothub/methods/res/200/?$rid=11" || string(pubs[0].payload) != `{"status":"ok"}` {
		t.Errorf("response = %s %s", pubs[0].topic, pubs[0].payload)
	}
	if pubs[1].topic != "$iothub/methods/res/202/?$rid=12" || len(pubs[1].payload) != 0 {
		t.Errorf("empty response = %s %q", pubs[1].topic, pubs[1].payload)
	}
}

func TestUnknownCommandAnswered404(t *testing.T) {
	conn := NewMockConn()
	s := openTestSession(t, conn)
	if err := s.OnCommand("turnon", func(CommandRequest) {}); err != nil {
		t.Fatalf("OnCommand() error = %v", err)
	}

	if err := conn.SimulateMessage("$iothub/methods/POST/selfdestruct/?$rid=3", nil); err != nil {
		t.Fatalf("method handler error = %v", err)
	}

	pubs := conn.Published()
	if len(pubs) != 1 || pubs[0].topic != "$iothub/methods/res/404/?$rid=3" {
		t.Errorf("published = %+v, want one 404 response", pubs)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestSessionLost(t *testing.T) {
	conn := NewMockConn()
	s := openTestSession(t, conn)

	conn.SimulateDisconnect(errors.New("keepalive timeout"))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after disconnect")
	}
	if !errors.Is(s.Err(), ErrSessionLost) {
		t.Errorf("Err() = %v, want ErrSessionLost", s.Err())
	}
	if s.Connected() {
		t.Error("Connected() = true after disconnect")
	}
	if err := s.PublishTelemetry(context.Background(), []byte("{}")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("PublishTelemetry() after loss error = %v, want ErrSessionClosed", err)
	}
}

func TestSessionCloseIsClean(t *testing.T) {
	conn := NewMockConn()
	s := openTestSession(t, conn)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	<-s.Done()
	if s.Err() != nil {
		t.Errorf("Err() after Close = %v, want nil", s.Err())
	}
}
