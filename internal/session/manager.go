package session

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/identity"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
)

// Default settings applied when Options leaves them zero.
const (
	DefaultAPIVersion     = "2021-04-12"
	DefaultPort           = 8883
	DefaultTokenTTL       = time.Hour
	DefaultRequestTimeout = 10 * time.Second
)

// Conn is the transport capability a session needs.
// *mqtt.Client satisfies it.
type Conn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnDisconnect(callback func(err error))
	IsConnected() bool
	Close() error
}

// Dialer opens a Conn.
type Dialer func(opts mqtt.Options) (Conn, error)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Manager.
type Options struct {
	// Dialer opens the transport. Required.
	Dialer Dialer

	Port           int
	TLS            bool
	QoS            byte
	APIVersion     string
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	Clock  clock.Clock
	Logger Logger
}

// Manager opens hub sessions.
type Manager struct {
	opts Options
}

// NewManager creates a Manager, filling unset options with defaults.
func NewManager(opts Options) *Manager {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Manager{opts: opts}
}

// Open connects to the hub named in descriptor and returns a usable
// session. It is attempted once; there is no retry.
//
// Parameters:
//   - ctx: Cancels the attempt before the transport is dialled
//   - descriptor: "HostName=<hub>;DeviceId=<id>;SharedAccessKey=<key>"
//
// Returns:
//   - *Session: Open session with the twin reply subscription in place
//   - error: Wrapping ErrConnectFailed on any failure
func (m *Manager) Open(ctx context.Context, descriptor string) (*Session, error) {
	cs, err := identity.ParseConnectionString(descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	if m.opts.Dialer == nil {
		return nil, fmt.Errorf("%w: no dialer configured", ErrConnectFailed)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	resource := cs.HostName + "/devices/" + cs.DeviceID
	token, err := identity.SASToken(resource, cs.SharedAccessKey, "", m.opts.Clock.Now().Add(m.opts.TokenTTL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	conn, err := m.opts.Dialer(mqtt.Options{
		Host:           cs.HostName,
		Port:           m.opts.Port,
		TLS:            m.opts.TLS,
		ClientID:       cs.DeviceID,
		Username:       fmt.Sprintf("%s/%s/?api-version=%s", cs.HostName, cs.DeviceID, m.opts.APIVersion),
		Password:       token,
		KeepAlive:      m.opts.KeepAlive,
		ConnectTimeout: m.opts.ConnectTimeout,
		PublishTimeout: m.opts.PublishTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	s := newSession(conn, cs.HostName, cs.DeviceID, m.opts.QoS, m.opts.RequestTimeout, m.opts.Logger)
	conn.SetOnDisconnect(s.handleConnectionLost)

	if err := conn.Subscribe(s.topics.TwinResponses(), m.opts.QoS, s.handleTwinResponse); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if m.opts.Logger != nil {
		m.opts.Logger.Info("hub session opened", "hub", cs.HostName, "device_id", cs.DeviceID)
	}
	return s, nil
}
