package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/identity"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
)

// Default settings applied when Options leaves them zero.
const (
	DefaultHost       = "global.azure-devices-provisioning.net"
	DefaultPort       = 8883
	DefaultAPIVersion = "2019-03-31"
	DefaultTimeout    = 60 * time.Second
	DefaultTokenTTL   = time.Hour
	DefaultRetryAfter = 3 * time.Second

	// keyName is the SAS policy name for device registrations.
	keyName = "registration"
)

// Registration states reported by the service.
const (
	StatusAssigned   = "assigned"
	StatusAssigning  = "assigning"
	StatusUnassigned = "unassigned"
	StatusFailed     = "failed"
	StatusDisabled   = "disabled"
)

// Conn is the transport capability a registration needs.
// *mqtt.Client satisfies it.
type Conn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Close() error
}

// Dialer opens a Conn.
type Dialer func(opts mqtt.Options) (Conn, error)

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Client.
type Options struct {
	// Dialer opens the transport. Required.
	Dialer Dialer

	Host           string
	Port           int
	TLS            bool
	IDScope        string
	APIVersion     string
	QoS            byte
	Timeout        time.Duration
	TokenTTL       time.Duration
	RetryAfter     time.Duration
	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	Clock  clock.Clock
	Logger Logger
}

// Client performs device registrations.
type Client struct {
	opts   Options
	topics mqtt.Topics
}

// NewClient creates a Client, filling unset options with defaults.
func NewClient(opts Options) *Client {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = DefaultRetryAfter
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Client{opts: opts}
}

// registrationState is the assignment part of a service reply.
type registrationState struct {
	RegistrationID string `json:"registrationId"`
	AssignedHub    string `json:"assignedHub"`
	DeviceID       string `json:"deviceId"`
	Status         string `json:"status"`
	ErrorCode      int    `json:"errorCode,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// operation is the body of every register and status reply.
type operation struct {
	OperationID       string             `json:"operationId"`
	Status            string             `json:"status"`
	RegistrationState *registrationState `json:"registrationState,omitempty"`

	// Set on error replies.
	ErrorCode int    `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

type reply struct {
	resp mqtt.Response
	body []byte
}

// Register exchanges the credentials for a hub assignment.
//
// Parameters:
//   - ctx: Bounds the exchange together with Options.Timeout
//   - creds: Registration id and symmetric key; both required
//
// Returns:
//   - identity.Assignment: The assigned hub and device id
//   - error: Wrapping ErrProvisioningFailed; *Error for service rejections
func (c *Client) Register(ctx context.Context, creds identity.Credentials) (identity.Assignment, error) {
	if err := creds.Validate(); err != nil {
		return identity.Assignment{}, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	if c.opts.IDScope == "" {
		return identity.Assignment{}, fmt.Errorf("%w: id scope is required", ErrProvisioningFailed)
	}
	if c.opts.Dialer == nil {
		return identity.Assignment{}, fmt.Errorf("%w: no dialer configured", ErrProvisioningFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resource := c.opts.IDScope + "/registrations/" + creds.RegistrationID
	token, err := identity.SASToken(resource, creds.SymmetricKey, keyName, c.opts.Clock.Now().Add(c.opts.TokenTTL))
	if err != nil {
		return identity.Assignment{}, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	conn, err := c.opts.Dialer(mqtt.Options{
		Host:           c.opts.Host,
		Port:           c.opts.Port,
		TLS:            c.opts.TLS,
		ClientID:       creds.RegistrationID,
		Username:       fmt.Sprintf("%s/api-version=%s", resource, c.opts.APIVersion),
		Password:       token,
		KeepAlive:      c.opts.KeepAlive,
		ConnectTimeout: c.opts.ConnectTimeout,
	})
	if err != nil {
		return identity.Assignment{}, fmt.Errorf("%w: connecting to %s: %w", ErrProvisioningFailed, c.opts.Host, err)
	}
	defer conn.Close() //nolint:errcheck // provisioning connection is single-use

	replies := make(chan reply, 4)
	err = conn.Subscribe(c.topics.DPSResponses(), c.opts.QoS, func(topic string, payload []byte) error {
		resp, err := mqtt.ParseResponse(topic, mqtt.DPSResponsePrefix)
		if err != nil {
			return err
		}
		select {
		case replies <- reply{resp: resp, body: payload}:
		default:
			c.logWarn("dropping provisioning reply", "rid", resp.RequestID)
		}
		return nil
	})
	if err != nil {
		return identity.Assignment{}, fmt.Errorf("%w: subscribing: %w", ErrProvisioningFailed, err)
	}

	body, err := json.Marshal(map[string]string{"registrationId": creds.RegistrationID})
	if err != nil {
		return identity.Assignment{}, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	rid := uuid.NewString()
	c.logInfo("registering device", "registration_id", creds.RegistrationID, "host", c.opts.Host)
	if err := conn.Publish(c.topics.DPSRegister(rid), body, c.opts.QoS, false); err != nil {
		return identity.Assignment{}, fmt.Errorf("%w: sending register request: %w", ErrProvisioningFailed, err)
	}

	for {
		r, err := await(ctx, replies, rid)
		if err != nil {
			return identity.Assignment{}, err
		}

		op, err := decodeOperation(r)
		if err != nil {
			return identity.Assignment{}, err
		}

		switch op.Status {
		case StatusAssigned:
			return assignment(op)
		case StatusFailed, StatusDisabled:
			return identity.Assignment{}, rejection(r.resp.Status, op)
		}

		if op.OperationID == "" {
			return identity.Assignment{}, fmt.Errorf("%w: status %q without operation id", ErrProvisioningFailed, op.Status)
		}

		wait := time.Duration(r.resp.Int64(mqtt.QueryRetryAfter, int64(c.opts.RetryAfter/time.Second))) * time.Second
		c.logDebug("registration pending", "operation_id", op.OperationID, "status", op.Status, "retry_after", wait)
		select {
		case <-c.opts.Clock.After(wait):
		case <-ctx.Done():
			return identity.Assignment{}, timeoutErr(ctx)
		}

		rid = uuid.NewString()
		if err := conn.Publish(c.topics.DPSOperationStatus(rid, op.OperationID), nil, c.opts.QoS, false); err != nil {
			return identity.Assignment{}, fmt.Errorf("%w: polling operation status: %w", ErrProvisioningFailed, err)
		}
	}
}

// await returns the next reply for rid. Replies for other ids are stale
// and skipped.
func await(ctx context.Context, replies <-chan reply, rid string) (reply, error) {
	for {
		select {
		case r := <-replies:
			if r.resp.RequestID == rid {
				return r, nil
			}
		case <-ctx.Done():
			return reply{}, timeoutErr(ctx)
		}
	}
}

func timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, ErrTimeout)
	}
	return fmt.Errorf("%w: %w", ErrProvisioningFailed, ctx.Err())
}

func decodeOperation(r reply) (operation, error) {
	var op operation
	if len(r.body) > 0 {
		if err := json.Unmarshal(r.body, &op); err != nil && r.resp.Status < http.StatusMultipleChoices {
			return op, fmt.Errorf("%w: decoding reply: %w", ErrProvisioningFailed, err)
		}
	}
	if r.resp.Status >= http.StatusMultipleChoices {
		msg := op.Message
		if msg == "" && op.Status == "" {
			msg = string(r.body)
		}
		return op, &Error{Status: r.resp.Status, Message: msg}
	}
	return op, nil
}

func assignment(op operation) (identity.Assignment, error) {
	if op.RegistrationState == nil {
		return identity.Assignment{}, fmt.Errorf("%w: assigned without registration state", ErrProvisioningFailed)
	}
	a := identity.Assignment{
		Hub:      op.RegistrationState.AssignedHub,
		DeviceID: op.RegistrationState.DeviceID,
	}
	if err := a.Validate(); err != nil {
		return identity.Assignment{}, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	return a, nil
}

func rejection(status int, op operation) *Error {
	e := &Error{Status: status, RegistrationStatus: op.Status}
	if rs := op.RegistrationState; rs != nil && rs.ErrorMessage != "" {
		e.Message = rs.ErrorMessage
	}
	return e
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warn(msg, args...)
	}
}
