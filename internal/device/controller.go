package device

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/command"
	"github.com/nerrad567/gray-logic-agent/internal/twin"
)

// Command and property names exposed to the platform.
const (
	CommandBlink   = "blink"
	CommandTurnOn  = "turnon"
	CommandTurnOff = "turnoff"

	PropertyName       = "name"
	PropertyBrightness = "brightness"
)

// Simulated time for a writable property to take effect.
const (
	NameApplyDelay       = 1 * time.Second
	BrightnessApplyDelay = 5 * time.Second
)

// Writable-property outcome statuses.
const (
	StatusCompleted = "completed"
	StatusInvalid   = "invalid"
)

// State is a snapshot of the simulated device.
type State struct {
	LEDOn         bool    `json:"led_on"`
	BlinkInterval float64 `json:"blink_interval,omitempty"`
	Name          string  `json:"name,omitempty"`
	Brightness    int     `json:"brightness"`
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Controller.
type Options struct {
	Clock     clock.Clock
	Validator *Validator
	Logger    Logger
}

// Controller owns the simulated LED and the writable properties. It is
// the only holder of that state.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Controller struct {
	clock     clock.Clock
	validator *Validator
	logger    Logger

	mu    sync.RWMutex
	state State
}

// NewController creates a Controller with the LED on.
func NewController(opts Options) (*Controller, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Validator == nil {
		v, err := NewValidator()
		if err != nil {
			return nil, err
		}
		opts.Validator = v
	}
	return &Controller{
		clock:     opts.Clock,
		validator: opts.Validator,
		logger:    opts.Logger,
		state:     State{LEDOn: true},
	}, nil
}

// State returns the current device state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LEDOn reports whether the LED is on.
func (c *Controller) LEDOn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.LEDOn
}

// Commands returns the device's sync command registrations.
func (c *Controller) Commands() []command.Registration {
	return []command.Registration{
		{Name: CommandBlink, Mode: command.Sync, Sync: c.blink},
		{Name: CommandTurnOn, Mode: command.Sync, Sync: c.turnOn},
		{Name: CommandTurnOff, Mode: command.Sync, Sync: c.turnOff},
	}
}

// WritableProperties returns the writable-property table.
func (c *Controller) WritableProperties() []twin.WritableProperty {
	return []twin.WritableProperty{
		{Name: PropertyName, Update: c.updater(SchemaName, NameApplyDelay, c.applyName)},
		{Name: PropertyBrightness, Update: c.updater(SchemaBrightness, BrightnessApplyDelay, c.applyBrightness)},
	}
}

func (c *Controller) blink(_ context.Context, req command.Request) command.Response {
	c.logInfo("received synchronous call to blink", "payload", string(req.Payload))

	if err := c.validator.ValidateJSON(SchemaBlink, req.Payload); err != nil {
		c.logWarn("rejecting blink request", "payload", string(req.Payload), "error", err)
		return command.Response{
			Status:  http.StatusBadRequest,
			Payload: map[string]string{"status": "invalid blink interval"},
		}
	}

	var seconds float64
	if err := json.Unmarshal(req.Payload, &seconds); err != nil {
		return command.Response{
			Status:  http.StatusBadRequest,
			Payload: map[string]string{"status": "invalid blink interval"},
		}
	}

	c.mu.Lock()
	c.state.BlinkInterval = seconds
	c.mu.Unlock()

	msg := fmt.Sprintf("Blinking LED every %s seconds", strconv.FormatFloat(seconds, 'f', -1, 64))
	c.logInfo(msg)
	return command.Response{Status: http.StatusOK, Payload: map[string]string{"status": msg}}
}

func (c *Controller) turnOn(context.Context, command.Request) command.Response {
	c.logInfo("received synchronous call to turn on LED")
	c.mu.Lock()
	if !c.state.LEDOn {
		c.state.LEDOn = true
		c.logInfo("turning on the LED")
	}
	c.mu.Unlock()
	return command.Response{Status: http.StatusOK}
}

func (c *Controller) turnOff(context.Context, command.Request) command.Response {
	c.logInfo("received synchronous call to turn off LED")
	c.mu.Lock()
	if c.state.LEDOn {
		c.state.LEDOn = false
		c.logInfo("turning off the LED")
	}
	c.mu.Unlock()
	return command.Response{Status: http.StatusOK}
}

// updater builds an UpdateFunc that validates value against schema,
// waits delay and then applies it. An invalid value completes at once
// with the current value and StatusInvalid.
func (c *Controller) updater(schema string, delay time.Duration, apply func(any) any) twin.UpdateFunc {
	return func(ctx context.Context, value any) <-chan twin.Outcome {
		out := make(chan twin.Outcome, 1)

		if err := c.validator.Validate(schema, value); err != nil {
			c.logWarn("rejecting writable property", "property", schema, "value", value, "error", err)
			out <- twin.Outcome{Value: apply(nil), Status: StatusInvalid}
			return out
		}

		timer := c.clock.AfterFunc(delay, func() {
			out <- twin.Outcome{Value: apply(value), Status: StatusCompleted}
		})
		context.AfterFunc(ctx, func() { timer.Stop() })
		return out
	}
}

// applyName sets the name when v is non-nil and returns the current name.
func (c *Controller) applyName(v any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := v.(string); ok {
		c.state.Name = s
		c.logInfo("name updated", "name", s)
	}
	return c.state.Name
}

// applyBrightness sets the brightness when v is numeric and returns the
// current level.
func (c *Controller) applyBrightness(v any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level, ok := toInt(v); ok {
		c.state.Brightness = level
		c.logInfo("brightness updated", "brightness", level)
	}
	return c.state.Brightness
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func (c *Controller) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Controller) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
