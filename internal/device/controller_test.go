package device

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/command"
	"github.com/nerrad567/gray-logic-agent/internal/twin"
)

func newTestController(t *testing.T) (*Controller, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(time.Unix(1767225600, 0))
	c, err := NewController(Options{Clock: fc})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c, fc
}

func findCommand(t *testing.T, c *Controller, name string) command.SyncHandler {
	t.Helper()
	for _, r := range c.Commands() {
		if r.Name == name {
			if r.Mode != command.Sync {
				t.Fatalf("%s mode = %s, want sync", name, r.Mode)
			}
			return r.Sync
		}
	}
	t.Fatalf("command %q not registered", name)
	return nil
}

func findProperty(t *testing.T, c *Controller, name string) twin.UpdateFunc {
	t.Helper()
	for _, p := range c.WritableProperties() {
		if p.Name == name {
			return p.Update
		}
	}
	t.Fatalf("property %q not registered", name)
	return nil
}

func receive(t *testing.T, ch <-chan twin.Outcome) (twin.Outcome, bool) {
	t.Helper()
	select {
	case out := <-ch:
		return out, true
	default:
		return twin.Outcome{}, false
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestBlink(t *testing.T) {
	c, _ := newTestController(t)
	blink := findCommand(t, c, CommandBlink)

	tests := []struct {
		payload    string
		wantStatus int
		wantText   string
	}{
		{"5", http.StatusOK, "Blinking LED every 5 seconds"},
		{"0.5", http.StatusOK, "Blinking LED every 0.5 seconds"},
		{"0", http.StatusBadRequest, "invalid blink interval"},
		{"-2", http.StatusBadRequest, "invalid blink interval"},
		{`"5"`, http.StatusBadRequest, "invalid blink interval"},
		{"", http.StatusBadRequest, "invalid blink interval"},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			resp := blink(context.Background(), command.Request{Name: CommandBlink, Payload: []byte(tt.payload)})
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.Status, tt.wantStatus)
			}
			p, ok := resp.Payload.(map[string]string)
			if !ok || p["status"] != tt.wantText {
				t.Errorf("payload = %v, want status %q", resp.Payload, tt.wantText)
			}
		})
	}

	if got := c.State().BlinkInterval; got != 0.5 {
		t.Errorf("BlinkInterval = %v, want last valid interval 0.5", got)
	}
}

func TestTurnOnOffIdempotent(t *testing.T) {
	c, _ := newTestController(t)
	on := findCommand(t, c, CommandTurnOn)
	off := findCommand(t, c, CommandTurnOff)

	steps := []struct {
		name    string
		handler command.SyncHandler
		wantOn  bool
	}{
		{"turnon while on", on, true},
		{"turnoff", off, false},
		{"turnoff while off", off, false},
		{"turnon", on, true},
	}

	for _, s := range steps {
		resp := s.handler(context.Background(), command.Request{})
		if resp.Status != http.StatusOK || resp.Payload != nil {
			t.Errorf("%s: response = %+v, want 200 with no payload", s.name, resp)
		}
		if c.LEDOn() != s.wantOn {
			t.Errorf("%s: LEDOn() = %v, want %v", s.name, c.LEDOn(), s.wantOn)
		}
	}
}

// =============================================================================
// Writable properties
// =============================================================================

func TestWritablePropertyDelays(t *testing.T) {
	tests := []struct {
		property string
		value    any
		delay    time.Duration
		want     any
	}{
		{PropertyName, "porch", NameApplyDelay, "porch"},
		{PropertyBrightness, float64(60), BrightnessApplyDelay, 60},
	}

	for _, tt := range tests {
		t.Run(tt.property, func(t *testing.T) {
			c, fc := newTestController(t)
			results := findProperty(t, c, tt.property)(context.Background(), tt.value)

			fc.Advance(tt.delay - time.Millisecond)
			if _, ok := receive(t, results); ok {
				t.Fatal("completed before its delay")
			}

			fc.Advance(time.Millisecond)
			out, ok := receive(t, results)
			if !ok {
				t.Fatal("not completed after its delay")
			}
			if out.Value != tt.want || out.Status != StatusCompleted {
				t.Errorf("outcome = %+v, want %v completed", out, tt.want)
			}
		})
	}
}

func TestWritablePropertyInvalid(t *testing.T) {
	tests := []struct {
		property string
		value    any
	}{
		{PropertyName, ""},
		{PropertyName, float64(3)},
		{PropertyBrightness, float64(101)},
		{PropertyBrightness, float64(12.5)},
		{PropertyBrightness, "bright"},
	}

	for _, tt := range tests {
		c, _ := newTestController(t)
		out, ok := receive(t, findProperty(t, c, tt.property)(context.Background(), tt.value))
		if !ok {
			t.Errorf("%s=%v: invalid value did not complete immediately", tt.property, tt.value)
			continue
		}
		if out.Status != StatusInvalid {
			t.Errorf("%s=%v: status = %s, want %s", tt.property, tt.value, out.Status, StatusInvalid)
		}
	}
}

func TestInvalidValueReportsPrevious(t *testing.T) {
	c, fc := newTestController(t)
	update := findProperty(t, c, PropertyBrightness)

	first := update(context.Background(), float64(40))
	fc.Advance(BrightnessApplyDelay)
	<-first

	out, _ := receive(t, update(context.Background(), float64(400)))
	if out.Value != 40 || out.Status != StatusInvalid {
		t.Errorf("outcome = %+v, want previous value 40 with invalid status", out)
	}
	if c.State().Brightness != 40 {
		t.Errorf("Brightness = %d, want 40", c.State().Brightness)
	}
}

func TestCancelledUpdateNotApplied(t *testing.T) {
	c, fc := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())

	results := findProperty(t, c, PropertyName)(ctx, "garage")
	cancel()

	// context.AfterFunc runs asynchronously.
	deadline := time.Now().Add(time.Second)
	for fc.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	fc.Advance(NameApplyDelay)

	if _, ok := receive(t, results); ok {
		t.Error("cancelled update completed")
	}
	if c.State().Name != "" {
		t.Errorf("Name = %q, want unchanged", c.State().Name)
	}
}

// =============================================================================
// Validator
// =============================================================================

func TestValidatorSchemas(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	for _, id := range []string{SchemaName, SchemaBrightness, SchemaBlink} {
		if !v.HasSchema(id) {
			t.Errorf("schema %q not loaded", id)
		}
	}
	if err := v.Validate("colour", "red"); !errors.Is(err, ErrUnknownSchema) {
		t.Errorf("Validate(colour) error = %v, want ErrUnknownSchema", err)
	}
	if err := v.Validate(SchemaBrightness, float64(50)); err != nil {
		t.Errorf("Validate(brightness, 50) error = %v", err)
	}
	if err := v.Validate(SchemaBrightness, float64(-1)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Validate(brightness, -1) error = %v, want ErrInvalidValue", err)
	}
}
