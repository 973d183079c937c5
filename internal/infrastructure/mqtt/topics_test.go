package mqtt

import (
	"errors"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DPSResponses", topics.DPSResponses(), "$dps/registrations/res/#"},
		{"DPSRegister", topics.DPSRegister("1"), "$dps/registrations/PUT/iotdps-register/?$rid=1"},
		{"DPSOperationStatus", topics.DPSOperationStatus("2", "4.abc"),
			"$dps/registrations/GET/iotdps-get-operationstatus/?$rid=2&operationId=4.abc"},
		{"Telemetry", topics.Telemetry("sensor-01"), "devices/sensor-01/messages/events/"},
		{"TwinResponses", topics.TwinResponses(), "$iothub/twin/res/#"},
		{"TwinGet", topics.TwinGet("r1"), "$iothub/twin/GET/?$rid=r1"},
		{"TwinPatchReported", topics.TwinPatchReported("r2"), "$iothub/twin/PATCH/properties/reported/?$rid=r2"},
		{"TwinDesired", topics.TwinDesired(), "$iothub/twin/PATCH/properties/desired/#"},
		{"Methods", topics.Methods(), "$iothub/methods/POST/#"},
		{"MethodResponse", topics.MethodResponse(202, "9"), "$iothub/methods/res/202/?$rid=9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse("$iothub/twin/res/204/?$rid=abc&$version=12", TwinResponsePrefix)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if resp.Status != 204 {
		t.Errorf("Status = %d, want 204", resp.Status)
	}
	if resp.RequestID != "abc" {
		t.Errorf("RequestID = %q, want abc", resp.RequestID)
	}
	if v := resp.Int64(QueryVersion, -1); v != 12 {
		t.Errorf("Int64($version) = %d, want 12", v)
	}
	if v := resp.Int64(QueryRetryAfter, 3); v != 3 {
		t.Errorf("Int64(retry-after) default = %d, want 3", v)
	}
}

func TestParseResponseDPS(t *testing.T) {
	resp, err := ParseResponse("$dps/registrations/res/202/?$rid=7&retry-after=2", DPSResponsePrefix)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if resp.Status != 202 || resp.RequestID != "7" || resp.Int64(QueryRetryAfter, 0) != 2 {
		t.Errorf("ParseResponse() = %+v", resp)
	}
}

func TestParseResponseErrors(t *testing.T) {
	inputs := []string{
		"$iothub/methods/POST/x/?$rid=1",
		"$iothub/twin/res/abc/?$rid=1",
		"$iothub/twin/res/200/?%zz",
	}
	for _, in := range inputs {
		if _, err := ParseResponse(in, TwinResponsePrefix); !errors.Is(err, ErrUnexpectedTopic) {
			t.Errorf("ParseResponse(%q) error = %v, want ErrUnexpectedTopic", in, err)
		}
	}
}

func TestParseMethod(t *testing.T) {
	name, rid, err := ParseMethod("$iothub/methods/POST/blink/?$rid=42")
	if err != nil {
		t.Fatalf("ParseMethod() error = %v", err)
	}
	if name != "blink" || rid != "42" {
		t.Errorf("ParseMethod() = %q, %q, want blink, 42", name, rid)
	}

	for _, bad := range []string{
		"$iothub/twin/res/200/?$rid=1",
		"$iothub/methods/POST//?$rid=1",
		"$iothub/methods/POST/blink/",
	} {
		if _, _, err := ParseMethod(bad); !errors.Is(err, ErrUnexpectedTopic) {
			t.Errorf("ParseMethod(%q) error = %v, want ErrUnexpectedTopic", bad, err)
		}
	}
}

func TestParseDesiredVersion(t *testing.T) {
	v, ok := ParseDesiredVersion("$iothub/twin/PATCH/properties/desired/?$version=5")
	if !ok || v != 5 {
		t.Errorf("ParseDesiredVersion() = %d, %v, want 5, true", v, ok)
	}

	if _, ok := ParseDesiredVersion("$iothub/twin/PATCH/properties/desired/"); ok {
		t.Error("ParseDesiredVersion() without version reported ok")
	}
	if _, ok := ParseDesiredVersion("devices/x/messages/events/"); ok {
		t.Error("ParseDesiredVersion() on unrelated topic reported ok")
	}
}
