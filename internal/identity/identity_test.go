package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

const testKey = "c2VjcmV0LWtleS1mb3ItdGVzdHM="

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"valid", Credentials{RegistrationID: "sensor-01", SymmetricKey: testKey}, false},
		{"missing registration id", Credentials{SymmetricKey: testKey}, true},
		{"missing key", Credentials{RegistrationID: "sensor-01"}, true},
		{"whitespace only", Credentials{RegistrationID: "  ", SymmetricKey: " "}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("Validate() error = %v, want ErrMissingCredentials", err)
			}
		})
	}
}

func TestDeviceAssignOnce(t *testing.T) {
	d := New(Credentials{RegistrationID: "sensor-01", SymmetricKey: testKey})

	if _, ok := d.Assignment(); ok {
		t.Fatal("new device reports an assignment")
	}
	if _, err := d.ConnectionString(); !errors.Is(err, ErrNotAssigned) {
		t.Errorf("ConnectionString() before Assign error = %v, want ErrNotAssigned", err)
	}

	if err := d.Assign(Assignment{Hub: "hub.example.net"}); !errors.Is(err, ErrInvalidAssignment) {
		t.Errorf("Assign(hub only) error = %v, want ErrInvalidAssignment", err)
	}
	if _, ok := d.Assignment(); ok {
		t.Fatal("half assignment was recorded")
	}

	if err := d.Assign(Assignment{Hub: "hub.example.net", DeviceID: "sensor-01"}); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := d.Assign(Assignment{Hub: "other.example.net", DeviceID: "x"}); !errors.Is(err, ErrAlreadyAssigned) {
		t.Errorf("second Assign() error = %v, want ErrAlreadyAssigned", err)
	}

	a, ok := d.Assignment()
	if !ok || a.Hub != "hub.example.net" || a.DeviceID != "sensor-01" {
		t.Errorf("Assignment() = %+v, %v", a, ok)
	}

	got, err := d.ConnectionString()
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	want := "HostName=hub.example.net;DeviceId=sensor-01;SharedAccessKey=" + testKey
	if got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}

func TestParseConnectionString(t *testing.T) {
	cs, err := ParseConnectionString("DeviceId=dev;SharedAccessKey=" + testKey + ";HostName=hub.example.net")
	if err != nil {
		t.Fatalf("ParseConnectionString() error = %v", err)
	}
	if cs.HostName != "hub.example.net" || cs.DeviceID != "dev" || cs.SharedAccessKey != testKey {
		t.Errorf("ParseConnectionString() = %+v", cs)
	}

	round, err := ParseConnectionString(cs.String())
	if err != nil || round != cs {
		t.Errorf("round trip = %+v, %v", round, err)
	}
}

func TestParseConnectionStringErrors(t *testing.T) {
	inputs := []string{
		"",
		"HostName=hub;DeviceId=dev",
		"HostName=hub;garbage;DeviceId=dev;SharedAccessKey=k",
		"HostName=;DeviceId=dev;SharedAccessKey=k",
	}
	for _, in := range inputs {
		if _, err := ParseConnectionString(in); !errors.Is(err, ErrInvalidConnectionString) {
			t.Errorf("ParseConnectionString(%q) error = %v, want ErrInvalidConnectionString", in, err)
		}
	}
}

func TestSASToken(t *testing.T) {
	expiry := time.Unix(1767225600, 0)
	resource := "scope/registrations/sensor-01"

	token, err := SASToken(resource, testKey, "registration", expiry)
	if err != nil {
		t.Fatalf("SASToken() error = %v", err)
	}

	const prefix = "SharedAccessSignature "
	if !strings.HasPrefix(token, prefix) {
		t.Fatalf("token %q missing prefix", token)
	}
	q, err := url.ParseQuery(strings.TrimPrefix(token, prefix))
	if err != nil {
		t.Fatalf("token query not parseable: %v", err)
	}

	if q.Get("sr") != resource {
		t.Errorf("sr = %q, want %q", q.Get("sr"), resource)
	}
	if q.Get("se") != "1767225600" {
		t.Errorf("se = %q, want 1767225600", q.Get("se"))
	}
	if q.Get("skn") != "registration" {
		t.Errorf("skn = %q, want registration", q.Get("skn"))
	}

	raw, _ := base64.StdEncoding.DecodeString(testKey)
	mac := hmac.New(sha256.New, raw)
	mac.Write([]byte(url.QueryEscape(resource) + "\n1767225600"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if q.Get("sig") != want {
		t.Errorf("sig = %q, want %q", q.Get("sig"), want)
	}
}

func TestSASTokenWithoutKeyName(t *testing.T) {
	token, err := SASToken("hub/devices/dev", testKey, "", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("SASToken() error = %v", err)
	}
	if strings.Contains(token, "skn=") {
		t.Errorf("token %q has skn without a key name", token)
	}
}

func TestSASTokenInvalidKey(t *testing.T) {
	_, err := SASToken("r", "not base64!", "", time.Now())
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("SASToken() error = %v, want ErrInvalidKey", err)
	}
}
