package identity

import (
	"fmt"
	"strings"
	"sync"
)

// Credentials are the registration secrets a device is configured with.
type Credentials struct {
	RegistrationID string
	SymmetricKey   string
}

// Validate checks that both fields are set.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.RegistrationID) == "" {
		missing = append(missing, "registration id")
	}
	if strings.TrimSpace(c.SymmetricKey) == "" {
		missing = append(missing, "symmetric key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Assignment is the routing identity handed out by provisioning.
type Assignment struct {
	Hub      string `json:"assignedHub"`
	DeviceID string `json:"deviceId"`
}

// Validate checks that hub and device id are both present.
func (a Assignment) Validate() error {
	if a.Hub == "" || a.DeviceID == "" {
		return fmt.Errorf("%w: hub=%q device=%q", ErrInvalidAssignment, a.Hub, a.DeviceID)
	}
	return nil
}

// Device holds a device's credentials and, once provisioned, its
// routing identity. The assignment is written exactly once.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Device struct {
	creds Credentials

	mu         sync.RWMutex
	assignment *Assignment
}

// New creates an unassigned Device.
func New(creds Credentials) *Device {
	return &Device{creds: creds}
}

// Credentials returns the registration credentials.
func (d *Device) Credentials() Credentials {
	return d.creds
}

// RegistrationID returns the configured registration id.
func (d *Device) RegistrationID() string {
	return d.creds.RegistrationID
}

// Assign records the routing identity returned by provisioning.
//
// Returns:
//   - ErrInvalidAssignment if hub or device id is empty
//   - ErrAlreadyAssigned on any call after the first successful one
func (d *Device) Assign(a Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.assignment != nil {
		return ErrAlreadyAssigned
	}
	d.assignment = &a
	return nil
}

// Assignment returns the routing identity and whether one is set.
func (d *Device) Assignment() (Assignment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.assignment == nil {
		return Assignment{}, false
	}
	return *d.assignment, true
}

// ConnectionString returns the session descriptor for an assigned
// device.
func (d *Device) ConnectionString() (string, error) {
	a, ok := d.Assignment()
	if !ok {
		return "", ErrNotAssigned
	}
	return ConnectionString{
		HostName:        a.Hub,
		DeviceID:        a.DeviceID,
		SharedAccessKey: d.creds.SymmetricKey,
	}.String(), nil
}
