package provisioning

import (
	"errors"
	"fmt"
)

var (
	// ErrProvisioningFailed is the root of every Register failure. It is
	// fatal to the agent.
	ErrProvisioningFailed = errors.New("provisioning: registration failed")

	// ErrTimeout is returned when the exchange does not finish in time.
	ErrTimeout = errors.New("provisioning: timed out")
)

// Error is a rejection reported by the provisioning service, either as
// a status code >= 300 or as a failed or disabled registration.
type Error struct {
	Status             int
	RegistrationStatus string
	Message            string
}

func (e *Error) Error() string {
	switch {
	case e.RegistrationStatus != "" && e.Message != "":
		return fmt.Sprintf("provisioning: registration %s: %s", e.RegistrationStatus, e.Message)
	case e.RegistrationStatus != "":
		return fmt.Sprintf("provisioning: registration %s", e.RegistrationStatus)
	case e.Message != "":
		return fmt.Sprintf("provisioning: status %d: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("provisioning: status %d", e.Status)
	}
}

// Unwrap lets errors.Is match ErrProvisioningFailed.
func (e *Error) Unwrap() error {
	return ErrProvisioningFailed
}
