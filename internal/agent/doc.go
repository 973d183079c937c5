// Package agent sequences the device lifecycle.
//
// Run executes the phases in order:
//
//	provisioning  register credentials, assign the identity   fatal on error
//	connecting    open the hub session                        fatal on error
//	              start telemetry
//	              fetch the twin                              degraded on error
//	              report {"state": "true"}
//	              bind commands
//	running       until ctx is cancelled or the session drops
//
// In degraded mode only telemetry runs; twin properties and commands
// are not bound. A dropped session ends Run with ErrSessionLost. There
// is no retry or reconnect.
package agent
