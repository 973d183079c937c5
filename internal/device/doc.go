// Package device simulates the LED device behind the agent.
//
// The Controller owns the device state: whether the LED is on, the
// last blink interval and the two writable properties, name and
// brightness. It exposes that state to the rest of the agent only as
// command registrations and a writable-property table:
//
//	blink    sync   payload: interval in seconds, must be a positive number
//	turnon   sync   no payload; idempotent
//	turnoff  sync   no payload; idempotent
//
//	name        string, 1..64 chars, applied after 1s
//	brightness  integer, 0..100, applied after 5s
//
// Values are checked against the JSON schemas embedded from schemas/.
// A rejected writable value completes immediately with the current
// value and status "invalid".
package device
