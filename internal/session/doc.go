// Package session opens and supervises the device's live hub connection.
//
// A Manager turns a session descriptor into a Session. The Session is
// the only holder of the transport; the rest of the agent uses the
// capabilities it exposes:
//
//   - PublishTelemetry: device-to-cloud messages
//   - FetchTwin / PatchReported: twin GET and reported PATCH, correlated by $rid
//   - OnDesiredChange: desired-property pushes
//   - OnCommand / Respond: direct method invocations and their answers
//
// Every call returns its own error; nothing is retried here. When the
// connection drops, Done is closed and Err wraps ErrSessionLost. The
// session is never re-established.
package session
