// Package api serves the agent's local HTTP API and WebSocket event stream.
//
// Routes:
//
//	GET  /api/v1/health          liveness plus store health checks
//	GET  /api/v1/status          agent phase, identity, twin and device state
//	GET  /api/v1/commands        command log page (name, outcome, limit, offset)
//	POST /api/v1/auth/ws-ticket  single-use ticket for the event stream
//	GET  /api/v1/ws?ticket=...   live events: telemetry, twin.desired, twin.reported, command
//
// When a JWT secret is configured every route except health requires a
// bearer token (see package auth). Without a secret the API is open and
// should only listen on loopback.
//
// The Hub is an agent.Events: hand it to the agent and every sample,
// twin change and handled command is pushed to subscribed clients.
package api
