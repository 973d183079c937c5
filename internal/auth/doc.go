// Package auth issues and checks the bearer tokens that protect the
// agent's local API.
//
// Tokens are HS256 JWTs carrying a subject and a Role. The agent keeps no
// user database: an operator mints a token with `deviceagent --issue-token`
// using the configured secret, and the API accepts any unexpired token
// signed with that secret whose role grants the route's permission.
package auth
