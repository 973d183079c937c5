package auth

import (
	"fmt"
	"slices"
)

// Role is an authorisation tier.
type Role string

const (
	// RoleViewer may read status and follow the live event stream.
	RoleViewer Role = "viewer"

	// RoleOperator may also read the command log.
	RoleOperator Role = "operator"
)

// Permission names one guarded API capability.
type Permission string

const (
	PermStatusRead     Permission = "status:read"
	PermEventsStream   Permission = "events:stream"
	PermCommandLogRead Permission = "commands:read"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermStatusRead, PermEventsStream},
	RoleOperator: {PermStatusRead, PermEventsStream, PermCommandLogRead},
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// HasPermission reports whether the role grants p.
func (r Role) HasPermission(p Permission) bool {
	return slices.Contains(rolePermissions[r], p)
}
