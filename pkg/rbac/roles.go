package rbac

import (
	"fmt"
	"strings"
)

// Role is a board permission level
type Role string

const (
	RoleViewer Role = "VIEWER"
	RoleEditor Role = "EDITOR"
	RoleOwner  Role = "OWNER"
)

var roleLevels = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleOwner:  3,
}

// Level returns the role's rank, 0 for unknown roles
func (r Role) Level() int {
	return roleLevels[r]
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r.Level() > 0
}

// Assignable reports whether r may be granted through a membership row.
// OWNER comes only from board ownership.
func (r Role) Assignable() bool {
	return r == RoleViewer || r == RoleEditor
}

// HasRoleOrAbove reports whether actual satisfies required. Unknown values
// on either side yield false.
func HasRoleOrAbove(actual, required Role) bool {
	a, r := actual.Level(), required.Level()
	if a == 0 || r == 0 {
		return false
	}
	return a >= r
}

// ParseRole parses a role name case-insensitively
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}
