// Package authz resolves a caller's role from request credentials and gates
// operations against per-route allow-lists.
package authz

// Role is a closed capability tier. Capabilities are checked by membership in
// an allow-list, never by ordinal comparison.
type Role string

const (
	// RoleVisitor may only read the public catalog.
	RoleVisitor Role = "visitor"
	// RoleMember may additionally request loans and view their own loans.
	RoleMember Role = "member"
	// RoleStaf manages loan decisions/returns and submits catalog candidates.
	RoleStaf Role = "staf"
	// RoleAdmin has full access, including direct catalog writes and
	// pending-entry approval.
	RoleAdmin Role = "admin"
)

// ParseRole maps a role claim to a known Role. Unrecognized strings degrade
// to the lowest-privilege tier instead of failing, so a stale or tampered
// role claim can never widen access.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleMember, RoleStaf, RoleAdmin:
		return Role(s)
	default:
		return RoleVisitor
	}
}

// Identity is the resolved caller: a user ID (0 when anonymous) plus role.
type Identity struct {
	UserID  int64
	Role    Role
	TokenID string
}

// Anonymous reports whether the identity belongs to no authenticated user.
func (i Identity) Anonymous() bool {
	return i.UserID == 0
}

// Visitor returns the identity assigned to unauthenticated callers.
func Visitor() Identity {
	return Identity{Role: RoleVisitor}
}
