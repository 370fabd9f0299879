package domain

import "github.com/google/uuid"

// Role is the position of a principal in the three-tier hierarchy managed by
// the external auth service. The core only consumes it for tenant scoping.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
)

// Valid reports whether the role is one of the three known tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleOperator:
		return true
	}
	return false
}

// Principal is the authenticated identity handed to the core by the auth
// collaborator. The core trusts it; it never re-authenticates.
//
// For operators, ParentID is the owning admin and therefore the tenant
// boundary. For admins, ParentID is the super admin and the principal's own
// ID is the tenant boundary.
type Principal struct {
	ID       uuid.UUID
	Role     Role
	ParentID uuid.UUID
}

// TenantID resolves the tenant boundary the principal belongs to.
// Super admins have no tenant boundary and get the nil ID.
func (p Principal) TenantID() TenantID {
	switch p.Role {
	case RoleAdmin:
		return TenantID(p.ID)
	case RoleOperator:
		return TenantID(p.ParentID)
	}
	return TenantID(uuid.Nil)
}
