// Package authz provides role-based authorization queries over the
// active tenant membership.
//
// All queries are pure functions of a role snapshot: no I/O, no caching,
// recomputed on every call. The snapshot is derived by the session layer
// from the active tenant's membership and the permission cache.
package authz

import "strings"

// Role represents the coarse tenant-scoped role of a membership.
type Role string

const (
	RoleOwner    Role = "owner"    // Full control, can manage members
	RoleAdmin    Role = "admin"    // Can approve, create, update, delete
	RoleOperator Role = "operator" // Day-to-day operations
	RoleViewer   Role = "viewer"   // Read-only access
)

// hierarchy is a total order over roles used for minimum-role checks.
// Roles not present rank below every defined role.
var hierarchy = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
	RoleOwner:    4,
}

// Rank returns the hierarchy rank of a role; undefined roles rank 0.
func (r Role) Rank() int {
	return hierarchy[r]
}

// Defined reports whether the role is part of the hierarchy.
func (r Role) Defined() bool {
	_, ok := hierarchy[r]
	return ok
}

// Snapshot is an immutable view of the caller's authorization state for
// the active tenant.
type Snapshot struct {
	// Role is the coarse tenant role; empty when no tenant is active.
	Role Role

	// WorkflowRoles are the volatile workflow-stage roles.
	WorkflowRoles []string
}

// HasRole returns true if the active role equals any of the given roles.
func (s Snapshot) HasRole(roles ...Role) bool {
	for _, role := range roles {
		if s.Role == role {
			return true
		}
	}
	return false
}

// HasMinimumRole compares the active role's hierarchy rank against the
// minimum. An undefined active role always fails, even against an
// undefined minimum.
func (s Snapshot) HasMinimumRole(minimum Role) bool {
	rank := s.Role.Rank()
	if rank == 0 {
		return false
	}
	return rank >= minimum.Rank()
}

// HasWorkflowRole returns true if the snapshot carries the workflow role.
func (s Snapshot) HasWorkflowRole(role string) bool {
	for _, r := range s.WorkflowRoles {
		if r == role {
			return true
		}
	}
	return false
}

// CanAccessPath returns true when the path has no role requirement, and
// delegates to HasRole otherwise.
func (s Snapshot) CanAccessPath(path string, required ...Role) bool {
	if len(required) == 0 {
		return true
	}
	return s.HasRole(required...)
}

// ParseRole normalizes a role string from the backend.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}
