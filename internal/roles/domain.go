package roles

import "time"

// Role is an ordered workspace/project role. Comparison uses rank, so the
// string values can stay stable in storage.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Assignment gives every member of a group a role on a workspace or project.
type Assignment struct {
	ID          int64
	GroupID     int64
	Role        Role
	WorkspaceID *int64
	ProjectID   *int64
	CreatedAt   time.Time
}
