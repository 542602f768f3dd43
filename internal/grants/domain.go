package grants

import (
	"time"

	"github.com/google/uuid"
)

// AccessType is the polarity of a named-permission grant.
type AccessType string

const (
	AccessAllow AccessType = "ALLOW"
	AccessDeny  AccessType = "DENY"
)

// Valid reports whether a is a known access type.
func (a AccessType) Valid() bool {
	return a == AccessAllow || a == AccessDeny
}

// Reason explains a resolution outcome.
type Reason string

const (
	ReasonAllow      Reason = "ALLOW"
	ReasonDeny       Reason = "DENY"
	ReasonNotGranted Reason = "NOT_GRANTED"
)

// Permission is a catalog entry keyed by dotted name ("tasks.write"). Grants
// reference catalog entries by id; a coarser name covers its dotted children.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// Grant issues a named permission to a group with ALLOW or DENY polarity,
// optionally scoped to a workspace or a project. PermissionName and GroupName
// are joined in by the store for resolution and evidence reporting.
type Grant struct {
	ID             uuid.UUID
	GroupID        int64
	GroupName      string
	PermissionID   int64
	PermissionName string
	AccessType     AccessType
	WorkspaceID    *int64
	ProjectID      *int64
	Inherited      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Effective is the outcome of resolving one permission name for one user.
// GrantedBy names the group whose grant decided the outcome.
type Effective struct {
	Allowed   bool
	Reason    Reason
	GrantedBy string
}
