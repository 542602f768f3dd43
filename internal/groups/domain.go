package groups

import "time"

// GroupType classifies how a group came to exist.
type GroupType string

const (
	// TypeAuto marks groups provisioned alongside a workspace or project.
	TypeAuto GroupType = "auto"
	// TypeSecurity marks ad hoc groups created by administrators.
	TypeSecurity GroupType = "security"
)

// Group is a named collection of users grants are issued to.
type Group struct {
	ID          int64
	Name        string
	Type        GroupType
	WorkspaceID *int64
	ProjectID   *int64
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Member links a user to a group, optionally until an expiry instant.
type Member struct {
	GroupID   int64
	UserID    int64
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Membership is the resolver-facing view of one active group membership.
type Membership struct {
	GroupID   int64
	GroupName string
}
