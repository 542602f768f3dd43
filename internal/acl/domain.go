package acl

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kanbu-pm/kanbu/internal/hierarchy"
)

// Permission is a bitmask of resource capabilities. The numeric values are a
// storage contract: persisted grant rows encode them, so they must never be
// renumbered.
type Permission uint32

const (
	PermRead              Permission = 1
	PermWrite             Permission = 2
	PermExecute           Permission = 4
	PermDelete            Permission = 8
	PermManagePermissions Permission = 16

	// PermAll is every defined bit, used for owner-style grants.
	PermAll = PermRead | PermWrite | PermExecute | PermDelete | PermManagePermissions
)

// Has reports whether every bit of required is set.
func (p Permission) Has(required Permission) bool {
	return p&required == required
}

// String renders the set bits as a comma-separated list.
func (p Permission) String() string {
	if p == 0 {
		return "none"
	}
	names := make([]string, 0, 5)
	for _, f := range []struct {
		bit  Permission
		name string
	}{
		{PermRead, "read"},
		{PermWrite, "write"},
		{PermExecute, "execute"},
		{PermDelete, "delete"},
		{PermManagePermissions, "manage_permissions"},
	} {
		if p&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

// PrincipalType distinguishes user-held from group-held entries.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

// Entry is one grant or deny record scoping a permission bitmask to one
// principal on one resource node. A nil ResourceID addresses the type-wide
// node used for type-level inheritance.
type Entry struct {
	ID                uuid.UUID
	ResourceType      hierarchy.ResourceType
	ResourceID        *int64
	PrincipalType     PrincipalType
	PrincipalID       int64
	Permissions       Permission
	Deny              bool
	Inherited         bool
	InheritToChildren bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CheckResult reports the outcome of a permission check. Effective always
// equals the OR of allow entries with denied bits stripped; Allowed is
// informational (any effective bit at all).
type CheckResult struct {
	Allowed   bool
	Effective Permission
	Denied    Permission
	Matched   []Entry
}
