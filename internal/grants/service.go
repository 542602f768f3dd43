package grants

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kanbu-pm/kanbu/internal/groups"
	"github.com/kanbu-pm/kanbu/internal/shared"
)

// ErrPermissionUnknown indicates the permission name has no catalog entry.
// It wraps shared.ErrNotFound so transport layers map it to 404.
var ErrPermissionUnknown = fmt.Errorf("grants: permission not in catalog: %w", shared.ErrNotFound)

const catalogCacheSize = 256

// Store is the grant-store collaborator for named grants and the permission
// catalog.
type Store interface {
	// GrantsForGroups returns grants held by any of the groups whose scope is
	// global, matches the workspace (with no project), or matches the project.
	GrantsForGroups(ctx context.Context, groupIDs []int64, workspaceID, projectID *int64) ([]Grant, error)
	// GrantsForGroup returns every grant held by one group.
	GrantsForGroup(ctx context.Context, groupID int64) ([]Grant, error)
	// Upsert writes a grant by its identity (group, permission, workspace,
	// project), overwriting the access type of an existing row.
	Upsert(ctx context.Context, g Grant) (Grant, error)
	// Delete removes the grant matching the identity, returning rows removed.
	Delete(ctx context.Context, groupID, permissionID int64, workspaceID, projectID *int64) (int64, error)

	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	EnsurePermission(ctx context.Context, name, description string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// MembershipProvider resolves active, non-expired memberships with group names.
type MembershipProvider interface {
	MembershipsFor(ctx context.Context, userID int64) ([]groups.Membership, error)
}

// Service resolves and manages named hierarchical permission grants.
type Service struct {
	store       Store
	memberships MembershipProvider
	catalog     *lru.Cache[string, Permission]
}

// NewService constructs a Service. The catalog cache is an in-process
// convenience; every correctness-relevant read falls through to the store on
// miss.
func NewService(store Store, memberships MembershipProvider) *Service {
	cache, _ := lru.New[string, Permission](catalogCacheSize)
	return &Service{store: store, memberships: memberships, catalog: cache}
}

// GetEffectivePermission resolves one permission name for a user within an
// optional workspace/project scope. Global and scoped grants are candidates
// simultaneously; any relevant DENY wins over every ALLOW; no relevant grant
// means NOT_GRANTED.
func (s *Service) GetEffectivePermission(ctx context.Context, userID int64, permissionName string, workspaceID, projectID *int64) (Effective, error) {
	memberships, err := s.memberships.MembershipsFor(ctx, userID)
	if err != nil {
		return Effective{}, fmt.Errorf("grants: resolve memberships for user %d: %w", userID, err)
	}
	if len(memberships) == 0 {
		return Effective{Reason: ReasonNotGranted}, nil
	}

	groupIDs := make([]int64, len(memberships))
	for i, m := range memberships {
		groupIDs[i] = m.GroupID
	}

	candidates, err := s.store.GrantsForGroups(ctx, groupIDs, workspaceID, projectID)
	if err != nil {
		return Effective{}, fmt.Errorf("grants: fetch grants: %w", err)
	}

	relevant := candidates[:0:0]
	for _, g := range candidates {
		if grantCovers(g.PermissionName, permissionName) {
			relevant = append(relevant, g)
		}
	}
	// Deterministic evidence: one deny is enough conceptually, but the grant
	// surfaced should not depend on store iteration order.
	sort.Slice(relevant, func(i, j int) bool {
		if relevant[i].PermissionName != relevant[j].PermissionName {
			return relevant[i].PermissionName < relevant[j].PermissionName
		}
		return relevant[i].GroupName < relevant[j].GroupName
	})

	for _, g := range relevant {
		if g.AccessType == AccessDeny {
			return Effective{Allowed: false, Reason: ReasonDeny, GrantedBy: g.GroupName}, nil
		}
	}
	for _, g := range relevant {
		if g.AccessType == AccessAllow {
			return Effective{Allowed: true, Reason: ReasonAllow, GrantedBy: g.GroupName}, nil
		}
	}
	return Effective{Reason: ReasonNotGranted}, nil
}

// HasPermission reports whether the permission resolves to ALLOW.
func (s *Service) HasPermission(ctx context.Context, userID int64, permissionName string, workspaceID, projectID *int64) (bool, error) {
	eff, err := s.GetEffectivePermission(ctx, userID, permissionName, workspaceID, projectID)
	if err != nil {
		return false, err
	}
	return eff.Allowed, nil
}

// HasAllPermissions folds HasPermission over every name with AND.
func (s *Service) HasAllPermissions(ctx context.Context, userID int64, permissionNames []string, workspaceID, projectID *int64) (bool, error) {
	for _, name := range permissionNames {
		ok, err := s.HasPermission(ctx, userID, name, workspaceID, projectID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// HasAnyPermission folds HasPermission over every name with OR.
func (s *Service) HasAnyPermission(ctx context.Context, userID int64, permissionNames []string, workspaceID, projectID *int64) (bool, error) {
	for _, name := range permissionNames {
		ok, err := s.HasPermission(ctx, userID, name, workspaceID, projectID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// RequirePermission fails closed, with the error text telling an explicit
// deny apart from a missing grant.
func (s *Service) RequirePermission(ctx context.Context, userID int64, permissionName string, workspaceID, projectID *int64) error {
	eff, err := s.GetEffectivePermission(ctx, userID, permissionName, workspaceID, projectID)
	if err != nil {
		return err
	}
	switch eff.Reason {
	case ReasonAllow:
		return nil
	case ReasonDeny:
		return fmt.Errorf("grants: %s explicitly denied for user %d by group %q: %w", permissionName, userID, eff.GrantedBy, shared.ErrForbidden)
	default:
		return fmt.Errorf("grants: %s not granted to user %d: %w", permissionName, userID, shared.ErrForbidden)
	}
}

// GrantParams describes a named-grant mutation.
type GrantParams struct {
	GroupID        int64
	PermissionName string
	AccessType     AccessType
	WorkspaceID    *int64
	ProjectID      *int64
}

// GrantPermission upserts a grant. Unlike the bitmask model, the identity
// carries no allow/deny split: re-granting the same scope with the other
// access type overwrites the row.
func (s *Service) GrantPermission(ctx context.Context, params GrantParams) (Grant, error) {
	if !params.AccessType.Valid() {
		return Grant{}, fmt.Errorf("grants: unknown access type %q: %w", params.AccessType, shared.ErrInvalidInput)
	}
	perm, err := s.permissionByName(ctx, params.PermissionName)
	if err != nil {
		return Grant{}, err
	}
	return s.store.Upsert(ctx, Grant{
		GroupID:        params.GroupID,
		PermissionID:   perm.ID,
		PermissionName: perm.Name,
		AccessType:     params.AccessType,
		WorkspaceID:    params.WorkspaceID,
		ProjectID:      params.ProjectID,
	})
}

// RevokePermission deletes the grant matching the identity. Revoking a grant
// that does not exist, or naming a permission absent from the catalog, is a
// no-op.
func (s *Service) RevokePermission(ctx context.Context, groupID int64, permissionName string, workspaceID, projectID *int64) error {
	perm, err := s.permissionByName(ctx, permissionName)
	if err != nil {
		if errors.Is(err, ErrPermissionUnknown) {
			return nil
		}
		return err
	}
	_, err = s.store.Delete(ctx, groupID, perm.ID, workspaceID, projectID)
	return err
}

// PermissionSpec is one desired grant in a SetGroupPermissions call.
type PermissionSpec struct {
	PermissionName string
	AccessType     AccessType
	WorkspaceID    *int64
	ProjectID      *int64
}

// SetGroupPermissions replaces the group's grant set with the given specs:
// missing grants are attached, surplus grants detached, polarity changes
// applied through the usual upsert.
func (s *Service) SetGroupPermissions(ctx context.Context, groupID int64, specs []PermissionSpec) error {
	existing, err := s.store.GrantsForGroup(ctx, groupID)
	if err != nil {
		return err
	}
	existingByKey := make(map[string]Grant, len(existing))
	for _, g := range existing {
		existingByKey[scopeKey(g.PermissionID, g.WorkspaceID, g.ProjectID)] = g
	}

	keep := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		perm, err := s.permissionByName(ctx, spec.PermissionName)
		if err != nil {
			return err
		}
		key := scopeKey(perm.ID, spec.WorkspaceID, spec.ProjectID)
		keep[key] = struct{}{}
		current, ok := existingByKey[key]
		if ok && current.AccessType == spec.AccessType {
			continue
		}
		if _, err := s.store.Upsert(ctx, Grant{
			GroupID:        groupID,
			PermissionID:   perm.ID,
			PermissionName: perm.Name,
			AccessType:     spec.AccessType,
			WorkspaceID:    spec.WorkspaceID,
			ProjectID:      spec.ProjectID,
		}); err != nil {
			return err
		}
	}

	for key, g := range existingByKey {
		if _, ok := keep[key]; ok {
			continue
		}
		if _, err := s.store.Delete(ctx, groupID, g.PermissionID, g.WorkspaceID, g.ProjectID); err != nil {
			return err
		}
	}
	return nil
}

// GrantsForGroup lists a group's grants.
func (s *Service) GrantsForGroup(ctx context.Context, groupID int64) ([]Grant, error) {
	return s.store.GrantsForGroup(ctx, groupID)
}

// EnsurePermission upserts a catalog entry.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("grants: permission name required: %w", shared.ErrInvalidInput)
	}
	perm, err := s.store.EnsurePermission(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return Permission{}, err
	}
	s.catalog.Add(perm.Name, perm)
	return perm, nil
}

// ListPermissions returns the catalog ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *Service) permissionByName(ctx context.Context, name string) (Permission, error) {
	name = strings.TrimSpace(name)
	if perm, ok := s.catalog.Get(name); ok {
		return perm, nil
	}
	perm, err := s.store.GetPermissionByName(ctx, name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Permission{}, fmt.Errorf("%w: %s", ErrPermissionUnknown, name)
		}
		return Permission{}, err
	}
	s.catalog.Add(perm.Name, perm)
	return perm, nil
}

// grantCovers reports whether a grant named grantName is relevant to a query
// for permissionName: exact match, or the query is a dotted child of the
// grant ("tasks" covers "tasks.write").
func grantCovers(grantName, permissionName string) bool {
	if grantName == permissionName {
		return true
	}
	return strings.HasPrefix(permissionName, grantName+".")
}

func scopeKey(permissionID int64, workspaceID, projectID *int64) string {
	key := fmt.Sprintf("%d", permissionID)
	if workspaceID != nil {
		key += fmt.Sprintf("|w%d", *workspaceID)
	}
	if projectID != nil {
		key += fmt.Sprintf("|p%d", *projectID)
	}
	return key
}
