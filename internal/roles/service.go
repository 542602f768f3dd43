package roles

import (
	"context"
	"fmt"

	"github.com/kanbu-pm/kanbu/internal/shared"
)

// RepositoryPort defines data access methods for role assignments.
type RepositoryPort interface {
	AssignmentsForGroups(ctx context.Context, groupIDs []int64, workspaceID, projectID *int64) ([]Assignment, error)
	Assign(ctx context.Context, a Assignment) (Assignment, error)
	Unassign(ctx context.Context, groupID int64, workspaceID, projectID *int64) error
}

// MembershipProvider resolves the user's direct group ids.
type MembershipProvider interface {
	GroupIDsFor(ctx context.Context, userID int64) ([]int64, error)
}

// Service answers group-derived role questions for callers layering
// workspace/project role semantics on top of the grant resolvers.
type Service struct {
	repo        RepositoryPort
	memberships MembershipProvider
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, memberships MembershipProvider) *Service {
	return &Service{repo: repo, memberships: memberships}
}

// HasAtLeastRole reports whether any of the user's groups holds a role at or
// above min on the given workspace/project scope.
func (s *Service) HasAtLeastRole(ctx context.Context, userID int64, workspaceID, projectID *int64, min Role) (bool, error) {
	if !min.Valid() {
		return false, fmt.Errorf("roles: unknown role %q: %w", min, shared.ErrInvalidInput)
	}
	groupIDs, err := s.memberships.GroupIDsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(groupIDs) == 0 {
		return false, nil
	}
	assignments, err := s.repo.AssignmentsForGroups(ctx, groupIDs, workspaceID, projectID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if a.Role.AtLeast(min) {
			return true, nil
		}
	}
	return false, nil
}

// IsWorkspaceAdmin reports whether the user is admin or better on a workspace.
func (s *Service) IsWorkspaceAdmin(ctx context.Context, userID, workspaceID int64) (bool, error) {
	return s.HasAtLeastRole(ctx, userID, &workspaceID, nil, RoleAdmin)
}

// IsProjectAdmin reports whether the user is admin or better on a project.
func (s *Service) IsProjectAdmin(ctx context.Context, userID, projectID int64) (bool, error) {
	return s.HasAtLeastRole(ctx, userID, nil, &projectID, RoleAdmin)
}

// AssignRole gives a group a role on a workspace/project scope.
func (s *Service) AssignRole(ctx context.Context, groupID int64, role Role, workspaceID, projectID *int64) (Assignment, error) {
	if !role.Valid() {
		return Assignment{}, fmt.Errorf("roles: unknown role %q: %w", role, shared.ErrInvalidInput)
	}
	return s.repo.Assign(ctx, Assignment{GroupID: groupID, Role: role, WorkspaceID: workspaceID, ProjectID: projectID})
}

// UnassignRole removes a group's role on a scope. Unassigning a role that was
// never assigned is a no-op.
func (s *Service) UnassignRole(ctx context.Context, groupID int64, workspaceID, projectID *int64) error {
	return s.repo.Unassign(ctx, groupID, workspaceID, projectID)
}
