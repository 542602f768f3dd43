package groups

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kanbu-pm/kanbu/internal/shared"
)

// ErrNotFound indicates that the requested group does not exist. It wraps
// shared.ErrNotFound so transport layers map it to 404.
var ErrNotFound = fmt.Errorf("groups: %w", shared.ErrNotFound)

// RepositoryPort defines data access methods for groups and memberships.
type RepositoryPort interface {
	GetGroup(ctx context.Context, id int64) (Group, error)
	CreateGroup(ctx context.Context, g Group) (Group, error)
	CreateGroupPair(ctx context.Context, first, second Group) (Group, Group, error)
	DeactivateGroup(ctx context.Context, id int64) error
	AddMember(ctx context.Context, m Member) error
	RemoveMember(ctx context.Context, groupID, userID int64) error
	ActiveMembershipsFor(ctx context.Context, userID int64, now time.Time) ([]Membership, error)
	DeleteExpiredMembers(ctx context.Context, now time.Time) (int64, error)
}

// Service handles group lifecycle and membership resolution.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// MembershipsFor resolves the user's memberships in active groups whose
// expiry is unset or in the future. This is the membership view both
// resolvers consume.
func (s *Service) MembershipsFor(ctx context.Context, userID int64) ([]Membership, error) {
	return s.repo.ActiveMembershipsFor(ctx, userID, s.now())
}

// GroupIDsFor returns only the group ids, for callers that do not need names.
func (s *Service) GroupIDsFor(ctx context.Context, userID int64) ([]int64, error) {
	memberships, err := s.repo.ActiveMembershipsFor(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(memberships))
	for i, m := range memberships {
		ids[i] = m.GroupID
	}
	return ids, nil
}

// CreateSecurityGroup creates an ad hoc group unbound to any workspace or project.
func (s *Service) CreateSecurityGroup(ctx context.Context, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, fmt.Errorf("groups: name required: %w", shared.ErrInvalidInput)
	}
	return s.repo.CreateGroup(ctx, Group{Name: name, Type: TypeSecurity, IsActive: true})
}

// ProvisionWorkspaceGroups creates the member and admin auto-groups for a new
// workspace in one transaction. Names follow the workspace-<id>-members /
// -admins convention.
func (s *Service) ProvisionWorkspaceGroups(ctx context.Context, workspaceID int64) (members Group, admins Group, err error) {
	return s.repo.CreateGroupPair(ctx,
		Group{
			Name:        fmt.Sprintf("workspace-%d-members", workspaceID),
			Type:        TypeAuto,
			WorkspaceID: &workspaceID,
			IsActive:    true,
		},
		Group{
			Name:        fmt.Sprintf("workspace-%d-admins", workspaceID),
			Type:        TypeAuto,
			WorkspaceID: &workspaceID,
			IsActive:    true,
		})
}

// ProvisionProjectGroups creates the member and admin auto-groups for a new
// project in one transaction.
func (s *Service) ProvisionProjectGroups(ctx context.Context, workspaceID, projectID int64) (members Group, admins Group, err error) {
	return s.repo.CreateGroupPair(ctx,
		Group{
			Name:        fmt.Sprintf("project-%d-members", projectID),
			Type:        TypeAuto,
			WorkspaceID: &workspaceID,
			ProjectID:   &projectID,
			IsActive:    true,
		},
		Group{
			Name:        fmt.Sprintf("project-%d-admins", projectID),
			Type:        TypeAuto,
			WorkspaceID: &workspaceID,
			ProjectID:   &projectID,
			IsActive:    true,
		})
}

// AddMember adds a user to a group, optionally until expiresAt.
func (s *Service) AddMember(ctx context.Context, groupID, userID int64, expiresAt *time.Time) error {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return err
	}
	return s.repo.AddMember(ctx, Member{GroupID: groupID, UserID: userID, ExpiresAt: expiresAt})
}

// RemoveMember removes a user from a group. Removing a non-member is a no-op.
func (s *Service) RemoveMember(ctx context.Context, groupID, userID int64) error {
	return s.repo.RemoveMember(ctx, groupID, userID)
}

// DeactivateGroup soft-disables a group; its grants stay in place but stop
// matching because membership resolution filters on isActive.
func (s *Service) DeactivateGroup(ctx context.Context, id int64) error {
	return s.repo.DeactivateGroup(ctx, id)
}

// SweepExpiredMembers removes membership rows whose expiry has passed and
// returns the number of rows deleted. Invoked by the background worker.
func (s *Service) SweepExpiredMembers(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredMembers(ctx, s.now())
}
