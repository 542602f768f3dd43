package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	assignments []Assignment
	nextID      int64
}

func idEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *mockRepo) AssignmentsForGroups(ctx context.Context, groupIDs []int64, workspaceID, projectID *int64) ([]Assignment, error) {
	inGroups := make(map[int64]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		inGroups[id] = struct{}{}
	}
	var out []Assignment
	for _, a := range m.assignments {
		if _, ok := inGroups[a.GroupID]; !ok {
			continue
		}
		if idEqual(a.WorkspaceID, workspaceID) && idEqual(a.ProjectID, projectID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) Assign(ctx context.Context, a Assignment) (Assignment, error) {
	for i, existing := range m.assignments {
		if existing.GroupID == a.GroupID && idEqual(existing.WorkspaceID, a.WorkspaceID) && idEqual(existing.ProjectID, a.ProjectID) {
			m.assignments[i].Role = a.Role
			return m.assignments[i], nil
		}
	}
	m.nextID++
	a.ID = m.nextID
	m.assignments = append(m.assignments, a)
	return a, nil
}

func (m *mockRepo) Unassign(ctx context.Context, groupID int64, workspaceID, projectID *int64) error {
	kept := m.assignments[:0]
	for _, a := range m.assignments {
		if a.GroupID == groupID && idEqual(a.WorkspaceID, workspaceID) && idEqual(a.ProjectID, projectID) {
			continue
		}
		kept = append(kept, a)
	}
	m.assignments = kept
	return nil
}

type stubMemberships struct {
	byUser map[int64][]int64
}

func (s *stubMemberships) GroupIDsFor(ctx context.Context, userID int64) ([]int64, error) {
	return s.byUser[userID], nil
}

func id(v int64) *int64 { return &v }

func TestHasAtLeastRoleOrdering(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, &stubMemberships{byUser: map[int64][]int64{1: {100}}})
	ctx := context.Background()

	_, err := svc.AssignRole(ctx, 100, RoleMember, id(5), nil)
	require.NoError(t, err)

	ok, err := svc.HasAtLeastRole(ctx, 1, id(5), nil, RoleViewer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasAtLeastRole(ctx, 1, id(5), nil, RoleAdmin)
	require.NoError(t, err)
	assert.False(t, ok)

	admin, err := svc.IsWorkspaceAdmin(ctx, 1, 5)
	require.NoError(t, err)
	assert.False(t, admin)

	_, err = svc.AssignRole(ctx, 100, RoleOwner, id(5), nil)
	require.NoError(t, err)

	admin, err = svc.IsWorkspaceAdmin(ctx, 1, 5)
	require.NoError(t, err)
	assert.True(t, admin)
}

func TestRoleScopeIsExact(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, &stubMemberships{byUser: map[int64][]int64{1: {100}}})
	ctx := context.Background()

	_, err := svc.AssignRole(ctx, 100, RoleAdmin, nil, id(42))
	require.NoError(t, err)

	admin, err := svc.IsProjectAdmin(ctx, 1, 42)
	require.NoError(t, err)
	assert.True(t, admin)

	admin, err = svc.IsProjectAdmin(ctx, 1, 43)
	require.NoError(t, err)
	assert.False(t, admin)

	admin, err = svc.IsWorkspaceAdmin(ctx, 1, 42)
	require.NoError(t, err)
	assert.False(t, admin)
}

func TestUnassignIsIdempotent(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, &stubMemberships{byUser: map[int64][]int64{1: {100}}})
	ctx := context.Background()

	require.NoError(t, svc.UnassignRole(ctx, 100, id(5), nil))

	_, err := svc.AssignRole(ctx, 100, RoleAdmin, id(5), nil)
	require.NoError(t, err)
	require.NoError(t, svc.UnassignRole(ctx, 100, id(5), nil))

	admin, err := svc.IsWorkspaceAdmin(ctx, 1, 5)
	require.NoError(t, err)
	assert.False(t, admin)
}

func TestInvalidRoleRejected(t *testing.T) {
	svc := NewService(&mockRepo{}, &stubMemberships{})

	_, err := svc.AssignRole(context.Background(), 100, Role("emperor"), nil, nil)
	assert.Error(t, err)

	_, err2 := svc.HasAtLeastRole(context.Background(), 1, nil, nil, Role("emperor"))
	assert.Error(t, err2)
}
