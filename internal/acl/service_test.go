package acl

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanbu-pm/kanbu/internal/hierarchy"
)

type memoryStore struct {
	entries []Entry
}

func identityMatches(e Entry, resourceType hierarchy.ResourceType, resourceID *int64, principalType PrincipalType, principalID int64) bool {
	return e.ResourceType == resourceType &&
		idEqual(e.ResourceID, resourceID) &&
		e.PrincipalType == principalType &&
		e.PrincipalID == principalID
}

func idEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *memoryStore) EntriesForPrincipals(ctx context.Context, nodes []hierarchy.Node, userID int64, groupIDs []int64) ([]Entry, error) {
	groupSet := make(map[int64]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		groupSet[id] = struct{}{}
	}
	var out []Entry
	for _, e := range m.entries {
		nodeMatch := false
		for _, n := range nodes {
			if e.ResourceType == n.Type && idEqual(e.ResourceID, n.ID) {
				nodeMatch = true
				break
			}
		}
		if !nodeMatch {
			continue
		}
		switch e.PrincipalType {
		case PrincipalUser:
			if e.PrincipalID == userID {
				out = append(out, e)
			}
		case PrincipalGroup:
			if _, ok := groupSet[e.PrincipalID]; ok {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (m *memoryStore) EntriesAt(ctx context.Context, resourceType hierarchy.ResourceType, resourceID *int64) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.ResourceType == resourceType && idEqual(e.ResourceID, resourceID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryStore) Upsert(ctx context.Context, e Entry) (Entry, error) {
	for i, existing := range m.entries {
		if identityMatches(existing, e.ResourceType, e.ResourceID, e.PrincipalType, e.PrincipalID) && existing.Deny == e.Deny {
			m.entries[i].Permissions = e.Permissions
			m.entries[i].InheritToChildren = e.InheritToChildren
			return m.entries[i], nil
		}
	}
	e.ID = uuid.New()
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memoryStore) DeleteFor(ctx context.Context, resourceType hierarchy.ResourceType, resourceID *int64, principalType PrincipalType, principalID int64) (int64, error) {
	var kept []Entry
	var removed int64
	for _, e := range m.entries {
		if identityMatches(e, resourceType, resourceID, principalType, principalID) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

type stubMemberships struct {
	groups map[int64][]int64
}

func (s *stubMemberships) GroupIDsFor(ctx context.Context, userID int64) ([]int64, error) {
	return s.groups[userID], nil
}

type stubParents struct {
	featureProjects   map[int64]int64
	projectWorkspaces map[int64]int64
}

func (s *stubParents) ProjectForFeature(ctx context.Context, featureID int64) (int64, bool, error) {
	id, ok := s.featureProjects[featureID]
	return id, ok, nil
}

func (s *stubParents) WorkspaceForProject(ctx context.Context, projectID int64) (int64, bool, error) {
	id, ok := s.projectWorkspaces[projectID]
	return id, ok, nil
}

func id(v int64) *int64 { return &v }

func newTestService(memberships map[int64][]int64) (*Service, *memoryStore) {
	store := &memoryStore{}
	builder := hierarchy.NewBuilder(&stubParents{
		featureProjects:   map[int64]int64{7: 42},
		projectWorkspaces: map[int64]int64{42: 5},
	})
	return NewService(store, &stubMemberships{groups: memberships}, builder), store
}

func TestImplicitDenyOnEmptyGrantSet(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	result, err := svc.CheckPermission(ctx, 1, hierarchy.TypeProject, id(42))
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.EqualValues(t, 0, result.Effective)
	assert.EqualValues(t, 0, result.Denied)
	assert.Empty(t, result.Matched)

	ok, err := svc.HasPermission(ctx, 1, hierarchy.TypeProject, id(42), PermRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDenyDominatesAllowAtAnyDistance(t *testing.T) {
	svc, _ := newTestService(map[int64][]int64{1: {100}})
	ctx := context.Background()

	// Allow read+write at the workspace level through a group, deny write
	// directly on the feature for the user.
	_, err := svc.Grant(ctx, GrantParams{
		ResourceType: hierarchy.TypeWorkspace, ResourceID: id(5),
		PrincipalType: PrincipalGroup, PrincipalID: 100,
		Permissions: PermRead | PermWrite,
	})
	require.NoError(t, err)
	_, err = svc.Deny(ctx, GrantParams{
		ResourceType: hierarchy.TypeFeature, ResourceID: id(7),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermWrite,
	})
	require.NoError(t, err)

	result, err := svc.CheckPermission(ctx, 1, hierarchy.TypeFeature, id(7))
	require.NoError(t, err)
	assert.Equal(t, PermRead, result.Effective)
	assert.Equal(t, PermWrite, result.Denied)

	ok, err := svc.HasPermission(ctx, 1, hierarchy.TypeFeature, id(7), PermWrite)
	require.NoError(t, err)
	assert.False(t, ok)

	// A required set containing one denied bit fails even though the other
	// bits are allowed.
	ok, err = svc.HasPermission(ctx, 1, hierarchy.TypeFeature, id(7), PermRead|PermWrite)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.HasPermission(ctx, 1, hierarchy.TypeFeature, id(7), PermRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTypeWideGrantPropagatesThreeHops(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	// workspace(*) grant must reach a feature under a project under any
	// workspace.
	_, err := svc.Grant(ctx, GrantParams{
		ResourceType:  hierarchy.TypeWorkspace,
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermRead,
	})
	require.NoError(t, err)

	for _, tc := range []struct {
		resourceType hierarchy.ResourceType
		resourceID   *int64
	}{
		{hierarchy.TypeWorkspace, id(5)},
		{hierarchy.TypeProject, id(42)},
		{hierarchy.TypeFeature, id(7)},
	} {
		ok, err := svc.HasPermission(ctx, 1, tc.resourceType, tc.resourceID, PermRead)
		require.NoError(t, err)
		assert.True(t, ok, "read should propagate to %s", tc.resourceType)
	}
}

func TestAllowEntriesAcrossLevelsCombine(t *testing.T) {
	svc, _ := newTestService(map[int64][]int64{1: {100}})
	ctx := context.Background()

	_, err := svc.Grant(ctx, GrantParams{
		ResourceType: hierarchy.TypeProject, ResourceID: id(42),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermRead,
	})
	require.NoError(t, err)
	_, err = svc.Grant(ctx, GrantParams{
		ResourceType: hierarchy.TypeWorkspace, ResourceID: id(5),
		PrincipalType: PrincipalGroup, PrincipalID: 100,
		Permissions: PermWrite,
	})
	require.NoError(t, err)

	result, err := svc.CheckPermission(ctx, 1, hierarchy.TypeProject, id(42))
	require.NoError(t, err)
	assert.Equal(t, PermRead|PermWrite, result.Effective)
}

func TestUpsertIdentityKeepsSingleRow(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	params := GrantParams{
		ResourceType: hierarchy.TypeProject, ResourceID: id(42),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermRead,
	}
	first, err := svc.Grant(ctx, params)
	require.NoError(t, err)

	params.Permissions = PermRead | PermWrite
	second, err := svc.Grant(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, PermRead|PermWrite, second.Permissions)

	entries, err := svc.Entries(ctx, hierarchy.TypeProject, id(42))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAllowAndDenyRowsCoexist(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Grant(ctx, GrantParams{
		ResourceType: hierarchy.TypeProject, ResourceID: id(42),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermRead | PermWrite,
	})
	require.NoError(t, err)
	_, err = svc.Deny(ctx, GrantParams{
		ResourceType: hierarchy.TypeProject, ResourceID: id(42),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermWrite,
	})
	require.NoError(t, err)

	entries, err := svc.Entries(ctx, hierarchy.TypeProject, id(42))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	result, err := svc.CheckPermission(ctx, 1, hierarchy.TypeProject, id(42))
	require.NoError(t, err)
	assert.Equal(t, PermRead, result.Effective)
}

func TestRevokeRemovesAllowAndDeny(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	params := GrantParams{
		ResourceType: hierarchy.TypeProject, ResourceID: id(42),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermRead,
	}
	_, err := svc.Grant(ctx, params)
	require.NoError(t, err)
	_, err = svc.Deny(ctx, params)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, hierarchy.TypeProject, id(42), PrincipalUser, 1))

	entries, err := svc.Entries(ctx, hierarchy.TypeProject, id(42))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRevokeMissingGrantIsNoOp(t *testing.T) {
	svc, _ := newTestService(nil)

	err := svc.Revoke(context.Background(), hierarchy.TypeProject, id(42), PrincipalUser, 1)
	assert.NoError(t, err)
}

func TestRequirePermissionDistinguishesDenyFromAbsence(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	err := svc.RequireWrite(ctx, 1, hierarchy.TypeProject, id(42))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not granted")

	_, denyErr := svc.Deny(ctx, GrantParams{
		ResourceType: hierarchy.TypeProject, ResourceID: id(42),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermWrite,
	})
	require.NoError(t, denyErr)

	err = svc.RequireWrite(ctx, 1, hierarchy.TypeProject, id(42))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explicitly denied")
}

func TestMatchedEntriesOrdering(t *testing.T) {
	svc, store := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Grant(ctx, GrantParams{
		ResourceType: hierarchy.TypeProject, ResourceID: id(42),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermRead,
	})
	require.NoError(t, err)
	_, err = svc.Deny(ctx, GrantParams{
		ResourceType: hierarchy.TypeProject, ResourceID: id(42),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermDelete,
	})
	require.NoError(t, err)

	// Mark an inherited entry by hand; the store keeps whatever the flag says.
	store.entries = append(store.entries, Entry{
		ID:           uuid.New(),
		ResourceType: hierarchy.TypeWorkspace, ResourceID: id(5),
		PrincipalType: PrincipalUser, PrincipalID: 1,
		Permissions: PermExecute, Inherited: true,
	})

	result, err := svc.CheckPermission(ctx, 1, hierarchy.TypeProject, id(42))
	require.NoError(t, err)
	require.Len(t, result.Matched, 3)
	assert.True(t, result.Matched[0].Deny, "direct deny first")
	assert.False(t, result.Matched[0].Inherited)
	assert.False(t, result.Matched[1].Inherited)
	assert.True(t, result.Matched[2].Inherited, "inherited entries last")
}

func TestGrantValidation(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Grant(ctx, GrantParams{
		ResourceType: "board", PrincipalType: PrincipalUser, PrincipalID: 1, Permissions: PermRead,
	})
	assert.Error(t, err)

	_, err = svc.Grant(ctx, GrantParams{
		ResourceType: hierarchy.TypeProject, PrincipalType: PrincipalUser, PrincipalID: 1, Permissions: 0,
	})
	assert.Error(t, err)

	_, err = svc.Grant(ctx, GrantParams{
		ResourceType: hierarchy.TypeProject, PrincipalType: "robot", PrincipalID: 1, Permissions: PermRead,
	})
	assert.Error(t, err)
}

func TestPermissionString(t *testing.T) {
	assert.Equal(t, "none", Permission(0).String())
	assert.Equal(t, "read,write", (PermRead | PermWrite).String())
	assert.Equal(t, "read,write,execute,delete,manage_permissions", PermAll.String())
}
