package groups

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	groups      map[int64]*Group
	members     map[int64][]Member
	nextGroupID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		groups:      make(map[int64]*Group),
		members:     make(map[int64][]Member),
		nextGroupID: 1,
	}
}

func (m *mockRepo) GetGroup(ctx context.Context, id int64) (Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	return *g, nil
}

func (m *mockRepo) CreateGroup(ctx context.Context, g Group) (Group, error) {
	g.ID = m.nextGroupID
	m.nextGroupID++
	m.groups[g.ID] = &g
	return g, nil
}

func (m *mockRepo) CreateGroupPair(ctx context.Context, first, second Group) (Group, Group, error) {
	first, err := m.CreateGroup(ctx, first)
	if err != nil {
		return Group{}, Group{}, err
	}
	second, err = m.CreateGroup(ctx, second)
	if err != nil {
		return Group{}, Group{}, err
	}
	return first, second, nil
}

func (m *mockRepo) DeactivateGroup(ctx context.Context, id int64) error {
	g, ok := m.groups[id]
	if !ok {
		return ErrNotFound
	}
	g.IsActive = false
	return nil
}

func (m *mockRepo) AddMember(ctx context.Context, member Member) error {
	existing := m.members[member.GroupID]
	for i, e := range existing {
		if e.UserID == member.UserID {
			existing[i].ExpiresAt = member.ExpiresAt
			return nil
		}
	}
	m.members[member.GroupID] = append(existing, member)
	return nil
}

func (m *mockRepo) RemoveMember(ctx context.Context, groupID, userID int64) error {
	existing := m.members[groupID]
	for i, e := range existing {
		if e.UserID == userID {
			m.members[groupID] = append(existing[:i], existing[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockRepo) ActiveMembershipsFor(ctx context.Context, userID int64, now time.Time) ([]Membership, error) {
	var out []Membership
	for groupID, members := range m.members {
		g := m.groups[groupID]
		if g == nil || !g.IsActive {
			continue
		}
		for _, member := range members {
			if member.UserID != userID {
				continue
			}
			if member.ExpiresAt != nil && !member.ExpiresAt.After(now) {
				continue
			}
			out = append(out, Membership{GroupID: g.ID, GroupName: g.Name})
		}
	}
	return out, nil
}

func (m *mockRepo) DeleteExpiredMembers(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	for groupID, members := range m.members {
		kept := members[:0]
		for _, member := range members {
			if member.ExpiresAt != nil && !member.ExpiresAt.After(now) {
				deleted++
				continue
			}
			kept = append(kept, member)
		}
		m.members[groupID] = kept
	}
	return deleted, nil
}

func TestMembershipsFilterInactiveGroups(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	active, err := svc.CreateSecurityGroup(ctx, "auditors")
	require.NoError(t, err)
	inactive, err := svc.CreateSecurityGroup(ctx, "legacy")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, active.ID, 10, nil))
	require.NoError(t, svc.AddMember(ctx, inactive.ID, 10, nil))
	require.NoError(t, svc.DeactivateGroup(ctx, inactive.ID))

	memberships, err := svc.MembershipsFor(ctx, 10)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, "auditors", memberships[0].GroupName)
}

func TestMembershipsFilterExpired(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	g, err := svc.CreateSecurityGroup(ctx, "contractors")
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, svc.AddMember(ctx, g.ID, 10, &past))

	memberships, err := svc.MembershipsFor(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, memberships)

	require.NoError(t, svc.AddMember(ctx, g.ID, 10, &future))
	memberships, err = svc.MembershipsFor(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, memberships, 1)
}

func TestAddMemberUnknownGroup(t *testing.T) {
	svc := NewService(newMockRepo())

	err := svc.AddMember(context.Background(), 99, 10, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProvisionWorkspaceGroups(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	members, admins, err := svc.ProvisionWorkspaceGroups(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "workspace-5-members", members.Name)
	assert.Equal(t, "workspace-5-admins", admins.Name)
	assert.Equal(t, TypeAuto, members.Type)
	require.NotNil(t, admins.WorkspaceID)
	assert.EqualValues(t, 5, *admins.WorkspaceID)
}

func TestSweepExpiredMembers(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	g, err := svc.CreateSecurityGroup(ctx, "temps")
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, svc.AddMember(ctx, g.ID, 1, &past))
	require.NoError(t, svc.AddMember(ctx, g.ID, 2, nil))

	deleted, err := svc.SweepExpiredMembers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	memberships, err := svc.MembershipsFor(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, memberships, 1)
}
