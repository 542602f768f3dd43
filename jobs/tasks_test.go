package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanbu-pm/kanbu/internal/platform/cache"
)

type stubSweeper struct {
	removed int64
	err     error
	calls   int
}

func (s *stubSweeper) SweepExpiredMembers(ctx context.Context) (int64, error) {
	s.calls++
	return s.removed, s.err
}

func TestMembershipSweepJobHandle(t *testing.T) {
	sweeper := &stubSweeper{removed: 3}
	job := NewMembershipSweepJob(sweeper, nil, slog.Default())

	task, err := NewMembershipSweepTask()
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, sweeper.calls)
}

func TestMembershipSweepJobPropagatesError(t *testing.T) {
	boom := errors.New("db down")
	sweeper := &stubSweeper{err: boom}
	job := NewMembershipSweepJob(sweeper, nil, slog.Default())

	task, err := NewMembershipSweepTask()
	require.NoError(t, err)

	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestMembershipSweepOrphansCachedDecisions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	decisions := cache.NewDecisions(client, time.Minute)
	ctx := context.Background()

	type cached struct {
		Allowed bool `json:"allowed"`
	}
	decisions.Set(ctx, cache.NamespaceACL, "1:project:42", cached{Allowed: true})
	decisions.Set(ctx, cache.NamespaceNamed, "1:tasks.write:*:*", cached{Allowed: true})

	job := NewMembershipSweepJob(&stubSweeper{removed: 2}, decisions, slog.Default())
	task, err := NewMembershipSweepTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	var got cached
	assert.False(t, decisions.Get(ctx, cache.NamespaceACL, "1:project:42", &got))
	assert.False(t, decisions.Get(ctx, cache.NamespaceNamed, "1:tasks.write:*:*", &got))
}

func TestMembershipSweepKeepsCacheWhenNothingRemoved(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	decisions := cache.NewDecisions(client, time.Minute)
	ctx := context.Background()

	type cached struct {
		Allowed bool `json:"allowed"`
	}
	decisions.Set(ctx, cache.NamespaceACL, "1:project:42", cached{Allowed: true})

	job := NewMembershipSweepJob(&stubSweeper{removed: 0}, decisions, slog.Default())
	task, err := NewMembershipSweepTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	var got cached
	assert.True(t, decisions.Get(ctx, cache.NamespaceACL, "1:project:42", &got))
}
