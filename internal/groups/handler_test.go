package groups

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanbu-pm/kanbu/internal/platform/cache"
)

type cachedCheck struct {
	Allowed bool `json:"allowed"`
}

func newHandlerFixture(t *testing.T) (*chi.Mux, *Service, *cache.Decisions) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	decisions := cache.NewDecisions(client, time.Minute)
	svc := NewService(newMockRepo())
	router := chi.NewRouter()
	NewHandler(slog.Default(), svc, decisions).MountRoutes(router)
	return router, svc, decisions
}

func TestRemoveMemberOrphansCachedDecisions(t *testing.T) {
	router, svc, decisions := newHandlerFixture(t)
	ctx := context.Background()

	g, err := svc.CreateSecurityGroup(ctx, "editors")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, g.ID, 1, nil))

	// Decisions answered while the membership was live must not survive its
	// removal.
	decisions.Set(ctx, cache.NamespaceACL, "1:project:42", cachedCheck{Allowed: true})
	decisions.Set(ctx, cache.NamespaceNamed, "1:tasks.write:*:*", cachedCheck{Allowed: true})

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/%d/members/1", g.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var got cachedCheck
	assert.False(t, decisions.Get(ctx, cache.NamespaceACL, "1:project:42", &got))
	assert.False(t, decisions.Get(ctx, cache.NamespaceNamed, "1:tasks.write:*:*", &got))
}

func TestDeactivateGroupOrphansCachedDecisions(t *testing.T) {
	router, svc, decisions := newHandlerFixture(t)
	ctx := context.Background()

	g, err := svc.CreateSecurityGroup(ctx, "contractors")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, g.ID, 7, nil))
	decisions.Set(ctx, cache.NamespaceACL, "7:workspace:5", cachedCheck{Allowed: true})

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/%d", g.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var got cachedCheck
	assert.False(t, decisions.Get(ctx, cache.NamespaceACL, "7:workspace:5", &got))
}

func TestAddMemberOrphansCachedDecisions(t *testing.T) {
	router, svc, decisions := newHandlerFixture(t)
	ctx := context.Background()

	g, err := svc.CreateSecurityGroup(ctx, "staff")
	require.NoError(t, err)
	// A cached NOT_GRANTED from before the add is just as stale as a cached
	// allow after a removal.
	decisions.Set(ctx, cache.NamespaceNamed, "3:boards.read:*:*", cachedCheck{Allowed: false})

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/%d/members", g.ID), strings.NewReader(`{"userId":3}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var got cachedCheck
	assert.False(t, decisions.Get(ctx, cache.NamespaceNamed, "3:boards.read:*:*", &got))
}
