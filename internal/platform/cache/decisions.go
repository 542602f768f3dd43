package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision namespaces, one per resolver. Membership mutations invalidate
// both, since both resolvers read the same membership view.
const (
	NamespaceACL   = "acl"
	NamespaceNamed = "named"
)

// Decisions is a best-effort cache for authorization check results. It wraps
// the resolvers from the outside: correctness never depends on it, and every
// grant or membership mutation bumps a per-namespace generation so stale
// decisions stop matching instead of needing enumeration.
type Decisions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisions constructs a decision cache with the given entry TTL.
func NewDecisions(client *redis.Client, ttl time.Duration) *Decisions {
	return &Decisions{client: client, ttl: ttl}
}

func (d *Decisions) generation(ctx context.Context, namespace string) int64 {
	gen, err := d.client.Get(ctx, "authz:gen:"+namespace).Int64()
	if err != nil {
		return 0
	}
	return gen
}

func (d *Decisions) key(ctx context.Context, namespace, key string) string {
	return fmt.Sprintf("authz:%s:%d:%s", namespace, d.generation(ctx, namespace), key)
}

// Get loads a cached decision into dest. A miss, a decode failure, or any
// Redis error all report false.
func (d *Decisions) Get(ctx context.Context, namespace, key string, dest any) bool {
	if d == nil {
		return false
	}
	data, err := d.client.Get(ctx, d.key(ctx, namespace, key)).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

// Set stores a decision. Failures are dropped; the next read recomputes.
func (d *Decisions) Set(ctx context.Context, namespace, key string, value any) {
	if d == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	d.client.Set(ctx, d.key(ctx, namespace, key), data, d.ttl)
}

// Invalidate bumps the namespace generation, orphaning every cached decision
// under it. Orphans expire via TTL.
func (d *Decisions) Invalidate(ctx context.Context, namespace string) {
	if d == nil {
		return
	}
	d.client.Incr(ctx, "authz:gen:"+namespace)
}

// InvalidateAll bumps every given namespace.
func (d *Decisions) InvalidateAll(ctx context.Context, namespaces ...string) {
	for _, ns := range namespaces {
		d.Invalidate(ctx, ns)
	}
}
