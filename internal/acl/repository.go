package acl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kanbu-pm/kanbu/internal/hierarchy"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for ACL entries. The
// acl_entries table carries a unique index on
// (resource_type, resource_id, principal_type, principal_id, deny); the
// upsert path relies on it to stay duplicate-free under concurrent writers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, resource_type, resource_id, principal_type, principal_id, permissions, deny, inherited, inherit_to_children, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.ResourceType, &e.ResourceID, &e.PrincipalType, &e.PrincipalID,
		&e.Permissions, &e.Deny, &e.Inherited, &e.InheritToChildren, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// EntriesForPrincipals fetches entries matching any hierarchy node held by the
// user directly or by any of the groups.
func (r *Repository) EntriesForPrincipals(ctx context.Context, nodes []hierarchy.Node, userID int64, groupIDs []int64) ([]Entry, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	args := make([]any, 0, 2*len(nodes)+2)
	sb.WriteString(`SELECT ` + entryColumns + ` FROM acl_entries WHERE (`)
	for i, n := range nodes {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		args = append(args, string(n.Type), n.ID)
		fmt.Fprintf(&sb, "(resource_type = $%d AND resource_id IS NOT DISTINCT FROM $%d)", len(args)-1, len(args))
	}
	args = append(args, userID)
	fmt.Fprintf(&sb, ") AND ((principal_type = 'user' AND principal_id = $%d)", len(args))
	if len(groupIDs) > 0 {
		args = append(args, groupIDs)
		fmt.Fprintf(&sb, " OR (principal_type = 'group' AND principal_id = ANY($%d))", len(args))
	}
	sb.WriteString(")")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// EntriesAt lists all entries at one resource node.
func (r *Repository) EntriesAt(ctx context.Context, resourceType hierarchy.ResourceType, resourceID *int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM acl_entries
		WHERE resource_type = $1 AND resource_id IS NOT DISTINCT FROM $2
		ORDER BY principal_type, principal_id, deny`, string(resourceType), resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Upsert writes an entry by identity. The write is update-first; a lost race
// on insert surfaces as a unique violation and is retried as an update.
func (r *Repository) Upsert(ctx context.Context, e Entry) (Entry, error) {
	updated, err := r.updateByIdentity(ctx, e)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, err
	}

	e.ID = uuid.New()
	inserted, err := scanEntry(r.pool.QueryRow(ctx, `
		INSERT INTO acl_entries (id, resource_type, resource_id, principal_type, principal_id, permissions, deny, inherited, inherit_to_children)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+entryColumns,
		e.ID, string(e.ResourceType), e.ResourceID, string(e.PrincipalType), e.PrincipalID,
		e.Permissions, e.Deny, e.Inherited, e.InheritToChildren))
	if err == nil {
		return inserted, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return r.updateByIdentity(ctx, e)
	}
	return Entry{}, err
}

func (r *Repository) updateByIdentity(ctx context.Context, e Entry) (Entry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `
		UPDATE acl_entries
		SET permissions = $1, inherit_to_children = $2, updated_at = now()
		WHERE resource_type = $3 AND resource_id IS NOT DISTINCT FROM $4
		  AND principal_type = $5 AND principal_id = $6 AND deny = $7
		RETURNING `+entryColumns,
		e.Permissions, e.InheritToChildren,
		string(e.ResourceType), e.ResourceID, string(e.PrincipalType), e.PrincipalID, e.Deny))
}

// DeleteFor removes the allow and deny rows for a principal at a node.
func (r *Repository) DeleteFor(ctx context.Context, resourceType hierarchy.ResourceType, resourceID *int64, principalType PrincipalType, principalID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM acl_entries
		WHERE resource_type = $1 AND resource_id IS NOT DISTINCT FROM $2
		  AND principal_type = $3 AND principal_id = $4`,
		string(resourceType), resourceID, string(principalType), principalID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
