package grants

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kanbu-pm/kanbu/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for named grants and the
// permission catalog. The group_permission_grants table carries a unique
// index on (group_id, permission_id, workspace_id, project_id).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const grantColumns = `g.id, g.group_id, gr.name, g.permission_id, p.name, g.access_type, g.workspace_id, g.project_id, g.inherited, g.created_at, g.updated_at`

const grantJoins = `
	FROM group_permission_grants g
	JOIN permissions p ON p.id = g.permission_id
	JOIN groups gr ON gr.id = g.group_id`

func scanGrant(row pgx.Row) (Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.GroupID, &g.GroupName, &g.PermissionID, &g.PermissionName,
		&g.AccessType, &g.WorkspaceID, &g.ProjectID, &g.Inherited, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

// GrantsForGroups fetches grants for the groups whose scope is global,
// matches the workspace (project-less), or matches the project. Scope is
// additive, not a specificity waterfall.
func (r *Repository) GrantsForGroups(ctx context.Context, groupIDs []int64, workspaceID, projectID *int64) ([]Grant, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+grantColumns+grantJoins+`
		WHERE g.group_id = ANY($1)
		  AND (
			(g.workspace_id IS NULL AND g.project_id IS NULL)
			OR ($2::bigint IS NOT NULL AND g.workspace_id = $2 AND g.project_id IS NULL)
			OR ($3::bigint IS NOT NULL AND g.project_id = $3)
		  )`, groupIDs, workspaceID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGrants(rows)
}

// GrantsForGroup lists every grant held by one group.
func (r *Repository) GrantsForGroup(ctx context.Context, groupID int64) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+grantColumns+grantJoins+`
		WHERE g.group_id = $1
		ORDER BY p.name`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGrants(rows)
}

// Upsert writes a grant by identity, overwriting access_type on conflict.
func (r *Repository) Upsert(ctx context.Context, g Grant) (Grant, error) {
	updated, err := r.updateByIdentity(ctx, g)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Grant{}, err
	}

	g.ID = uuid.New()
	var insertedID uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO group_permission_grants (id, group_id, permission_id, access_type, workspace_id, project_id, inherited)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		g.ID, g.GroupID, g.PermissionID, string(g.AccessType), g.WorkspaceID, g.ProjectID, g.Inherited).Scan(&insertedID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return r.updateByIdentity(ctx, g)
		}
		return Grant{}, err
	}
	return r.getByID(ctx, insertedID)
}

func (r *Repository) updateByIdentity(ctx context.Context, g Grant) (Grant, error) {
	var updatedID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		UPDATE group_permission_grants
		SET access_type = $1, updated_at = now()
		WHERE group_id = $2 AND permission_id = $3
		  AND workspace_id IS NOT DISTINCT FROM $4
		  AND project_id IS NOT DISTINCT FROM $5
		RETURNING id`,
		string(g.AccessType), g.GroupID, g.PermissionID, g.WorkspaceID, g.ProjectID).Scan(&updatedID)
	if err != nil {
		return Grant{}, err
	}
	return r.getByID(ctx, updatedID)
}

func (r *Repository) getByID(ctx context.Context, id uuid.UUID) (Grant, error) {
	return scanGrant(r.pool.QueryRow(ctx, `SELECT `+grantColumns+grantJoins+` WHERE g.id = $1`, id))
}

// Delete removes the grant matching the identity.
func (r *Repository) Delete(ctx context.Context, groupID, permissionID int64, workspaceID, projectID *int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM group_permission_grants
		WHERE group_id = $1 AND permission_id = $2
		  AND workspace_id IS NOT DISTINCT FROM $3
		  AND project_id IS NOT DISTINCT FROM $4`,
		groupID, permissionID, workspaceID, projectID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetPermissionByName fetches a catalog entry by dotted name.
func (r *Repository) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `SELECT id, name, description FROM permissions WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// EnsurePermission upserts a catalog entry, keeping the description current.
func (r *Repository) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, name, description`, name, description).
		Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ListPermissions returns the catalog ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func collectGrants(rows pgx.Rows) ([]Grant, error) {
	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
