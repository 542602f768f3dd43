package roles

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for role assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AssignmentsForGroups lists assignments held by the groups on the scope.
func (r *Repository) AssignmentsForGroups(ctx context.Context, groupIDs []int64, workspaceID, projectID *int64) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, group_id, role, workspace_id, project_id, created_at
		FROM role_assignments
		WHERE group_id = ANY($1)
		  AND workspace_id IS NOT DISTINCT FROM $2
		  AND project_id IS NOT DISTINCT FROM $3`, groupIDs, workspaceID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.GroupID, &a.Role, &a.WorkspaceID, &a.ProjectID, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// Assign upserts the group's role on a scope.
func (r *Repository) Assign(ctx context.Context, a Assignment) (Assignment, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO role_assignments (group_id, role, workspace_id, project_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, workspace_id, project_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING id, created_at`,
		a.GroupID, string(a.Role), a.WorkspaceID, a.ProjectID).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// Unassign deletes the group's role on a scope.
func (r *Repository) Unassign(ctx context.Context, groupID int64, workspaceID, projectID *int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM role_assignments
		WHERE group_id = $1
		  AND workspace_id IS NOT DISTINCT FROM $2
		  AND project_id IS NOT DISTINCT FROM $3`, groupID, workspaceID, projectID)
	return err
}
