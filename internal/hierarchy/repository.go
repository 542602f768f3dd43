package hierarchy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed parent lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ProjectForFeature returns the owning project of a feature.
func (r *Repository) ProjectForFeature(ctx context.Context, featureID int64) (int64, bool, error) {
	var projectID int64
	err := r.pool.QueryRow(ctx, `SELECT project_id FROM features WHERE id = $1`, featureID).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return projectID, true, nil
}

// WorkspaceForProject returns the owning workspace of a project.
func (r *Repository) WorkspaceForProject(ctx context.Context, projectID int64) (int64, bool, error) {
	var workspaceID int64
	err := r.pool.QueryRow(ctx, `SELECT workspace_id FROM projects WHERE id = $1`, projectID).Scan(&workspaceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return workspaceID, true, nil
}
