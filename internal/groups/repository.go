package groups

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kanbu-pm/kanbu/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for groups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetGroup fetches a group by id.
func (r *Repository) GetGroup(ctx context.Context, id int64) (Group, error) {
	var g Group
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, type, workspace_id, project_id, is_active, created_at, updated_at
		FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Type, &g.WorkspaceID, &g.ProjectID, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrNotFound
		}
		return Group{}, err
	}
	return g, nil
}

// CreateGroup inserts a new group.
func (r *Repository) CreateGroup(ctx context.Context, g Group) (Group, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO groups (name, type, workspace_id, project_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		g.Name, g.Type, g.WorkspaceID, g.ProjectID, g.IsActive,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

// CreateGroupPair inserts two groups atomically. Used by auto-group
// provisioning so a workspace or project never ends up with only one of its
// member/admin pair.
func (r *Repository) CreateGroupPair(ctx context.Context, first, second Group) (Group, Group, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, g := range []*Group{&first, &second} {
			if err := tx.QueryRow(ctx, `
				INSERT INTO groups (name, type, workspace_id, project_id, is_active)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id, created_at, updated_at`,
				g.Name, g.Type, g.WorkspaceID, g.ProjectID, g.IsActive,
			).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Group{}, Group{}, err
	}
	return first, second, nil
}

// DeactivateGroup clears the is_active flag.
func (r *Repository) DeactivateGroup(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE groups SET is_active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember inserts a membership row, refreshing expiry on re-add.
func (r *Repository) AddMember(ctx context.Context, m Member) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		m.GroupID, m.UserID, m.ExpiresAt)
	return err
}

// RemoveMember deletes a membership row.
func (r *Repository) RemoveMember(ctx context.Context, groupID, userID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return err
}

// ActiveMembershipsFor lists the user's memberships in active groups whose
// expiry is unset or after now.
func (r *Repository) ActiveMembershipsFor(ctx context.Context, userID int64, now time.Time) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.name
		FROM group_members gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.user_id = $1
		  AND g.is_active
		  AND (gm.expires_at IS NULL OR gm.expires_at > $2)
		ORDER BY g.name`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.GroupID, &m.GroupName); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// DeleteExpiredMembers removes membership rows whose expiry has passed.
func (r *Repository) DeleteExpiredMembers(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM group_members WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
