package workspaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agoracloud/agora/internal/platform/db"
)

// PostgresRepository stores workspaces in workspaces and workspace_users.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts the workspace and its initial members in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, ws *Workspace) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO workspaces (id, name, created_at, updated_at) VALUES ($1, $2, NOW(), NOW()) RETURNING created_at, updated_at`,
			ws.ID, ws.Name).Scan(&ws.CreatedAt, &ws.UpdatedAt)
		if err != nil {
			return fmt.Errorf("workspaces: insert: %w", err)
		}
		for _, userID := range ws.Users {
			if _, err := tx.Exec(ctx, `INSERT INTO workspace_users (workspace_id, user_id, added_at) VALUES ($1, $2, NOW())`, ws.ID, userID); err != nil {
				return fmt.Errorf("workspaces: insert member: %w", err)
			}
		}
		return nil
	})
}

// Get loads a workspace with its members.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Workspace, error) {
	var ws Workspace
	err := r.pool.QueryRow(ctx, `SELECT id::text, name, created_at, updated_at FROM workspaces WHERE id = $1`, id).
		Scan(&ws.ID, &ws.Name, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("workspaces: get: %w", err)
	}
	users, err := r.members(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.Users = users
	return &ws, nil
}

// ListByUser returns the workspaces userID belongs to.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := r.pool.Query(ctx, `SELECT w.id::text, w.name, w.created_at, w.updated_at
FROM workspaces w JOIN workspace_users wu ON wu.workspace_id = w.id
WHERE wu.user_id = $1 ORDER BY w.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("workspaces: list by user: %w", err)
	}
	var out []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("workspaces: scan: %w", err)
		}
		out = append(out, ws)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		users, err := r.members(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Users = users
	}
	return out, nil
}

// Rename updates the display name.
func (r *PostgresRepository) Rename(ctx context.Context, id, name string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE workspaces SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("workspaces: rename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddUser inserts a membership row.
func (r *PostgresRepository) AddUser(ctx context.Context, workspaceID, userID string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO workspace_users (workspace_id, user_id, added_at) VALUES ($1, $2, NOW())`, workspaceID, userID)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err):
			return ErrExistingWorkspaceUser
		case db.IsForeignKeyViolation(err):
			return ErrNotFound
		}
		return fmt.Errorf("workspaces: add user: %w", err)
	}
	return nil
}

// RemoveUser deletes a membership row.
func (r *PostgresRepository) RemoveUser(ctx context.Context, workspaceID, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM workspace_users WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("workspaces: remove user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotMember
	}
	return nil
}

// Delete removes the workspace; memberships cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("workspaces: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) members(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id::text FROM workspace_users WHERE workspace_id = $1 ORDER BY added_at, user_id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspaces: members: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("workspaces: scan members: %w", err)
	}
	return users, nil
}
