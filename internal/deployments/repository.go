package deployments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry reads deployments from the deployments table.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry constructs a PostgresRegistry.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

// Lookup loads a deployment by id.
func (r *PostgresRegistry) Lookup(ctx context.Context, id string) (*Deployment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text AS id, workspace_id::text AS workspace_id, name, status, updated_at
FROM deployments WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("deployments: lookup: %w", err)
	}
	d, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Deployment])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deployments: lookup: %w", err)
	}
	return &d, nil
}

// MarkWorkspaceDeleting flags every deployment of a workspace for teardown.
func (r *PostgresRegistry) MarkWorkspaceDeleting(ctx context.Context, workspaceID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE deployments SET status = $2, updated_at = NOW()
WHERE workspace_id = $1 AND status <> $2`, workspaceID, string(StatusDeleting))
	if err != nil {
		return 0, fmt.Errorf("deployments: mark deleting: %w", err)
	}
	return tag.RowsAffected(), nil
}
