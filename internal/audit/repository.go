package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the subset of pgxpool.Pool used by the repository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository stores entries in audit_logs.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListParams is the query shape shared by paged and unpaged listing.
type ListParams struct {
	From        time.Time
	To          time.Time
	UserID      string
	WorkspaceID string
	Action      string
	Offset      int
	Limit       int
}

// Insert persists e.
func (r *PostgresRepository) Insert(ctx context.Context, e Entry) error {
	_, err := r.db.Exec(ctx, `INSERT INTO audit_logs (id, actions, is_successful, user_id, workspace_id, method, path, status, user_agent, ip, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Actions, e.IsSuccessful, optionalText(e.UserID), optionalText(e.WorkspaceID),
		e.Method, e.Path, e.Status, e.UserAgent, e.IP, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// List returns entries newest first. A zero Limit means no limit.
func (r *PostgresRepository) List(ctx context.Context, p ListParams) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !p.From.IsZero() {
		add("created_at >= $%d", p.From)
	}
	if !p.To.IsZero() {
		add("created_at < $%d", p.To)
	}
	if p.UserID != "" {
		add("user_id = $%d", p.UserID)
	}
	if p.WorkspaceID != "" {
		add("workspace_id = $%d", p.WorkspaceID)
	}
	if p.Action != "" {
		add("$%d = ANY(actions)", p.Action)
	}
	query := `SELECT id::text, actions, is_successful, COALESCE(user_id::text, ''), COALESCE(workspace_id::text, ''), method, path, status, user_agent, ip, created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if p.Limit > 0 {
		args = append(args, p.Limit, p.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Actions, &e.IsSuccessful, &e.UserID, &e.WorkspaceID, &e.Method, &e.Path, &e.Status, &e.UserAgent, &e.IP, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries created before cutoff.
func (r *PostgresRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
