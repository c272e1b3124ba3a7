package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agoracloud/agora/internal/platform/db"
)

// DBTX is the subset of pgxpool.Pool used by PostgresStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DBTX = (*pgxpool.Pool)(nil)

// PostgresStore keeps permission documents as JSONB rows in permission_documents.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

type documentBody struct {
	Global     Grant            `json:"global"`
	Workspaces map[string]Grant `json:"workspaces"`
}

// Find loads the user's document.
func (s *PostgresStore) Find(ctx context.Context, userID string) (*Document, error) {
	row := s.db.QueryRow(ctx, `SELECT user_id::text, document, version, updated_at FROM permission_documents WHERE user_id = $1`, userID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPermissionsNotFound
		}
		return nil, fmt.Errorf("authz: find document: %w", err)
	}
	return doc, nil
}

// FindByWorkspace returns every document that holds an entry for workspaceID.
func (s *PostgresStore) FindByWorkspace(ctx context.Context, workspaceID string) ([]*Document, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id::text, document, version, updated_at FROM permission_documents WHERE document->'workspaces' ? $1 ORDER BY user_id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("authz: find by workspace: %w", err)
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("authz: scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Insert creates the document at version 1.
func (s *PostgresStore) Insert(ctx context.Context, doc *Document) error {
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	var updatedAt time.Time
	err = s.db.QueryRow(ctx, `INSERT INTO permission_documents (user_id, document, version, updated_at) VALUES ($1, $2, 1, NOW()) RETURNING updated_at`, doc.UserID, body).Scan(&updatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDocumentExists
		}
		return fmt.Errorf("authz: insert document: %w", err)
	}
	doc.Version = 1
	doc.UpdatedAt = updatedAt
	return nil
}

// Update replaces the document if its version still matches.
func (s *PostgresStore) Update(ctx context.Context, doc *Document) error {
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	var updatedAt time.Time
	err = s.db.QueryRow(ctx, `UPDATE permission_documents SET document = $2, version = version + 1, updated_at = NOW() WHERE user_id = $1 AND version = $3 RETURNING updated_at`, doc.UserID, body, doc.Version).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.classifyMiss(ctx, doc.UserID)
		}
		return fmt.Errorf("authz: update document: %w", err)
	}
	doc.Version++
	doc.UpdatedAt = updatedAt
	return nil
}

// Delete removes the user's document; missing rows are ignored.
func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM permission_documents WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("authz: delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) classifyMiss(ctx context.Context, userID string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permission_documents WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("authz: check document: %w", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrPermissionsNotFound
}

func encodeDocument(doc *Document) ([]byte, error) {
	workspaces := doc.Workspaces
	if workspaces == nil {
		workspaces = map[string]Grant{}
	}
	body, err := json.Marshal(documentBody{Global: doc.Global, Workspaces: workspaces})
	if err != nil {
		return nil, fmt.Errorf("authz: encode document: %w", err)
	}
	return body, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var (
		doc  Document
		body []byte
	)
	if err := row.Scan(&doc.UserID, &body, &doc.Version, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	var decoded documentBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("authz: decode document: %w", err)
	}
	doc.Global = decoded.Global
	doc.Workspaces = decoded.Workspaces
	if doc.Workspaces == nil {
		doc.Workspaces = map[string]Grant{}
	}
	return &doc, nil
}
