package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const postgresOperationTimeout = 5 * time.Second

// PostgresDocumentStore implements DocumentStore using PostgreSQL
type PostgresDocumentStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresDocumentStore creates a new PostgreSQL document store
func NewPostgresDocumentStore(connStr string) (*PostgresDocumentStore, error) {
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return nil, errors.New("postgres connection string is required")
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PostgresDocumentStore{db: db, timeout: postgresOperationTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), store.timeout)
	defer cancel()

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := store.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *PostgresDocumentStore) Close() error {
	return s.db.Close()
}

func (s *PostgresDocumentStore) ReadDocument(ctx context.Context, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT body
		FROM pagesync_documents
		WHERE workspace_id = $1 AND kind = $2 AND doc_id = $3
	`

	var body []byte
	err := s.db.QueryRowContext(ctx, query, key.Workspace, key.Kind, key.ID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read document %s: %w", key, err)
	}
	return body, nil
}

func (s *PostgresDocumentStore) WriteDocument(ctx context.Context, key Key, body []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO pagesync_documents (workspace_id, kind, doc_id, body, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), 1)
		ON CONFLICT (workspace_id, kind, doc_id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = NOW(), version = pagesync_documents.version + 1
	`

	if _, err := s.db.ExecContext(ctx, query, key.Workspace, key.Kind, key.ID, body); err != nil {
		return fmt.Errorf("failed to write document %s: %w", key, err)
	}
	return nil
}

func (s *PostgresDocumentStore) DeleteDocument(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `DELETE FROM pagesync_documents WHERE workspace_id = $1 AND kind = $2 AND doc_id = $3`

	if _, err := s.db.ExecContext(ctx, query, key.Workspace, key.Kind, key.ID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", key, err)
	}
	return nil
}

// Compile-time check to ensure PostgresDocumentStore implements DocumentStore interface
var _ DocumentStore = (*PostgresDocumentStore)(nil)
