package db

import "context"

// createTable creates the documents table if it doesn't exist
func (s *PostgresDocumentStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS pagesync_documents (
		workspace_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		body BYTEA NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (workspace_id, kind, doc_id)
	);

	CREATE INDEX IF NOT EXISTS idx_pagesync_documents_updated_at ON pagesync_documents(updated_at);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}
