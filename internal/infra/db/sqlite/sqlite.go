package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/ports/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS image_jobs (
  id TEXT PRIMARY KEY,
  file_name TEXT NOT NULL,
  original_size INTEGER NOT NULL,
  original_path TEXT NOT NULL,
  source_ready INTEGER NOT NULL DEFAULT 0,
  mime_type TEXT NOT NULL,
  status TEXT NOT NULL,
  metadata TEXT,
  brand TEXT,
  product TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_image_jobs_status_created ON image_jobs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_image_jobs_file_name ON image_jobs (file_name);
CREATE TABLE IF NOT EXISTS image_versions (
  job_id TEXT NOT NULL REFERENCES image_jobs (id) ON DELETE CASCADE,
  variant TEXT NOT NULL,
  width INTEGER NOT NULL,
  height INTEGER NOT NULL,
  file_size INTEGER NOT NULL,
  file_path TEXT NOT NULL,
  file_name TEXT NOT NULL,
  format TEXT NOT NULL,
  quality INTEGER NOT NULL,
  content_hash TEXT NOT NULL DEFAULT '',
  recompressed INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (job_id, variant)
);
`

// Open opens the database at dsn and applies the schema. A single
// connection serializes writers, which is what SQLite allows anyway.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager hands a *sql.Tx to the callback. Isolation options are
// ignored; SQLite transactions are serializable.
type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) WithTx(ctx context.Context, _ repository.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getExecutor(db *sql.DB, tx repository.Tx) (executor, error) {
	switch v := tx.(type) {
	case *sql.Tx:
		return v, nil
	case nil:
		if db != nil {
			return db, nil
		}
		return nil, domain.ErrInvalidArgument
	default:
		return nil, domain.ErrInvalidExecContext
	}
}
