// Package sqlite provides the SQLite audit store.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// Store implements ports.AuditStore using SQLite.
type Store struct {
	db *sqlx.DB
}

// New opens (creating if needed) the database at dsn. A plain file path has
// its parent directory created. In-memory DSNs are switched to a shared cache
// so every pooled connection sees the same database.
func New(dsn string) (*Store, error) {
	dsn = sharedMemoryDSN(dsn)
	if !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// sharedMemoryDSN rewrites ":memory:" to a uniquely named shared-cache
// database and adds cache=shared to "mode=memory" URIs that lack it.
func sharedMemoryDSN(dsn string) string {
	if dsn == ":memory:" {
		return "file:keyconf-" + uuid.New().String() + "?mode=memory&cache=shared"
	}
	if strings.HasPrefix(dsn, "file:") && strings.Contains(dsn, "mode=memory") && !strings.Contains(dsn, "cache=shared") {
		sep := "&"
		if !strings.Contains(dsn, "?") {
			sep = "?"
		}
		return dsn + sep + "cache=shared"
	}
	return dsn
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS config_updates (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	model_name TEXT NOT NULL,
	status TEXT NOT NULL,
	model_existed INTEGER NOT NULL DEFAULT 0,
	registry_backup TEXT NOT NULL DEFAULT '',
	provider_backup TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_config_updates_user ON config_updates(user_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB returns the underlying sqlx.DB.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) RecordUpdate(ctx context.Context, rec *ports.AuditRecord) error {
	const query = `INSERT INTO config_updates
	(id, session_id, user_id, mode, model_name, status, model_existed,
	 registry_backup, provider_backup, error_kind, error_message, created_at)
	VALUES
	(:id, :session_id, :user_id, :mode, :model_name, :status, :model_existed,
	 :registry_backup, :provider_backup, :error_kind, :error_message, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to record update: %w", err)
	}
	return nil
}

// ListUpdates returns update attempts, newest first.
func (s *Store) ListUpdates(ctx context.Context, opts ports.AuditListOptions) ([]*ports.AuditRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100 // default limit
	}

	query := `SELECT id, session_id, user_id, mode, model_name, status, model_existed,
	registry_backup, provider_backup, error_kind, error_message, created_at
	FROM config_updates`
	var args []any
	if opts.UserID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, opts.UserID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	var records []*ports.AuditRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	return records, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ ports.AuditStore = (*Store)(nil)
