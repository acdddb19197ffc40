package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"docscan/pkg/services"
)

const textSchema = `
CREATE TABLE IF NOT EXISTS document_texts (
	document_id TEXT PRIMARY KEY,
	text        TEXT,
	language    TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMP NOT NULL
);
`

// SQLiteStore implements services.DocumentStore in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, textSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id, text string) error {
	if err := validateID(id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_texts (document_id, text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`,
		id, text, s.now().UTC())
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	var text sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT text FROM document_texts WHERE document_id = ?`, id).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !text.Valid) {
		return "", fmt.Errorf("%w: %s", services.ErrTextNotFound, id)
	}
	if err != nil {
		return "", err
	}
	return text.String, nil
}

func (s *SQLiteStore) RecordLanguage(ctx context.Context, id, language string) error {
	if err := validateID(id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_texts (document_id, language, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET language = excluded.language, updated_at = excluded.updated_at`,
		id, language, s.now().UTC())
	return err
}

// Language returns the recorded language for id, or "" when none is stored.
func (s *SQLiteStore) Language(ctx context.Context, id string) (string, error) {
	var language string
	err := s.db.QueryRowContext(ctx, `SELECT language FROM document_texts WHERE document_id = ?`, id).Scan(&language)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return language, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
