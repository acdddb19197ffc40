package keypool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"docscan/internal/logger"
)

const maxAdvanceAttempts = 5

const cursorSchema = `
CREATE TABLE IF NOT EXISTS key_cursor (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	last_used_index INTEGER NOT NULL DEFAULT 0,
	version         INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO key_cursor (id, last_used_index, version) VALUES (1, 0, 0);
`

// SQLStore persists the round-robin cursor in a SQLite database. Several processes may
// share one database file; each advance is a compare-and-set on a version column.
type SQLStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLStore opens (creating if needed) the cursor database at path.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	const op = "OpenSQLStore"

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapError(op, ErrCursorStore, err.Error())
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, wrapError(op, ErrCursorStore, err.Error())
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrapError(op, ErrCursorStore, fmt.Sprintf("ping %s: %v", path, err))
	}

	if _, err := db.ExecContext(ctx, cursorSchema); err != nil {
		db.Close()
		return nil, wrapError(op, ErrCursorStore, fmt.Sprintf("create schema: %v", err))
	}

	return &SQLStore{db: db, log: logger.WithComponent("keypool.sqlstore")}, nil
}

// Advance moves the cursor one step. When every attempt loses the race to concurrent
// writers the last computed value is returned anyway: rotation is best effort, and a
// repeated key is preferable to a failed recognition.
func (s *SQLStore) Advance(ctx context.Context, n int) (int, error) {
	const op = "Advance"

	if n <= 0 {
		return 0, wrapError(op, ErrNoKeysConfigured, "key list is empty")
	}

	var cursor int
	for attempt := 1; attempt <= maxAdvanceAttempts; attempt++ {
		var last, version int
		err := s.db.QueryRowContext(ctx,
			`SELECT last_used_index, version FROM key_cursor WHERE id = 1`).Scan(&last, &version)
		if err != nil {
			return 0, wrapError(op, ErrCursorStore, err.Error())
		}

		cursor = next(last, n)

		res, err := s.db.ExecContext(ctx,
			`UPDATE key_cursor SET last_used_index = ?, version = version + 1 WHERE id = 1 AND version = ?`,
			cursor, version)
		if err != nil {
			return 0, wrapError(op, ErrCursorStore, err.Error())
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return 0, wrapError(op, ErrCursorStore, err.Error())
		}
		if affected == 1 {
			return cursor, nil
		}

		s.log.Debug().Int("attempt", attempt).Msg("Cursor update lost race, retrying")
	}

	s.log.Warn().
		Int("attempts", maxAdvanceAttempts).
		Int("cursor", cursor).
		Msg("Cursor contention persisted, using last computed index")
	return cursor, nil
}

// Cursor returns the persisted cursor.
func (s *SQLStore) Cursor(ctx context.Context) (int, error) {
	var last int
	err := s.db.QueryRowContext(ctx, `SELECT last_used_index FROM key_cursor WHERE id = 1`).Scan(&last)
	if err != nil {
		return 0, wrapError("Cursor", ErrCursorStore, err.Error())
	}
	return last, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
