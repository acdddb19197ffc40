package keypool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// KeyConfig mirrors the on-disk key configuration.
type KeyConfig struct {
	APIKey        string   `json:"space_ocr_api_key,omitempty"`
	APIKeys       []string `json:"space_ocr_api_keys,omitempty"`
	LastUsedIndex int      `json:"last_used_index"`
}

// Keys returns the non-blank multi-mode keys in configured order.
func (c *KeyConfig) Keys() []string {
	keys := make([]string, 0, len(c.APIKeys))
	for _, key := range c.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// FileStore keeps keys and the round-robin cursor together in one JSON file.
// Cross-process access is serialized with an advisory lock on a sibling ".lock" file;
// writes go through a temp file and rename so readers never see a partial document.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileStore returns a store for the key configuration at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the configuration file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and parses the key configuration under a shared lock.
func (s *FileStore) Load(ctx context.Context) (*KeyConfig, error) {
	const op = "Load"

	if _, err := os.Stat(s.path); err != nil {
		return nil, wrapError(op, ErrNoKeysConfigured, fmt.Sprintf("configuration file not found: %s", s.path))
	}

	// flock state is per handle, so goroutines sharing this store serialize here first
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return nil, wrapError(op, ErrCursorStore, fmt.Sprintf("failed to acquire shared lock: %v", err))
	}
	defer s.lock.Unlock()

	cfg, _, err := s.read()
	if err != nil {
		return nil, wrapError(op, err, s.path)
	}
	return cfg, nil
}

// Advance performs the locked read-modify-write of last_used_index. Unknown fields in
// the file are preserved.
func (s *FileStore) Advance(ctx context.Context, n int) (int, error) {
	const op = "Advance"

	if n <= 0 {
		return 0, wrapError(op, ErrNoKeysConfigured, "key list is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return 0, wrapError(op, ErrCursorStore, fmt.Sprintf("failed to acquire lock: %v", err))
	}
	defer s.lock.Unlock()

	cfg, fields, err := s.read()
	if err != nil {
		return 0, wrapError(op, err, s.path)
	}

	cursor := next(cfg.LastUsedIndex, n)

	encoded, err := json.Marshal(cursor)
	if err != nil {
		return 0, wrapError(op, ErrCursorStore, err.Error())
	}
	fields["last_used_index"] = encoded

	if err := s.write(fields); err != nil {
		return 0, wrapError(op, ErrCursorStore, err.Error())
	}

	return cursor, nil
}

// Cursor returns the persisted last_used_index.
func (s *FileStore) Cursor(ctx context.Context) (int, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.LastUsedIndex, nil
}

func (s *FileStore) read() (*KeyConfig, map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoKeysConfigured, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid JSON: %v", ErrNoKeysConfigured, err)
	}

	var cfg KeyConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid key configuration: %v", ErrNoKeysConfigured, err)
	}

	return &cfg, fields, nil
}

func (s *FileStore) write(fields map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(fields, "", "    ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
