// Package store persists recognized text and per-document metadata.
//
// FileStore keeps one texts/<id>.txt and one meta/<id>.json per document, the layout the
// upload and search tooling already reads. SQLiteStore keeps both in a single table.
package store

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

	"docscan/pkg/models"
	"docscan/pkg/services"
)

// ErrInvalidDocumentID is returned for IDs that are empty or contain path separators.
var ErrInvalidDocumentID = errors.New("invalid document id")

// FileStore implements services.DocumentStore on the local filesystem.
type FileStore struct {
	textDir string
	metaDir string
	now     func() time.Time

	// serializes metadata read-modify-write
	mu sync.Mutex
}

// NewFileStore creates the text and metadata directories if needed.
func NewFileStore(textDir, metaDir string) (*FileStore, error) {
	for _, dir := range []string{textDir, metaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &FileStore{textDir: textDir, metaDir: metaDir, now: time.Now}, nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidDocumentID, id)
	}
	return nil
}

func (s *FileStore) textPath(id string) string {
	return filepath.Join(s.textDir, id+".txt")
}

func (s *FileStore) metaPath(id string) string {
	return filepath.Join(s.metaDir, id+".json")
}

// Save replaces the stored text for id.
func (s *FileStore) Save(ctx context.Context, id, text string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeFileAtomic(s.textPath(id), []byte(text), 0o644)
}

// Load returns the stored text for id.
func (s *FileStore) Load(ctx context.Context, id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.textPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", services.ErrTextNotFound, id)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RecordLanguage sets language and last_modified in the metadata file, creating it if
// missing. Fields this package does not know are kept.
func (s *FileStore) RecordLanguage(ctx context.Context, id, language string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := models.Timestamp(s.now())
	fields := map[string]any{}

	data, err := os.ReadFile(s.metaPath(id))
	switch {
	case errors.Is(err, os.ErrNotExist):
		fields["filename"] = id
		fields["tags"] = []string{}
		fields["upload_date"] = now
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("parse %s: %w", s.metaPath(id), err)
		}
	}

	fields["language"] = language
	fields["last_modified"] = now

	out, err := json.MarshalIndent(fields, "", "    ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.metaPath(id), out, 0o644)
}

// Metadata reads the metadata file for id.
func (s *FileStore) Metadata(ctx context.Context, id string) (*models.DocumentMetadata, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return nil, err
	}
	var meta models.DocumentMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.metaPath(id), err)
	}
	return &meta, nil
}

func (s *FileStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
