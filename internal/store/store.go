package store

import (
	"context"
	"fmt"

	"docscan/pkg/services"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the document store for backend.
func Open(ctx context.Context, backend, textDir, metaDir, dbPath string) (services.DocumentStore, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(textDir, metaDir)
	case BackendSQLite:
		return OpenSQLiteStore(ctx, dbPath)
	default:
		return nil, fmt.Errorf("unknown result store %q", backend)
	}
}
