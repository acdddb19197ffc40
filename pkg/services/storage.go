package services

import (
	"context"
	"errors"
)

// ErrTextNotFound is returned by ResultSink.Load when no text is stored for a document.
var ErrTextNotFound = errors.New("recognized text not found")

// ResultSink persists recognized text keyed by document identity
type ResultSink interface {
	// Save stores text for documentID, replacing any previous text
	Save(ctx context.Context, documentID, text string) error

	// Load returns the stored text or ErrTextNotFound
	Load(ctx context.Context, documentID string) (string, error)
}

// LanguageRecorder stores the language detected for a document in its metadata
type LanguageRecorder interface {
	RecordLanguage(ctx context.Context, documentID, language string) error
}

// DocumentStore is a sink that also records languages
type DocumentStore interface {
	ResultSink
	LanguageRecorder
	Close() error
}
