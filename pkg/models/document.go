package models

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentKind distinguishes single raster images from multi-page PDFs.
type DocumentKind string

const (
	KindUnknown DocumentKind = ""
	KindImage   DocumentKind = "image"
	KindPDF     DocumentKind = "pdf"
)

// DefaultMaxPages is the provider free-tier ceiling on pages recognized per document.
const DefaultMaxPages = 3

// Document is the transient descriptor for one recognition run.
type Document struct {
	ID       string       // Stored filename without extension
	Path     string       // Location of the uploaded file
	Kind     DocumentKind // Detected from content when empty
	MaxPages int          // Pages beyond this ceiling are never rendered

	// LanguageHint seeds the per-run language tracker (three-letter code, optional).
	LanguageHint string
}

// NewDocument builds a descriptor for the file at path. The ID is the base name
// without extension, matching how recognized text is stored.
func NewDocument(path string, maxPages int) Document {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return Document{
		ID:       DocumentID(path),
		Path:     path,
		MaxPages: maxPages,
	}
}

// DocumentID derives the storage identity from a file name.
func DocumentID(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MetadataTimeLayout is the timestamp format used in metadata files.
const MetadataTimeLayout = "2006-01-02 15:04:05"

// DocumentMetadata is the per-document record kept next to the recognized text.
type DocumentMetadata struct {
	Filename     string   `json:"filename"`
	Language     string   `json:"language,omitempty"`
	Tags         []string `json:"tags"`
	UploadDate   string   `json:"upload_date"`
	LastModified string   `json:"last_modified"`
}

// Timestamp formats t for metadata fields.
func Timestamp(t time.Time) string {
	return t.Format(MetadataTimeLayout)
}
