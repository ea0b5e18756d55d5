// Package ingest imports saved-content exports into the store.
//
// Each supported export format (JSON, YAML) has its own importer behind the
// Importer interface. The engine auto-detects formats by file extension,
// walks directories, and preserves provenance: every stored entity mention
// keeps its item ID, timestamp, and engagement counters.
package ingest

import (
	"context"
	"time"

	"github.com/stashsift/stashsift/internal/entity"
)

// ExportRecord is one saved content item as it appears in an export file.
// Entities may be pre-analyzed by the exporting tool; records without them
// go through the extraction chain instead.
type ExportRecord struct {
	ID          string            `json:"id" yaml:"id"`
	URL         string            `json:"url" yaml:"url"`
	Author      string            `json:"author" yaml:"author"`
	Caption     string            `json:"caption" yaml:"caption"`
	ContentType string            `json:"content_type" yaml:"content_type"`
	PostedAt    time.Time         `json:"posted_at" yaml:"posted_at"`
	Engagement  entity.Engagement `json:"engagement" yaml:"engagement"`
	Entities    []ExportEntity    `json:"entities,omitempty" yaml:"entities,omitempty"`
}

// ExportEntity is a pre-analyzed entity mention inside an export record.
// Fields are loosely typed; validation happens during import.
type ExportEntity struct {
	Name       string  `json:"name" yaml:"name"`
	Category   string  `json:"category" yaml:"category"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Modality   string  `json:"modality" yaml:"modality"`
	Snippet    string  `json:"snippet" yaml:"snippet"`
}

// Importer handles a specific export file format.
type Importer interface {
	// CanHandle returns true if this importer supports the given file path.
	CanHandle(path string) bool

	// Import parses the file into export records.
	Import(ctx context.Context, path string) ([]ExportRecord, error)
}

// Result summarizes an import operation.
type Result struct {
	FilesScanned    int
	FilesImported   int
	FilesSkipped    int
	ItemsImported   int
	EntitiesStored  int
	EntitiesSkipped int
	Errors          []ImportError
}

// Add merges another Result into this one.
func (r *Result) Add(other *Result) {
	r.FilesScanned += other.FilesScanned
	r.FilesImported += other.FilesImported
	r.FilesSkipped += other.FilesSkipped
	r.ItemsImported += other.ItemsImported
	r.EntitiesStored += other.EntitiesStored
	r.EntitiesSkipped += other.EntitiesSkipped
	r.Errors = append(r.Errors, other.Errors...)
}

// ImportError records a non-fatal error during import.
type ImportError struct {
	File    string
	Message string
}

// Options configures an import operation.
type Options struct {
	Recursive   bool
	DryRun      bool
	MaxFileSize int64 // bytes, default 10MB
}

// DefaultMaxFileSize is 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024

// Normalize fills zero values with defaults.
func (o *Options) Normalize() {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
}
