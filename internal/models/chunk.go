// Package models defines core data structures for projects, chunks, and retrieval results.
package models

import (
	"time"
	"unicode"
)

// Segment is one unit of parsed document content as produced by a document
// loader: plain text plus origin metadata (page number, sheet name, etc.).
// Loaders must produce exactly this shape; the rest of the system never sees
// a parsing library's own document type.
type Segment struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk is a contiguous span of source-document text, the atomic unit of
// retrieval. Ordinals are 1-based and gapless within a file; Text is never
// empty. Embedding is present only after embedding generation succeeded.
type Chunk struct {
	ProjectID string                 `json:"project_id" db:"project_id"`
	FileID    string                 `json:"file_id" db:"file_id"`
	Ordinal   int                    `json:"chunk_order" db:"ordinal"`
	Text      string                 `json:"chunk_text" db:"text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Embedding []float32              `json:"-" db:"-"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// Project is a logical namespace isolating one document collection.
// Key is the caller-facing identifier (alphanumeric only); ID is the
// surrogate identity assigned at creation.
type Project struct {
	ID        string    `json:"id" db:"id"`
	Key       string    `json:"project_id" db:"key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ValidProjectKey reports whether key is a non-empty alphanumeric project identifier.
func ValidProjectKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
