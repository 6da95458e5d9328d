// Package vector provides per-project vector namespaces with nearest-neighbor
// search over chunk embeddings.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/ragbase/ragbase/internal/models"
)

// ErrInvalidQuery is returned when a query vector is empty or its dimension
// does not match the index. The check runs before any namespace access.
var ErrInvalidQuery = errors.New("invalid query vector")

// Index stores searchable chunk entries grouped into per-project namespaces.
// The index is a rebuildable projection of the chunk store, never the source
// of truth: losing it loses no chunk data.
type Index interface {
	// Upsert stores chunks with their vectors under the project's namespace
	// and returns the number of entries stored. Mismatched chunk/vector
	// counts are truncated to the shorter length; entries whose vector
	// dimension differs from the index dimension are skipped individually.
	Upsert(ctx context.Context, projectKey string, chunks []*models.Chunk, vectors [][]float32, fileID string) (int, error)

	// Search returns up to topK entries nearest to query, ordered by
	// ascending distance. fileFilter, when non-empty, restricts candidates
	// to one file before ranking. An empty namespace yields an empty result,
	// not an error.
	Search(ctx context.Context, projectKey string, query []float32, topK int, fileFilter string) ([]*Result, error)

	// DeleteByFile removes all entries for fileID and returns the count
	// removed. Deleting a file with no entries returns 0.
	DeleteByFile(ctx context.Context, projectKey, fileID string) (int, error)

	// Stats summarizes the project's namespace.
	Stats(ctx context.Context, projectKey string) (*NamespaceStats, error)

	Close() error
}

// Entry is one stored vector with its text duplicate and metadata snapshot.
type Entry struct {
	ID       string
	FileID   string
	Ordinal  int
	Text     string
	Vector   []float32
	Metadata map[string]interface{}
}

// Result is a single search hit.
type Result struct {
	ID       string                 `json:"chunk_id"`
	Text     string                 `json:"chunk_text"`
	FileID   string                 `json:"file_id"`
	Ordinal  int                    `json:"chunk_order"`
	Distance float64                `json:"distance"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NamespaceStats summarizes one project namespace.
type NamespaceStats struct {
	ProjectKey  string   `json:"project_id"`
	Namespace   string   `json:"namespace"`
	TotalChunks int      `json:"total_chunks"`
	UniqueFiles int      `json:"unique_files"`
	FileIDs     []string `json:"file_ids"`
}

// EntryID derives the deterministic entry identifier for a chunk. Same file
// and ordinal always map to the same ID, so re-ingesting a file overwrites
// its entries instead of duplicating them.
func EntryID(fileID string, ordinal int) string {
	return fmt.Sprintf("chunk_%s_%d", fileID, ordinal)
}
