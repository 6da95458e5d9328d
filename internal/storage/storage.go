// Package storage defines the persistence interface for projects and chunks.
package storage

import (
	"context"

	"github.com/ragbase/ragbase/internal/models"
)

// Storage defines project and chunk persistence operations. The chunk store
// is the source of truth for chunk data; the vector index is a rebuildable
// projection of it.
type Storage interface {
	// Project operations. GetOrCreateProject implements get-or-create
	// semantics: the first reference to an unknown key creates the project,
	// so "project not found" never surfaces to callers.
	GetOrCreateProject(ctx context.Context, key string) (*models.Project, error)
	ListProjects(ctx context.Context, page, pageSize int) ([]*models.Project, int, error)

	// Chunk operations. SaveChunks assigns 1-based ordinals from input order,
	// attaches embeddings positionally when provided and in range, and is
	// all-or-nothing for the batch. An empty input returns 0 without
	// contacting the database.
	SaveChunks(ctx context.Context, chunks []*models.Chunk, projectID, fileID string, embeddings [][]float32) (int, error)
	ChunksByProject(ctx context.Context, projectID string, limit int) ([]*models.Chunk, error)
	ChunksByFile(ctx context.Context, projectID, fileID string) ([]*models.Chunk, error)
	DeleteChunksByFile(ctx context.Context, projectID, fileID string) (int, error)
	CountChunks(ctx context.Context, projectID string) (int64, error)

	Close() error
}
