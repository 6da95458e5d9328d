package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragbase/ragbase/internal/embedding"
	"github.com/ragbase/ragbase/internal/models"
	"github.com/ragbase/ragbase/internal/storage"
	"github.com/ragbase/ragbase/internal/vector"
)

// Pipeline runs the full ingestion flow for one file: split into chunks,
// embed, persist to the chunk store, then project into the vector index.
// The chunk store write is authoritative; a vector index failure degrades
// the result (logged, search misses the file) but never fails the ingest.
type Pipeline struct {
	store     storage.Storage
	index     vector.Index
	provider  *embedding.Provider
	chunkSize int
	overlap   int
	logger    *zap.Logger
}

// Options override the pipeline's chunking defaults for one ingest call.
// Zero values fall back to the configured defaults. Reset drops any chunks
// and vectors previously stored for the file before ingesting.
type Options struct {
	ChunkSize int
	Overlap   int
	Reset     bool
}

// NewPipeline creates a pipeline with the given default chunk sizing.
func NewPipeline(store storage.Storage, index vector.Index, provider *embedding.Provider, chunkSize, overlap int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		index:     index,
		provider:  provider,
		chunkSize: chunkSize,
		overlap:   overlap,
		logger:    logger,
	}
}

// Ingest processes segments extracted from one file into the project named by
// projectKey. The project is created on first reference. Returns how many
// chunks were stored, embedded, and indexed.
func (p *Pipeline) Ingest(ctx context.Context, projectKey, fileID string, segments []models.Segment, opts Options) (*models.IngestResult, error) {
	start := time.Now()

	project, err := p.store.GetOrCreateProject(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("resolve project %q: %w", projectKey, err)
	}

	if opts.Reset {
		if err := p.reset(ctx, project, projectKey, fileID); err != nil {
			return nil, err
		}
	}

	chunkSize, overlap := p.chunkSize, p.overlap
	if opts.ChunkSize > 0 {
		chunkSize = opts.ChunkSize
	}
	if opts.Overlap > 0 {
		overlap = opts.Overlap
	}
	splitter, err := NewSplitter(chunkSize, overlap)
	if err != nil {
		return nil, fmt.Errorf("chunking parameters: %w", err)
	}

	pieces := splitter.Split(segments)
	result := &models.IngestResult{ProjectKey: projectKey, FileID: fileID}
	if len(pieces) == 0 {
		p.logger.Warn("no chunks produced",
			zap.String("project", projectKey),
			zap.String("file", fileID),
		)
		return result, nil
	}

	chunks := make([]*models.Chunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &models.Chunk{
			ProjectID: project.ID,
			FileID:    fileID,
			Ordinal:   i + 1,
			Text:      piece.Text,
			Metadata:  piece.Metadata,
		}
		texts[i] = piece.Text
	}

	// Embedding failure is non-fatal: chunks are still persisted and the
	// vectors can be rebuilt later from the chunk store.
	embeddings, err := p.provider.EmbedMany(ctx, texts)
	if err != nil {
		p.logger.Warn("embedding failed, storing chunks without vectors",
			zap.String("project", projectKey),
			zap.String("file", fileID),
			zap.Error(err),
		)
		embeddings = nil
	}
	// EmbedMany drops invalid entries, so a shorter result has lost
	// positional correspondence with chunks; attaching it would pair texts
	// with the wrong vectors. Store vectorless and let Reindex recover.
	if len(embeddings) > 0 && len(embeddings) != len(chunks) {
		p.logger.Warn("embedding count mismatch, storing chunks without vectors",
			zap.String("project", projectKey),
			zap.String("file", fileID),
			zap.Int("chunks", len(chunks)),
			zap.Int("embeddings", len(embeddings)),
		)
		embeddings = nil
	}

	saved, err := p.store.SaveChunks(ctx, chunks, project.ID, fileID, embeddings)
	if err != nil {
		return nil, fmt.Errorf("save chunks for %q: %w", fileID, err)
	}
	result.ChunkCount = saved
	result.EmbeddedCount = len(embeddings)

	if len(embeddings) > 0 {
		stored, err := p.index.Upsert(ctx, projectKey, chunks, embeddings, fileID)
		if err != nil {
			// The chunk store write already succeeded, so the file is
			// ingested; it just won't be searchable until reindexed.
			p.logger.Error("vector index write failed",
				zap.String("project", projectKey),
				zap.String("file", fileID),
				zap.Error(err),
			)
		} else {
			result.VectorsStored = stored
		}
	}

	p.logger.Info("file ingested",
		zap.String("project", projectKey),
		zap.String("file", fileID),
		zap.Int("chunks", result.ChunkCount),
		zap.Int("vectors", result.VectorsStored),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

// Reindex rebuilds a file's vector index entries from the chunk store,
// re-embedding its texts. Used when a previous ingest stored chunks but the
// embedding or index write failed.
func (p *Pipeline) Reindex(ctx context.Context, projectKey, fileID string) (int, error) {
	project, err := p.store.GetOrCreateProject(ctx, projectKey)
	if err != nil {
		return 0, fmt.Errorf("resolve project %q: %w", projectKey, err)
	}
	stored, err := p.store.ChunksByFile(ctx, project.ID, fileID)
	if err != nil {
		return 0, fmt.Errorf("load chunks for %q: %w", fileID, err)
	}

	// Blank-text chunks from older data cannot be embedded; keeping them
	// would misalign chunks and vectors.
	chunks := make([]*models.Chunk, 0, len(stored))
	texts := make([]string, 0, len(stored))
	for _, c := range stored {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		chunks = append(chunks, c)
		texts = append(texts, c.Text)
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	embeddings, err := p.provider.EmbedMany(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks for %q: %w", fileID, err)
	}
	return p.index.Upsert(ctx, projectKey, chunks, embeddings, fileID)
}

// reset removes everything previously stored for the file. A vector delete
// failure is tolerated because the following upsert overwrites by entry ID.
func (p *Pipeline) reset(ctx context.Context, project *models.Project, projectKey, fileID string) error {
	removed, err := p.store.DeleteChunksByFile(ctx, project.ID, fileID)
	if err != nil {
		return fmt.Errorf("reset chunks for %q: %w", fileID, err)
	}
	if _, err := p.index.DeleteByFile(ctx, projectKey, fileID); err != nil {
		p.logger.Warn("vector reset failed",
			zap.String("project", projectKey),
			zap.String("file", fileID),
			zap.Error(err),
		)
	}
	if removed > 0 {
		p.logger.Info("previous file data removed",
			zap.String("project", projectKey),
			zap.String("file", fileID),
			zap.Int("chunks", removed),
		)
	}
	return nil
}
