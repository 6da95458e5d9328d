package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ragbase/ragbase/internal/embedding"
	"github.com/ragbase/ragbase/internal/models"
	"github.com/ragbase/ragbase/internal/storage"
	"github.com/ragbase/ragbase/internal/vector"
)

type failingEmbedder struct{ dims int }

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("backend down")
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("backend down")
}

func (f *failingEmbedder) Dimensions() int { return f.dims }
func (f *failingEmbedder) Close() error    { return nil }

func testPipeline(t *testing.T, backend embedding.Embedder) (*Pipeline, storage.Storage, vector.Index) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	index, err := vector.NewStore(t.TempDir(), "collection_", backend.Dimensions(), nil)
	if err != nil {
		t.Fatalf("vector store error: %v", err)
	}
	provider := embedding.NewProvider(backend, 4, nil)
	return NewPipeline(store, index, provider, 100, 20, nil), store, index
}

func TestIngestStoresChunksAndVectors(t *testing.T) {
	p, store, index := testPipeline(t, embedding.NewHashEmbedder(16))
	ctx := context.Background()

	segments := []models.Segment{
		{Text: "First paragraph of the document.\n\n" + strings.Repeat("More text here. ", 10)},
	}
	result, err := p.Ingest(ctx, "docs", "report.txt", segments, Options{})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if result.ChunkCount == 0 {
		t.Fatal("no chunks stored")
	}
	if result.VectorsStored != result.ChunkCount {
		t.Errorf("vectors stored = %d, chunks = %d", result.VectorsStored, result.ChunkCount)
	}
	if result.EmbeddedCount != result.ChunkCount {
		t.Errorf("embedded = %d, chunks = %d", result.EmbeddedCount, result.ChunkCount)
	}

	project, err := store.GetOrCreateProject(ctx, "docs")
	if err != nil {
		t.Fatalf("project error: %v", err)
	}
	chunks, err := store.ChunksByFile(ctx, project.ID, "report.txt")
	if err != nil {
		t.Fatalf("ChunksByFile error: %v", err)
	}
	if len(chunks) != result.ChunkCount {
		t.Fatalf("persisted %d chunks, result says %d", len(chunks), result.ChunkCount)
	}
	for i, c := range chunks {
		if c.Ordinal != i+1 {
			t.Errorf("ordinal %d at position %d", c.Ordinal, i)
		}
	}

	stats, err := index.Stats(ctx, "docs")
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.TotalChunks != result.VectorsStored {
		t.Errorf("index holds %d vectors, result says %d", stats.TotalChunks, result.VectorsStored)
	}
}

func TestIngestEmbeddingFailureStillStoresChunks(t *testing.T) {
	p, store, index := testPipeline(t, &failingEmbedder{dims: 16})
	ctx := context.Background()

	result, err := p.Ingest(ctx, "docs", "doc.txt",
		[]models.Segment{{Text: "some content to ingest"}}, Options{})
	if err != nil {
		t.Fatalf("Ingest must not fail on embedding error: %v", err)
	}
	if result.ChunkCount != 1 {
		t.Errorf("chunks = %d, want 1", result.ChunkCount)
	}
	if result.EmbeddedCount != 0 || result.VectorsStored != 0 {
		t.Errorf("degraded ingest: embedded=%d vectors=%d, want 0/0",
			result.EmbeddedCount, result.VectorsStored)
	}

	project, _ := store.GetOrCreateProject(ctx, "docs")
	chunks, _ := store.ChunksByFile(ctx, project.ID, "doc.txt")
	if len(chunks) != 1 {
		t.Errorf("chunk store must hold the chunk regardless: %d", len(chunks))
	}
	stats, _ := index.Stats(ctx, "docs")
	if stats.TotalChunks != 0 {
		t.Errorf("index must stay empty: %d", stats.TotalChunks)
	}
}

func TestIngestEmptySegments(t *testing.T) {
	p, _, _ := testPipeline(t, embedding.NewHashEmbedder(16))
	result, err := p.Ingest(context.Background(), "docs", "empty.txt", nil, Options{})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if result.ChunkCount != 0 || result.VectorsStored != 0 {
		t.Errorf("empty input: %+v", result)
	}
}

func TestIngestResetDropsPreviousData(t *testing.T) {
	p, store, _ := testPipeline(t, embedding.NewHashEmbedder(16))
	ctx := context.Background()

	long := []models.Segment{{Text: strings.Repeat("old content. ", 30)}}
	if _, err := p.Ingest(ctx, "docs", "doc.txt", long, Options{}); err != nil {
		t.Fatalf("first ingest error: %v", err)
	}

	short := []models.Segment{{Text: "new short content"}}
	result, err := p.Ingest(ctx, "docs", "doc.txt", short, Options{Reset: true})
	if err != nil {
		t.Fatalf("reset ingest error: %v", err)
	}
	if result.ChunkCount != 1 {
		t.Fatalf("chunks after reset = %d, want 1", result.ChunkCount)
	}

	project, _ := store.GetOrCreateProject(ctx, "docs")
	chunks, _ := store.ChunksByFile(ctx, project.ID, "doc.txt")
	if len(chunks) != 1 {
		t.Errorf("reset must drop stale chunks: %d remain", len(chunks))
	}
}

func TestIngestCustomChunkSizing(t *testing.T) {
	p, _, _ := testPipeline(t, embedding.NewHashEmbedder(16))
	segments := []models.Segment{{Text: strings.Repeat("word ", 50)}}

	result, err := p.Ingest(context.Background(), "docs", "doc.txt", segments,
		Options{ChunkSize: 40, Overlap: 5})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if result.ChunkCount < 5 {
		t.Errorf("small chunk size must produce more chunks: got %d", result.ChunkCount)
	}
}

func TestIngestInvalidChunkSizing(t *testing.T) {
	p, _, _ := testPipeline(t, embedding.NewHashEmbedder(16))
	_, err := p.Ingest(context.Background(), "docs", "doc.txt",
		[]models.Segment{{Text: "text"}}, Options{ChunkSize: 50, Overlap: 60})
	if err == nil {
		t.Fatal("overlap > chunk size must fail")
	}
}

func TestReindexRebuildsVectors(t *testing.T) {
	// First ingest with a dead backend leaves chunks without vectors.
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	defer store.Close()
	index, err := vector.NewStore(t.TempDir(), "collection_", 16, nil)
	if err != nil {
		t.Fatalf("vector store error: %v", err)
	}
	ctx := context.Background()

	broken := NewPipeline(store, index,
		embedding.NewProvider(&failingEmbedder{dims: 16}, 4, nil), 100, 20, nil)
	if _, err := broken.Ingest(ctx, "docs", "doc.txt",
		[]models.Segment{{Text: "recoverable content"}}, Options{}); err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	healthy := NewPipeline(store, index,
		embedding.NewProvider(embedding.NewHashEmbedder(16), 4, nil), 100, 20, nil)
	stored, err := healthy.Reindex(ctx, "docs", "doc.txt")
	if err != nil {
		t.Fatalf("Reindex error: %v", err)
	}
	if stored != 1 {
		t.Errorf("reindexed = %d, want 1", stored)
	}
	stats, _ := index.Stats(ctx, "docs")
	if stats.TotalChunks != 1 {
		t.Errorf("index after reindex = %d, want 1", stats.TotalChunks)
	}
}

func TestIngestWhitespaceRunKeepsAlignment(t *testing.T) {
	p, store, index := testPipeline(t, embedding.NewHashEmbedder(16))
	ctx := context.Background()

	// A whitespace run longer than the chunk size must not desync chunk
	// texts from their vectors.
	text := strings.Repeat("alpha", 4) + strings.Repeat(" ", 40) + strings.Repeat("omega", 4)
	result, err := p.Ingest(ctx, "docs", "gaps.txt",
		[]models.Segment{{Text: text}}, Options{ChunkSize: 20, Overlap: 4})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if result.EmbeddedCount != result.ChunkCount || result.VectorsStored != result.ChunkCount {
		t.Fatalf("chunks=%d embedded=%d vectors=%d, want all equal",
			result.ChunkCount, result.EmbeddedCount, result.VectorsStored)
	}

	project, _ := store.GetOrCreateProject(ctx, "docs")
	chunks, _ := store.ChunksByFile(ctx, project.ID, "gaps.txt")
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			t.Errorf("stored chunk %d is whitespace-only", i)
		}
	}

	// Each indexed entry must carry its own chunk's vector: searching with
	// the exact text of the last chunk has to return that chunk.
	last := chunks[len(chunks)-1].Text
	provider := embedding.NewProvider(embedding.NewHashEmbedder(16), 4, nil)
	query, err := provider.EmbedOne(ctx, last)
	if err != nil {
		t.Fatalf("EmbedOne error: %v", err)
	}
	results, err := index.Search(ctx, "docs", query, 1, "")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(results) != 1 || results[0].Text != last {
		t.Fatalf("nearest entry = %+v, want text %q", results, last)
	}
}
