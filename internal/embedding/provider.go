package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ragbase/ragbase/internal/config"
	"go.uber.org/zap"
)

// Provider wraps an embedding backend with the input-validation and batching
// policy used by ingestion and retrieval: empty input is an error, a
// whitespace-only input yields an all-zero placeholder vector, and batch
// inputs are cleaned, partitioned into fixed-size batches, and embedded
// batch by batch.
type Provider struct {
	backend   Embedder
	batchSize int
	logger    *zap.Logger
}

// NewProvider creates a provider over backend. batchSize bounds the number of
// texts sent to the backend per call; values below 1 are treated as 1.
func NewProvider(backend Embedder, batchSize int, logger *zap.Logger) *Provider {
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{backend: backend, batchSize: batchSize, logger: logger}
}

// Dimensions returns the embedding dimension of the underlying backend.
func (p *Provider) Dimensions() int {
	return p.backend.Dimensions()
}

// EmbedOne embeds a single text. An empty text returns ErrEmptyText; a
// whitespace-only text returns an all-zero vector of the configured dimension
// so documents with blank chunks still produce a placeholder. The returned
// vector has unit L2 norm.
func (p *Provider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if strings.TrimSpace(text) == "" {
		p.logger.Warn("whitespace-only text, returning zero vector")
		return make([]float32, p.backend.Dimensions()), nil
	}
	vec, err := p.backend.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	NormalizeL2(vec)
	return vec, nil
}

// EmbedMany embeds texts in fixed-size batches. Empty and whitespace-only
// entries are skipped (logged, not an error), so the output may be shorter
// than the input; the returned vectors follow the original relative order of
// the valid entries. An empty or all-invalid input returns nil.
func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		p.logger.Warn("empty texts list provided")
		return nil, nil
	}

	valid := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			p.logger.Warn("skipping empty text", zap.Int("index", i))
			continue
		}
		valid = append(valid, text)
	}
	if len(valid) == 0 {
		p.logger.Warn("no valid texts after filtering")
		return nil, nil
	}

	all := make([][]float32, 0, len(valid))
	for start := 0; start < len(valid); start += p.batchSize {
		end := start + p.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch, err := p.backend.EmbedBatch(ctx, valid[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", start/p.batchSize+1, err)
		}
		for _, vec := range batch {
			NormalizeL2(vec)
		}
		all = append(all, batch...)
	}
	p.logger.Debug("generated embeddings",
		zap.Int("requested", len(texts)),
		zap.Int("embedded", len(all)),
	)
	return all, nil
}

// NormalizeL2 scales x in place to unit L2 norm. A zero vector is left unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}

// backends caches loaded embedding backends process-wide, keyed by model
// name, so repeated provider construction with the same configuration shares
// one loaded model instead of reloading per call.
var (
	backendsMu sync.Mutex
	backends   = make(map[string]Embedder)
)

// OpenBackend returns the shared embedding backend for cfg, loading it on
// first use. Wraps ErrModelLoad when the backend cannot be constructed.
func OpenBackend(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	key := cfg.Backend + ":" + cfg.Model
	if b, ok := backends[key]; ok {
		return b, nil
	}

	var (
		b   Embedder
		err error
	)
	switch cfg.Backend {
	case "openai":
		b, err = NewOpenAIEmbedder(cfg.Model, cfg.Dimensions)
	case "onnx":
		b, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
	case "hash":
		b = NewHashEmbedder(cfg.Dimensions)
	default:
		err = fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, cfg.Model, err)
	}
	if logger != nil {
		logger.Info("embedding backend loaded",
			zap.String("backend", cfg.Backend),
			zap.String("model", cfg.Model),
			zap.Int("dimensions", b.Dimensions()),
		)
	}
	backends[key] = b
	return b, nil
}
