// Package embedding provides text-to-vector embedding with batching,
// validation, and a process-wide model cache.
package embedding

import (
	"context"
	"errors"
)

// Embedder is a loaded embedding model backend. Implementations must be safe
// for concurrent use after construction.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrEmptyText is returned by EmbedOne for an empty input.
var ErrEmptyText = errors.New("text must be a non-empty string")

// ErrModelLoad is returned when an embedding backend cannot be constructed.
// Model load failures are fatal and never retried.
var ErrModelLoad = errors.New("failed to load embedding model")
