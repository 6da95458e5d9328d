// Package llm provides answer generation over a chat-completion backend.
package llm

import (
	"context"
	"errors"
)

// ErrGeneratorUnavailable is returned when no generation backend is
// configured. Retrieval still works; only answer synthesis is skipped.
var ErrGeneratorUnavailable = errors.New("answer generator unavailable")

// Generator produces a natural-language answer from a fully built prompt.
type Generator interface {
	// Generate completes the prompt and returns the model's answer text.
	Generate(ctx context.Context, prompt string) (string, error)

	// Available reports whether the backend is configured and usable.
	Available() bool
}
