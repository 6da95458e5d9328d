// Package rag orchestrates retrieval-augmented answering: embed the query,
// search the vector index, filter by similarity, and synthesize an answer
// with retrieved chunks as context.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragbase/ragbase/internal/embedding"
	"github.com/ragbase/ragbase/internal/llm"
	"github.com/ragbase/ragbase/internal/models"
	"github.com/ragbase/ragbase/internal/vector"
)

// noAnswerText is returned verbatim when retrieval finds nothing above the
// similarity threshold. Clients rely on a non-null answer in this case.
const noAnswerText = "I could not find relevant information in the documents to answer your question."

// Orchestrator wires the embedding provider, vector index, and answer
// generator into the two read-path operations: Retrieve and Answer.
type Orchestrator struct {
	provider      *embedding.Provider
	index         vector.Index
	generator     llm.Generator
	defaultTopK   int
	contextChunks int
	threshold     float64
	promptBudget  int
	logger        *zap.Logger
}

// NewOrchestrator creates an orchestrator. defaultTopK applies when a request
// does not specify one; threshold in [0,1] filters retrieved chunks by
// similarity; contextChunks caps how many chunks feed the prompt, and
// promptBudget caps the prompt in estimated tokens.
func NewOrchestrator(provider *embedding.Provider, index vector.Index, generator llm.Generator,
	defaultTopK, contextChunks int, threshold float64, promptBudget int, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTopK < 1 {
		defaultTopK = 5
	}
	if contextChunks < 1 {
		contextChunks = defaultTopK
	}
	return &Orchestrator{
		provider:      provider,
		index:         index,
		generator:     generator,
		defaultTopK:   defaultTopK,
		contextChunks: contextChunks,
		threshold:     threshold,
		promptBudget:  promptBudget,
		logger:        logger,
	}
}

// Retrieve embeds query and returns up to topK chunks from the project's
// namespace whose similarity clears the configured threshold, ordered by
// ascending distance. fileID, when non-empty, restricts the search to one
// file. A blank query fails before the index is touched.
func (o *Orchestrator) Retrieve(ctx context.Context, projectKey, query string, topK int, fileID string) ([]*models.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", vector.ErrInvalidQuery)
	}
	if topK < 1 {
		topK = o.defaultTopK
	}

	start := time.Now()
	queryVec, err := o.provider.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := o.index.Search(ctx, projectKey, queryVec, topK, fileID)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", projectKey, err)
	}

	results := make([]*models.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		similarity := vector.SimilarityFromDistance(hit.Distance)
		if similarity < o.threshold {
			continue
		}
		results = append(results, &models.RetrievalResult{
			EntryID:    hit.ID,
			Text:       hit.Text,
			FileID:     hit.FileID,
			Ordinal:    hit.Ordinal,
			Distance:   hit.Distance,
			Similarity: similarity,
			Metadata:   hit.Metadata,
		})
	}

	o.logger.Debug("retrieval complete",
		zap.String("project", projectKey),
		zap.Int("hits", len(hits)),
		zap.Int("above_threshold", len(results)),
		zap.Duration("took", time.Since(start)),
	)
	return results, nil
}

// Answer runs Retrieve and synthesizes an answer from the results. Retrieval
// failures are returned as errors; generation failures degrade the response
// instead, keeping the retrieved chunks available to the caller.
func (o *Orchestrator) Answer(ctx context.Context, projectKey, query string, topK int, fileID string) (*models.Answer, error) {
	results, err := o.Retrieve(ctx, projectKey, query, topK, fileID)
	if err != nil {
		return nil, err
	}

	answer := &models.Answer{Query: query, ChunksRetrieved: len(results)}
	if len(results) == 0 {
		text := noAnswerText
		answer.Text = &text
		answer.Note = "no relevant chunks found above the similarity threshold"
		return answer, nil
	}

	contextResults := results
	if len(contextResults) > o.contextChunks {
		contextResults = contextResults[:o.contextChunks]
	}
	sources := FormatSources(contextResults)

	if o.generator == nil || !o.generator.Available() {
		answer.SearchResults = sources
		answer.Error = "answer generation unavailable: no language model configured"
		return answer, nil
	}

	prompt := BuildPrompt(query, contextResults, o.promptBudget)
	text, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		o.logger.Error("answer generation failed",
			zap.String("project", projectKey),
			zap.Error(err),
		)
		answer.SearchResults = sources
		answer.Error = fmt.Sprintf("answer generation failed: %v", err)
		answer.Warning = "search results are available but no answer could be generated"
		return answer, nil
	}

	answer.Text = &text
	answer.Sources = sources
	answer.SearchResults = sources
	return answer, nil
}
