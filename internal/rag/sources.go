package rag

import (
	"github.com/ragbase/ragbase/internal/models"
	"github.com/ragbase/ragbase/pkg/utils"
)

// excerptLen bounds the chunk text carried in a citation.
const excerptLen = 200

// FormatSources converts retrieval results into client-facing citations,
// numbered from 1 in result order, with chunk text cut to a short excerpt.
func FormatSources(results []*models.RetrievalResult) []*models.Source {
	sources := make([]*models.Source, len(results))
	for i, r := range results {
		sources[i] = &models.Source{
			Index:      i + 1,
			FileID:     r.FileID,
			Ordinal:    r.Ordinal,
			Excerpt:    utils.Truncate(r.Text, excerptLen),
			Similarity: r.Similarity,
		}
	}
	return sources
}
