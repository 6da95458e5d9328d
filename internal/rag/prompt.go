package rag

import (
	"fmt"
	"strings"

	"github.com/ragbase/ragbase/internal/models"
)

// charsPerToken is the rough character-to-token ratio used to budget prompt
// size without a model-specific tokenizer.
const charsPerToken = 4

// EstimateTokens estimates the token count of s.
func EstimateTokens(s string) int {
	return len(s) / charsPerToken
}

// BuildPrompt assembles the generation prompt: numbered context blocks with
// their source file and similarity, followed by the question and citation
// instructions. budget, when positive, caps the prompt in estimated tokens;
// chunks that would exceed it are dropped, keeping at least one.
func BuildPrompt(query string, results []*models.RetrievalResult, budget int) string {
	var b strings.Builder
	b.WriteString("Answer the question based on the following context from the documents.\n\n")

	for i, r := range results {
		block := fmt.Sprintf("[Context %d] (source: %s, chunk %d, similarity: %.2f)\n%s\n\n",
			i+1, r.FileID, r.Ordinal, r.Similarity, r.Text)
		if budget > 0 && i > 0 && EstimateTokens(b.String()+block) > budget {
			break
		}
		b.WriteString(block)
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer the question using only the context above. ")
	b.WriteString("Cite the context numbers you used, like [Context 1]. ")
	b.WriteString("If the context does not contain the answer, say so.")
	return b.String()
}
