package embedding

import "strings"

// BERT special token IDs and the hash vocabulary size.
const (
	clsTokenID = 101
	sepTokenID = 102
	vocabSize  = 30000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// WordTokenizer is a whitespace tokenizer with hash-based token IDs. It is a
// stand-in for a real wordpiece vocabulary; retrieval quality depends on the
// same tokenizer being used for documents and queries, which it is.
type WordTokenizer struct{}

// Tokenize maps text to [CLS] word-ids... [SEP] padded to maxTokens, with
// the attention mask marking the occupied positions.
func (t *WordTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	words := strings.Fields(text)
	if len(words) > maxTokens-2 {
		words = words[:maxTokens-2]
	}

	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	for i, word := range words {
		inputIDs[i+1] = int64(hashString(word) % vocabSize)
	}
	inputIDs[len(words)+1] = sepTokenID
	for i := 0; i < len(words)+2; i++ {
		attentionMask[i] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}
