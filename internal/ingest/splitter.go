// Package ingest provides document chunking and the ingestion pipeline.
package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ragbase/ragbase/internal/models"
)

// separators are tried largest-boundary-first when cutting a chunk:
// paragraph break, line break, sentence end, word boundary.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter splits segment text into overlapping character-bounded chunks,
// preferring semantic boundaries over hard cuts.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter creates a splitter. chunkSize and overlap are in bytes of text;
// both must be positive and overlap must be smaller than chunkSize.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunk size), got %d", overlap)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

// Split chunks every segment and concatenates the results in segment order.
// Each chunk inherits its segment's metadata. Blank segments produce no
// chunks; chunk text is never empty.
func (s *Splitter) Split(segments []models.Segment) []models.Segment {
	out := make([]models.Segment, 0)
	for _, seg := range segments {
		for _, text := range s.splitText(seg.Text) {
			out = append(out, models.Segment{Text: text, Metadata: seg.Metadata})
		}
	}
	return out
}

// splitText splits text into pieces of at most chunkSize bytes, consecutive
// pieces sharing overlap trailing/leading bytes.
func (s *Splitter) splitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	chunks := make([]string, 0, len(text)/(s.chunkSize-s.overlap)+1)
	start := 0
	for {
		if len(text)-start <= s.chunkSize {
			if piece := text[start:]; strings.TrimSpace(piece) != "" {
				chunks = append(chunks, piece)
			}
			break
		}
		cut := s.cutPoint(text, start, start+s.chunkSize)
		// A whitespace run longer than the chunk size yields blank pieces;
		// they carry no text worth storing or embedding.
		if piece := text[start:cut]; strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		next := cut - s.overlap
		// Always move forward even when overlap swallows the whole chunk.
		if next <= start {
			next = start + 1
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return chunks
}

// cutPoint returns the end offset for a chunk starting at start, preferring
// in order a paragraph break, a line break, a sentence end, and a word
// boundary within the window; falls back to the hard size limit on a rune
// boundary.
func (s *Splitter) cutPoint(text string, start, limit int) int {
	window := text[start:limit]
	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i > 0 {
			return start + i + len(sep)
		}
	}
	for limit > start+1 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return limit
}
