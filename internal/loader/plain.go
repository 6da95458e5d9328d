package loader

import (
	"strings"
	"unicode/utf8"

	"github.com/ragbase/ragbase/internal/models"
)

// loadPlain returns content as a single segment, validating it is valid UTF-8.
// Invalid UTF-8 sequences are replaced with the replacement character.
func loadPlain(content []byte) ([]models.Segment, error) {
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return []models.Segment{{Text: text}}, nil
}
