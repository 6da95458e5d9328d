package loader

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/ragbase/ragbase/internal/models"
)

// loadPDF extracts one segment per page, with the 1-based page number in metadata.
func loadPDF(content []byte) ([]models.Segment, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	segments := make([]models.Segment, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		segments = append(segments, models.Segment{
			Text:     text,
			Metadata: map[string]interface{}{"page": i},
		})
	}
	return segments, nil
}
