package loader

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/ragbase/ragbase/internal/models"
)

// loadCSV extracts one segment per record, fields joined as "header: value"
// lines when a header row exists, with the 1-based row number in metadata.
func loadCSV(content []byte) ([]models.Segment, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	segments := make([]models.Segment, 0, len(records)-1)
	for i, record := range records[1:] {
		var b strings.Builder
		for j, field := range record {
			if j > 0 {
				b.WriteByte('\n')
			}
			if j < len(header) {
				b.WriteString(header[j])
				b.WriteString(": ")
			}
			b.WriteString(field)
		}
		segments = append(segments, models.Segment{
			Text:     b.String(),
			Metadata: map[string]interface{}{"row": i + 1},
		})
	}
	return segments, nil
}
