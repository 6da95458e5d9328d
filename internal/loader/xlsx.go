package loader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ragbase/ragbase/internal/models"
	"github.com/xuri/excelize/v2"
)

// loadExcel extracts one segment per sheet, rows joined with tabs, with the
// sheet name in metadata.
func loadExcel(content []byte) ([]models.Segment, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	segments := make([]models.Segment, 0)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
		text := strings.TrimSpace(buf.String())
		if text == "" {
			continue
		}
		segments = append(segments, models.Segment{
			Text:     text,
			Metadata: map[string]interface{}{"sheet": sheet},
		})
	}
	return segments, nil
}
