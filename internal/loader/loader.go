// Package loader reads document files into ordered text segments with
// per-segment metadata. It is the only place that knows about file formats;
// the ingestion pipeline consumes segments and nothing else.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ragbase/ragbase/internal/models"
)

// ErrUnsupportedType is returned for file extensions no loader handles.
var ErrUnsupportedType = errors.New("unsupported file type")

// ErrNotFound is returned when the file does not exist.
var ErrNotFound = errors.New("file not found")

// Loader loads document files into segments.
type Loader struct{}

// NewLoader returns a new Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// SupportedExtensions lists the extensions Load accepts, with leading dots.
func (l *Loader) SupportedExtensions() []string {
	return []string{".txt", ".md", ".rst", ".pdf", ".docx", ".csv", ".xlsx"}
}

// Load reads the file at path and returns its content as ordered segments.
// Page-, sheet-, and row-structured formats produce one segment per unit with
// origin metadata attached; plain text produces a single segment.
func (l *Loader) Load(path string) ([]models.Segment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	segments, err := l.LoadBytes(content, ext)
	if err != nil {
		return nil, err
	}
	source := filepath.Base(path)
	for i := range segments {
		if segments[i].Metadata == nil {
			segments[i].Metadata = make(map[string]interface{})
		}
		segments[i].Metadata["source"] = source
	}
	return segments, nil
}

// LoadBytes parses content according to ext. ext should include the leading
// dot (e.g. ".pdf").
func (l *Loader) LoadBytes(content []byte, ext string) ([]models.Segment, error) {
	switch ext {
	case ".pdf":
		return loadPDF(content)
	case ".docx":
		return loadDOCX(content)
	case ".xlsx":
		return loadExcel(content)
	case ".csv":
		return loadCSV(content)
	case ".txt", ".md", ".rst", "":
		return loadPlain(content)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
}
