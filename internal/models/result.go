package models

// RetrievalResult is one retrieved chunk with its raw distance and the
// similarity score derived from it. Ephemeral, never persisted.
type RetrievalResult struct {
	EntryID    string                 `json:"chunk_id"`
	Text       string                 `json:"chunk_text"`
	FileID     string                 `json:"file_id"`
	Ordinal    int                    `json:"chunk_order"`
	Distance   float64                `json:"distance"`
	Similarity float64                `json:"similarity"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Source is a citation for one chunk used to answer a query. Excerpt is the
// chunk text truncated to 200 characters.
type Source struct {
	Index      int     `json:"source_index"`
	FileID     string  `json:"file_id"`
	Ordinal    int     `json:"chunk_order"`
	Excerpt    string  `json:"chunk_text"`
	Similarity float64 `json:"similarity"`
}

// Answer is the result of a chat query. Text is nil when the answer could not
// be generated; SearchResults then carries the retrieved sources and Error
// explains the degradation. A populated Error with a non-nil Text never occurs.
type Answer struct {
	Text            *string   `json:"answer"`
	Sources         []*Source `json:"sources,omitempty"`
	SearchResults   []*Source `json:"search_results,omitempty"`
	Query           string    `json:"query"`
	ChunksRetrieved int       `json:"chunks_retrieved"`
	Error           string    `json:"error,omitempty"`
	Warning         string    `json:"warning,omitempty"`
	Note            string    `json:"note,omitempty"`
}

// IngestResult summarizes one ingestion run for a file.
type IngestResult struct {
	ProjectKey    string `json:"project_id"`
	FileID        string `json:"file_id"`
	ChunkCount    int    `json:"chunk_count"`
	EmbeddedCount int    `json:"embedded_count"`
	VectorsStored int    `json:"vectors_stored"`
}

// SearchRequest is the transport-level body for search and chat.
type SearchRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

// ProcessRequest is the transport-level body for processing an uploaded file.
type ProcessRequest struct {
	FileID      string `json:"file_id"`
	ChunkSize   int    `json:"chunk_size,omitempty"`
	OverlapSize int    `json:"overlap_size,omitempty"`
	DoReset     int    `json:"do_reset,omitempty"`
}
