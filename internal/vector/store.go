package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ragbase/ragbase/internal/models"
	"go.uber.org/zap"
)

// Store implements Index with one brute-force namespace per project, each
// persisted as a binary file under the store directory. Namespaces are
// created lazily on first access; the namespace name is derived purely from
// the project key, so the mapping is collision-free for alphanumeric keys.
type Store struct {
	dir        string
	prefix     string
	dimensions int
	logger     *zap.Logger

	mu         sync.Mutex
	namespaces map[string]*namespace
}

// namespace holds one project's entries in insertion order. Search ties are
// broken by that order (sort.SliceStable).
type namespace struct {
	name string
	path string

	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]int
}

// NewStore creates a vector store rooted at dir. The directory is created if
// it does not exist.
func NewStore(dir, prefix string, dimensions int, logger *zap.Logger) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create vector store dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:        dir,
		prefix:     prefix,
		dimensions: dimensions,
		logger:     logger,
		namespaces: make(map[string]*namespace),
	}, nil
}

// Dimensions returns the configured vector dimension.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// namespaceFor returns the project's namespace, loading it from disk on first
// access or creating it empty.
func (s *Store) namespaceFor(projectKey string) (*namespace, error) {
	name := s.prefix + projectKey
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.namespaces[name]; ok {
		return ns, nil
	}
	ns := &namespace{
		name: name,
		path: filepath.Join(s.dir, name+".vec"),
		byID: make(map[string]int),
	}
	if err := ns.load(s.dimensions); err != nil {
		return nil, fmt.Errorf("load namespace %s: %w", name, err)
	}
	s.namespaces[name] = ns
	return ns, nil
}

// Upsert stores chunks with their vectors. Count mismatches are truncated to
// the shorter length and dimension-mismatched vectors are skipped per entry;
// a partial ingest is preferred over no ingest.
func (s *Store) Upsert(ctx context.Context, projectKey string, chunks []*models.Chunk, vectors [][]float32, fileID string) (int, error) {
	if len(chunks) == 0 || len(vectors) == 0 {
		return 0, nil
	}
	if len(chunks) != len(vectors) {
		s.logger.Warn("chunk count does not match vector count, truncating",
			zap.Int("chunks", len(chunks)),
			zap.Int("vectors", len(vectors)),
		)
		n := len(chunks)
		if len(vectors) < n {
			n = len(vectors)
		}
		chunks = chunks[:n]
		vectors = vectors[:n]
	}

	ns, err := s.namespaceFor(projectKey)
	if err != nil {
		return 0, err
	}

	ns.mu.Lock()
	stored := 0
	for i, chunk := range chunks {
		if len(vectors[i]) != s.dimensions {
			s.logger.Warn("embedding dimension mismatch, skipping entry",
				zap.String("file_id", fileID),
				zap.Int("ordinal", chunk.Ordinal),
				zap.Int("expected", s.dimensions),
				zap.Int("got", len(vectors[i])),
			)
			continue
		}
		vec := make([]float32, s.dimensions)
		copy(vec, vectors[i])
		entry := &Entry{
			ID:       EntryID(fileID, chunk.Ordinal),
			FileID:   fileID,
			Ordinal:  chunk.Ordinal,
			Text:     chunk.Text,
			Vector:   vec,
			Metadata: entryMetadata(projectKey, fileID, chunk),
		}
		if pos, ok := ns.byID[entry.ID]; ok {
			ns.entries[pos] = entry
		} else {
			ns.byID[entry.ID] = len(ns.entries)
			ns.entries = append(ns.entries, entry)
		}
		stored++
	}
	err = ns.save(s.dimensions)
	ns.mu.Unlock()
	if err != nil {
		return stored, fmt.Errorf("persist namespace %s: %w", ns.name, err)
	}
	s.logger.Info("vectors upserted",
		zap.String("namespace", ns.name),
		zap.String("file_id", fileID),
		zap.Int("stored", stored),
	)
	return stored, nil
}

// Search returns up to topK entries nearest to query, ordered by ascending
// cosine distance. The file filter is applied before ranking so a filtered
// search still returns up to topK results.
func (s *Store) Search(ctx context.Context, projectKey string, query []float32, topK int, fileFilter string) ([]*Result, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidQuery)
	}
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("%w: dimension mismatch: expected %d, got %d", ErrInvalidQuery, s.dimensions, len(query))
	}
	ns, err := s.namespaceFor(projectKey)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	results := make([]*Result, 0, len(ns.entries))
	for _, e := range ns.entries {
		if fileFilter != "" && e.FileID != fileFilter {
			continue
		}
		results = append(results, &Result{
			ID:       e.ID,
			Text:     e.Text,
			FileID:   e.FileID,
			Ordinal:  e.Ordinal,
			Distance: CosineDistance(query, e.Vector),
			Metadata: e.Metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByFile removes all entries for fileID. Idempotent: a file with no
// entries yields 0, not an error.
func (s *Store) DeleteByFile(ctx context.Context, projectKey, fileID string) (int, error) {
	ns, err := s.namespaceFor(projectKey)
	if err != nil {
		return 0, err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()

	kept := make([]*Entry, 0, len(ns.entries))
	deleted := 0
	for _, e := range ns.entries {
		if e.FileID == fileID {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	if deleted == 0 {
		return 0, nil
	}
	ns.entries = kept
	ns.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		ns.byID[e.ID] = i
	}
	if err := ns.save(s.dimensions); err != nil {
		return deleted, fmt.Errorf("persist namespace %s: %w", ns.name, err)
	}
	s.logger.Info("vectors deleted",
		zap.String("namespace", ns.name),
		zap.String("file_id", fileID),
		zap.Int("deleted", deleted),
	)
	return deleted, nil
}

// Stats summarizes the project's namespace.
func (s *Store) Stats(ctx context.Context, projectKey string) (*NamespaceStats, error) {
	ns, err := s.namespaceFor(projectKey)
	if err != nil {
		return nil, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	seen := make(map[string]bool)
	fileIDs := make([]string, 0)
	for _, e := range ns.entries {
		if !seen[e.FileID] {
			seen[e.FileID] = true
			fileIDs = append(fileIDs, e.FileID)
		}
	}
	sort.Strings(fileIDs)
	return &NamespaceStats{
		ProjectKey:  projectKey,
		Namespace:   ns.name,
		TotalChunks: len(ns.entries),
		UniqueFiles: len(fileIDs),
		FileIDs:     fileIDs,
	}, nil
}

// Close flushes nothing: namespaces persist on every mutation.
func (s *Store) Close() error {
	return nil
}

// entryMetadata builds the metadata snapshot stored with an entry: ordinal,
// file and project identifiers, plus chunk-origin metadata coerced to
// index-safe scalar types.
func entryMetadata(projectKey, fileID string, chunk *models.Chunk) map[string]interface{} {
	meta := map[string]interface{}{
		"chunk_order": chunk.Ordinal,
		"file_id":     fileID,
		"project_id":  projectKey,
	}
	for k, v := range chunk.Metadata {
		switch v := v.(type) {
		case string, bool, int, int64, float64:
			meta[k] = v
		default:
			meta[k] = fmt.Sprint(v)
		}
	}
	return meta
}

// Namespace file format, little endian, adapted from a flat
// dimension-count-payload layout: u32 dimension, u32 count, then per entry:
// u32 id length, id bytes, u32 file id length, file id bytes, u32 ordinal,
// vector (dimension * 4 bytes), u32 text length, text bytes, u32 metadata
// length, metadata JSON.

// load reads the namespace file if it exists; a missing file leaves the
// namespace empty.
func (ns *namespace) load(dimensions int) error {
	f, err := os.Open(ns.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open namespace file: %w", err)
	}
	defer f.Close()

	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, store expects %d", dim, dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	entries := make([]*Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		e := &Entry{}
		if e.ID, err = readString(f); err != nil {
			return fmt.Errorf("read entry %d id: %w", i, err)
		}
		if e.FileID, err = readString(f); err != nil {
			return fmt.Errorf("read entry %d file id: %w", i, err)
		}
		var ordinal uint32
		if err := binary.Read(f, binary.LittleEndian, &ordinal); err != nil {
			return fmt.Errorf("read entry %d ordinal: %w", i, err)
		}
		e.Ordinal = int(ordinal)
		buf := make([]byte, dimensions*4)
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read entry %d vector: %w", i, err)
		}
		e.Vector = bytesToFloat32s(buf)
		if e.Text, err = readString(f); err != nil {
			return fmt.Errorf("read entry %d text: %w", i, err)
		}
		metaJSON, err := readString(f)
		if err != nil {
			return fmt.Errorf("read entry %d metadata: %w", i, err)
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
				return fmt.Errorf("decode entry %d metadata: %w", i, err)
			}
		}
		entries = append(entries, e)
	}
	ns.entries = entries
	ns.byID = make(map[string]int, len(entries))
	for i, e := range entries {
		ns.byID[e.ID] = i
	}
	return nil
}

// save writes the namespace file atomically (write to temp, rename).
func (ns *namespace) save(dimensions int) error {
	tmp := ns.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create namespace file: %w", err)
	}
	if err := writeNamespace(f, dimensions, ns.entries); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close namespace file: %w", err)
	}
	return os.Rename(tmp, ns.path)
}

func writeNamespace(w io.Writer, dimensions int, entries []*Entry) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, e := range entries {
		if err := writeString(w, e.ID); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := writeString(w, e.FileID); err != nil {
			return fmt.Errorf("write file id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(e.Ordinal)); err != nil {
			return fmt.Errorf("write ordinal: %w", err)
		}
		if _, err := w.Write(float32sToBytes(e.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		if err := writeString(w, e.Text); err != nil {
			return fmt.Errorf("write text: %w", err)
		}
		metaJSON := ""
		if e.Metadata != nil {
			data, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			metaJSON = string(data)
		}
		if err := writeString(w, metaJSON); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func float32sToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32s(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
