package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ragbase/ragbase/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_file_ordinal ON chunks(project_id, file_id, ordinal);
	`
	_, err := db.Exec(schema)
	return err
}

// GetOrCreateProject returns the project for key, creating it when first
// referenced. Concurrent creators race on the unique key; the loser re-reads
// the winner's row.
func (s *SQLiteStorage) GetOrCreateProject(ctx context.Context, key string) (*models.Project, error) {
	project, err := s.projectByKey(ctx, key)
	if err == nil {
		return project, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	created := &models.Project{
		ID:        uuid.New().String(),
		Key:       key,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, key, created_at) VALUES (?, ?, ?)`,
		created.ID, created.Key, created.CreatedAt,
	)
	if err != nil {
		// Unique violation means another request created it first.
		if existing, readErr := s.projectByKey(ctx, key); readErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create project %s: %w", key, err)
	}
	return created, nil
}

func (s *SQLiteStorage) projectByKey(ctx context.Context, key string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, created_at FROM projects WHERE key = ?`, key,
	).Scan(&p.ID, &p.Key, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns one page of projects and the total page count.
func (s *SQLiteStorage) ListProjects(ctx context.Context, page, pageSize int) ([]*models.Project, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}
	totalPages := total / pageSize
	if total%pageSize > 0 {
		totalPages++
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, created_at FROM projects ORDER BY created_at LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*models.Project, 0, pageSize)
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Key, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		projects = append(projects, &p)
	}
	return projects, totalPages, rows.Err()
}

// SaveChunks bulk-inserts chunks in a single transaction, assigning 1-based
// ordinals from input order. Embeddings are attached positionally when
// provided and index-in-range; out-of-range positions are left absent.
func (s *SQLiteStorage) SaveChunks(ctx context.Context, chunks []*models.Chunk, projectID, fileID string, embeddings [][]float32) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save chunks: %w", err)
	}
	defer tx.Rollback()

	// OR REPLACE keys on (project_id, file_id, ordinal), so re-ingesting a
	// file overwrites its chunks instead of failing the unique index.
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (project_id, file_id, ordinal, text, metadata, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, chunk := range chunks {
		chunk.ProjectID = projectID
		chunk.FileID = fileID
		chunk.Ordinal = i + 1
		chunk.CreatedAt = now
		if embeddings != nil && i < len(embeddings) {
			chunk.Embedding = embeddings[i]
		}

		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal metadata for chunk %d: %w", chunk.Ordinal, err)
		}
		var blob []byte
		if chunk.Embedding != nil {
			blob = encodeEmbedding(chunk.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			projectID, fileID, chunk.Ordinal, chunk.Text, string(metadataJSON), blob, now,
		); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", chunk.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save chunks: %w", err)
	}
	return len(chunks), nil
}

// ChunksByProject returns up to limit chunks for a project ordered by file and ordinal.
func (s *SQLiteStorage) ChunksByProject(ctx context.Context, projectID string, limit int) ([]*models.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, file_id, ordinal, text, metadata, embedding, created_at
		 FROM chunks WHERE project_id = ? ORDER BY file_id, ordinal LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks by project: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunksByFile returns all chunks for a file ordered by ordinal.
func (s *SQLiteStorage) ChunksByFile(ctx context.Context, projectID, fileID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, file_id, ordinal, text, metadata, embedding, created_at
		 FROM chunks WHERE project_id = ? AND file_id = ? ORDER BY ordinal`,
		projectID, fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks by file: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// DeleteChunksByFile removes all chunks for a file, returning the count deleted.
func (s *SQLiteStorage) DeleteChunksByFile(ctx context.Context, projectID, fileID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE project_id = ? AND file_id = ?`,
		projectID, fileID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountChunks returns the number of chunks stored for a project.
func (s *SQLiteStorage) CountChunks(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE project_id = ?`, projectID,
	).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func scanChunks(rows *sql.Rows) ([]*models.Chunk, error) {
	chunks := make([]*models.Chunk, 0)
	for rows.Next() {
		var (
			chunk        models.Chunk
			metadataJSON sql.NullString
			blob         []byte
		)
		if err := rows.Scan(&chunk.ProjectID, &chunk.FileID, &chunk.Ordinal,
			&chunk.Text, &metadataJSON, &blob, &chunk.CreatedAt); err != nil {
			return nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &chunk.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
			}
		}
		if len(blob) > 0 {
			chunk.Embedding = decodeEmbedding(blob)
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// encodeEmbedding packs a vector as little-endian float32 bytes for BLOB storage.
func encodeEmbedding(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(v))
	}
	return out
}

// decodeEmbedding unpacks a BLOB written by encodeEmbedding.
func decodeEmbedding(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
