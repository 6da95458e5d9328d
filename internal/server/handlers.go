package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragbase/ragbase/internal/ingest"
	"github.com/ragbase/ragbase/internal/loader"
	"github.com/ragbase/ragbase/internal/models"
	"github.com/ragbase/ragbase/internal/vector"
)

// validFileID reports whether id is a bare file name. IDs carrying path
// separators or dot components would escape the project's upload directory
// when joined into a path.
func validFileID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) {
		return false
	}
	return filepath.Base(id) == id
}

// projectKey extracts and validates the project identifier from the URL.
func (s *Server) projectKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "projectID")
	if !models.ValidProjectKey(key) {
		s.respondError(w, http.StatusBadRequest, "project id must be alphanumeric")
		return "", false
	}
	return key, true
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	key, ok := s.projectKey(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Upload.MaxSizeBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !s.extensionAllowed(ext) {
		s.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("file type %q not allowed", ext))
		return
	}

	dir := filepath.Join(s.config.Storage.UploadDir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("create upload dir failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	// Random prefix keeps repeated uploads of the same filename distinct.
	fileID := uuid.NewString()[:8] + "_" + sanitizeFilename(header.Filename)
	path := filepath.Join(dir, fileID)
	dst, err := os.Create(path)
	if err != nil {
		s.logger.Error("create upload file failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(path)
		s.respondError(w, http.StatusBadRequest, "upload failed: "+err.Error())
		return
	}

	s.logger.Info("file uploaded",
		zap.String("project", key),
		zap.String("file", fileID),
		zap.Int64("bytes", written),
	)
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"project_id": key,
		"file_id":    fileID,
		"size_bytes": written,
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	key, ok := s.projectKey(w, r)
	if !ok {
		return
	}
	var req models.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == "" {
		s.respondError(w, http.StatusBadRequest, "file_id is required")
		return
	}
	if !validFileID(req.FileID) {
		s.respondError(w, http.StatusBadRequest, "invalid file_id")
		return
	}

	path := filepath.Join(s.config.Storage.UploadDir, key, req.FileID)
	segments, err := s.loader.Load(path)
	if err != nil {
		switch {
		case errors.Is(err, loader.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "file not found")
		case errors.Is(err, loader.ErrUnsupportedType):
			s.respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("load file failed", zap.String("file", req.FileID), zap.Error(err))
			s.respondError(w, http.StatusUnprocessableEntity, "could not extract file content")
		}
		return
	}

	result, err := s.pipeline.Ingest(r.Context(), key, req.FileID, segments, ingest.Options{
		ChunkSize: req.ChunkSize,
		Overlap:   req.OverlapSize,
		Reset:     req.DoReset == 1,
	})
	if err != nil {
		s.logger.Error("ingest failed", zap.String("file", req.FileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	key, ok := s.projectKey(w, r)
	if !ok {
		return
	}
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := s.orchestrator.Retrieve(r.Context(), key, req.Query, req.TopK, req.FileID)
	if err != nil {
		if errors.Is(err, vector.ErrInvalidQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.String("project", key), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": key,
		"query":      req.Query,
		"results":    results,
		"count":      len(results),
	})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	key, ok := s.projectKey(w, r)
	if !ok {
		return
	}
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answer, err := s.orchestrator.Answer(r.Context(), key, req.Query, req.TopK, req.FileID)
	if err != nil {
		if errors.Is(err, vector.ErrInvalidQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("answer failed", zap.String("project", key), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	key, ok := s.projectKey(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "fileID")
	if !validFileID(fileID) {
		s.respondError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	project, err := s.store.GetOrCreateProject(r.Context(), key)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunksRemoved, err := s.store.DeleteChunksByFile(r.Context(), project.ID, fileID)
	if err != nil {
		s.logger.Error("delete chunks failed", zap.String("file", fileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	vectorsRemoved, err := s.index.DeleteByFile(r.Context(), key, fileID)
	if err != nil {
		s.logger.Error("delete vectors failed", zap.String("file", fileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Best effort: the uploaded source file may already be gone.
	os.Remove(filepath.Join(s.config.Storage.UploadDir, key, fileID))

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"project_id":      key,
		"file_id":         fileID,
		"chunks_removed":  chunksRemoved,
		"vectors_removed": vectorsRemoved,
	})
}

func (s *Server) handleProjectInfo(w http.ResponseWriter, r *http.Request) {
	key, ok := s.projectKey(w, r)
	if !ok {
		return
	}
	project, err := s.store.GetOrCreateProject(r.Context(), key)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.store.CountChunks(r.Context(), project.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.index.Stats(r.Context(), key)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"project_id":    key,
		"stored_chunks": chunkCount,
		"vector_index":  stats,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	projects, totalPages, err := s.store.ListProjects(r.Context(), page, pageSize)
	if err != nil {
		s.logger.Error("list projects failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"projects":    projects,
		"page":        page,
		"total_pages": totalPages,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) extensionAllowed(ext string) bool {
	for _, allowed := range s.config.Upload.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// sanitizeFilename strips path separators and whitespace from an uploaded
// filename so it is safe to join into the upload directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
