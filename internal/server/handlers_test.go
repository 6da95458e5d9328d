package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ragbase/ragbase/internal/config"
	"github.com/ragbase/ragbase/internal/embedding"
	"github.com/ragbase/ragbase/internal/ingest"
	"github.com/ragbase/ragbase/internal/loader"
	"github.com/ragbase/ragbase/internal/models"
	"github.com/ragbase/ragbase/internal/rag"
	"github.com/ragbase/ragbase/internal/storage"
	"github.com/ragbase/ragbase/internal/vector"
)

// newTestServer wires real components over temp dirs with the hash embedding
// backend and no answer generator.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index, err := vector.NewStore(filepath.Join(dir, "vectors"), "collection_", 16, nil)
	if err != nil {
		t.Fatalf("vector store: %v", err)
	}
	provider := embedding.NewProvider(embedding.NewHashEmbedder(16), 4, nil)
	pipeline := ingest.NewPipeline(store, index, provider, 200, 40, nil)
	orchestrator := rag.NewOrchestrator(provider, index, nil, 5, 5, 0, 0, nil)

	cfg := &config.Config{
		Server:  config.ServerConfig{Host: "localhost", Port: 0},
		Storage: config.StorageConfig{UploadDir: filepath.Join(dir, "uploads")},
		Upload: config.UploadConfig{
			AllowedExtensions: []string{".txt", ".md", ".csv"},
			MaxSizeBytes:      1 << 20,
		},
	}
	return NewServer(pipeline, orchestrator, store, index, loader.NewLoader(), cfg, zap.NewNop())
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

// uploadAndProcess runs the upload and process endpoints for one file and
// returns the assigned file id.
func uploadAndProcess(t *testing.T, router http.Handler, project, filename, content string) string {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/data/upload/"+project, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", w.Code, w.Body.String())
	}
	var uploaded struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}

	processBody, _ := json.Marshal(models.ProcessRequest{FileID: uploaded.FileID})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/data/process/"+project, bytes.NewReader(processBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("process status %d: %s", w.Code, w.Body.String())
	}
	return uploaded.FileID
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	// Disallowed extension.
	body, contentType := multipartBody(t, "binary.exe", "MZ")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/data/upload/docs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad extension: status %d", w.Code)
	}

	// Invalid project key.
	body, contentType = multipartBody(t, "notes.txt", "text")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/data/upload/bad-key", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad project key: status %d", w.Code)
	}

	// Missing file field.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/data/upload/docs", strings.NewReader("plain"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file: status %d", w.Code)
	}
}

func TestUploadStoresFileWithRandomPrefix(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	body, contentType := multipartBody(t, "notes.txt", "uploaded content")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/data/upload/docs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var out struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.FileID, "_notes.txt") {
		t.Errorf("file id = %q, want random prefix + original name", out.FileID)
	}
	data, err := os.ReadFile(filepath.Join(srv.config.Storage.UploadDir, "docs", out.FileID))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(data) != "uploaded content" {
		t.Errorf("stored content = %q", data)
	}
}

func TestProcessAndSearchFlow(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()
	uploadAndProcess(t, router, "docs", "facts.txt", "the capital of France is Paris")

	searchBody, _ := json.Marshal(models.SearchRequest{Query: "the capital of France is Paris"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/index/search/docs", bytes.NewReader(searchBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("search status %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Results []*models.RetrievalResult `json:"results"`
		Count   int                       `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Count == 0 {
		t.Fatal("ingested content not searchable")
	}
	if !strings.Contains(out.Results[0].Text, "Paris") {
		t.Errorf("top result = %q", out.Results[0].Text)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	searchBody, _ := json.Marshal(models.SearchRequest{Query: "  "})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/index/search/docs", bytes.NewReader(searchBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank query: status %d, want 400", w.Code)
	}
}

func TestAnswerWithoutGenerator(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()
	uploadAndProcess(t, router, "docs", "facts.txt", "the sky is blue")

	body, _ := json.Marshal(models.SearchRequest{Query: "the sky is blue"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/index/answer/docs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("answer status %d: %s", w.Code, w.Body.String())
	}
	var answer models.Answer
	if err := json.NewDecoder(w.Body).Decode(&answer); err != nil {
		t.Fatal(err)
	}
	if answer.Text != nil {
		t.Error("no generator configured: answer must be null")
	}
	if answer.Error == "" || len(answer.SearchResults) == 0 {
		t.Errorf("degraded answer incomplete: %+v", answer)
	}
}

func TestProcessUnknownFile(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	body, _ := json.Marshal(models.ProcessRequest{FileID: "nope.txt"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/data/process/docs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown file: status %d, want 404", w.Code)
	}
}

func TestDeleteFileRemovesData(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()
	fileID := uploadAndProcess(t, router, "docs", "facts.txt", "content to be deleted")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/data/docs/"+fileID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		ChunksRemoved  int `json:"chunks_removed"`
		VectorsRemoved int `json:"vectors_removed"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.ChunksRemoved == 0 || out.VectorsRemoved == 0 {
		t.Errorf("nothing removed: %+v", out)
	}

	// Idempotent: a second delete reports zero removals, still 200.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/data/docs/"+fileID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("second delete status %d", w.Code)
	}
}

func TestProjectInfoAndList(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()
	uploadAndProcess(t, router, "docs", "facts.txt", "some indexed content")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/index/info/docs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("info status %d: %s", w.Code, w.Body.String())
	}
	var info struct {
		StoredChunks int64                  `json:"stored_chunks"`
		VectorIndex  *vector.NamespaceStats `json:"vector_index"`
	}
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.StoredChunks == 0 || info.VectorIndex == nil || info.VectorIndex.TotalChunks == 0 {
		t.Errorf("info = %+v", info)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("projects status %d", w.Code)
	}
	var list struct {
		Projects []*models.Project `json:"projects"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Projects) != 1 || list.Projects[0].Key != "docs" {
		t.Errorf("projects = %+v", list.Projects)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status %d", w.Code)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":        "report.pdf",
		"../../etc/passwd":  "passwd",
		"my file (1).txt":   "my_file__1_.txt",
		"weird\x00name.txt": "weird_name.txt",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProcessRejectsPathTraversal(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	// A file in another project's directory must stay out of reach.
	otherDir := filepath.Join(srv.config.Storage.UploadDir, "beta")
	if err := os.MkdirAll(otherDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(otherDir, "secret.txt"), []byte("private"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, fileID := range []string{
		"../beta/secret.txt",
		"..\\beta\\secret.txt",
		"sub/secret.txt",
		"..",
		".",
	} {
		body, _ := json.Marshal(models.ProcessRequest{FileID: fileID})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/data/process/alpha", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("process %q: status %d, want 400", fileID, w.Code)
		}
	}
}

func TestValidFileID(t *testing.T) {
	valid := []string{"notes.txt", "a1b2c3d4_report.pdf", "data.csv"}
	for _, id := range valid {
		if !validFileID(id) {
			t.Errorf("validFileID(%q) = false, want true", id)
		}
	}
	invalid := []string{"", ".", "..", "../escape.txt", "a/b.txt", `a\b.txt`, "../../etc/passwd"}
	for _, id := range invalid {
		if validFileID(id) {
			t.Errorf("validFileID(%q) = true, want false", id)
		}
	}
}
