// Package main is the ragbase CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ragbase/ragbase/internal/config"
	"github.com/ragbase/ragbase/internal/embedding"
	"github.com/ragbase/ragbase/internal/ingest"
	"github.com/ragbase/ragbase/internal/llm"
	"github.com/ragbase/ragbase/internal/loader"
	"github.com/ragbase/ragbase/internal/models"
	"github.com/ragbase/ragbase/internal/rag"
	"github.com/ragbase/ragbase/internal/server"
	"github.com/ragbase/ragbase/internal/storage"
	"github.com/ragbase/ragbase/internal/vector"
	"github.com/ragbase/ragbase/internal/watcher"
	"github.com/ragbase/ragbase/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ragbase/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence, so running from the project dir
// picks up the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	// Environment overrides (API keys) load before the config reads them.
	_ = godotenv.Load()

	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "ask":
		runAsk()
	case "delete":
		runDelete()
	case "projects":
		runProjects()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("ragbase version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watch *watcher.Watcher
	if cfg.Upload.WatchEnabled {
		pipeline := components.Pipeline
		ld := components.Loader
		watch = watcher.New(
			cfg.Storage.UploadDir,
			cfg.Upload.AllowedExtensions,
			func(projectKey, fileID, path string) {
				if !models.ValidProjectKey(projectKey) {
					return
				}
				segments, err := ld.Load(path)
				if err != nil {
					logger.Warn("auto-ingest load failed", zap.String("path", path), zap.Error(err))
					return
				}
				if _, err := pipeline.Ingest(context.Background(), projectKey, fileID, segments, ingest.Options{Reset: true}); err != nil {
					logger.Warn("auto-ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(projectKey, fileID string) {
				if !models.ValidProjectKey(projectKey) {
					return
				}
				if _, err := components.Index.DeleteByFile(context.Background(), projectKey, fileID); err != nil {
					logger.Warn("auto-remove vectors failed", zap.String("file", fileID), zap.Error(err))
				}
			},
			watcher.WithLogger(logger),
		)
		if err := watch.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Pipeline,
		components.Orchestrator,
		components.Store,
		components.Index,
		components.Loader,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watch != nil {
		watch.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	project := fs.String("project", "default", "project id (alphanumeric)")
	reset := fs.Bool("reset", false, "drop previously stored data for the file first")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: ragbase ingest [flags] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	fileID, err := uploadFile(*serverURL, *project, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}

	doReset := 0
	if *reset {
		doReset = 1
	}
	var result models.IngestResult
	err = postJSON(*serverURL+"/api/v1/data/process/"+*project,
		models.ProcessRequest{FileID: fileID, DoReset: doReset}, &result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Processing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %s: %d chunks, %d vectors (file id: %s)\n",
		filepath.Base(path), result.ChunkCount, result.VectorsStored, result.FileID)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	project := fs.String("project", "default", "project id")
	topK := fs.Int("top-k", 0, "number of results (0 = server default)")
	fileID := fs.String("file", "", "restrict search to one file id")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Println("Usage: ragbase search [flags] <query>")
		os.Exit(1)
	}

	var resp struct {
		Results []*models.RetrievalResult `json:"results"`
		Count   int                       `json:"count"`
	}
	err := postJSON(*serverURL+"/api/v1/index/search/"+*project,
		models.SearchRequest{Query: query, TopK: *topK, FileID: *fileID}, &resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
		return
	}
	if resp.Count == 0 {
		fmt.Println("No results.")
		return
	}
	for i, r := range resp.Results {
		fmt.Printf("%d. [%s #%d] similarity %.3f\n   %s\n",
			i+1, r.FileID, r.Ordinal, r.Similarity, utils.Truncate(r.Text, 160))
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	project := fs.String("project", "default", "project id")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Println("Usage: ragbase ask [flags] <question>")
		os.Exit(1)
	}

	var answer models.Answer
	err := postJSON(*serverURL+"/api/v1/index/answer/"+*project,
		models.SearchRequest{Query: query, TopK: *topK}, &answer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(answer)
		return
	}
	if answer.Text != nil {
		fmt.Println(*answer.Text)
	}
	if answer.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", answer.Error)
	}
	for _, src := range answer.Sources {
		fmt.Printf("  [%d] %s #%d (%.2f)\n", src.Index, src.FileID, src.Ordinal, src.Similarity)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	project := fs.String("project", "default", "project id")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: ragbase delete [flags] <file-id>")
		os.Exit(1)
	}
	fileID := fs.Arg(0)

	req, _ := http.NewRequest(http.MethodDelete,
		*serverURL+"/api/v1/data/"+*project+"/"+fileID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		ChunksRemoved  int `json:"chunks_removed"`
		VectorsRemoved int `json:"vectors_removed"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	fmt.Printf("Deleted %s: %d chunks, %d vectors\n", fileID, out.ChunksRemoved, out.VectorsRemoved)
}

func runProjects() {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	page := fs.Int("page", 1, "page number")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/projects?page=%d", *serverURL, *page))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "List failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Projects   []*models.Project `json:"projects"`
		Page       int               `json:"page"`
		TotalPages int               `json:"total_pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	for _, p := range out.Projects {
		fmt.Printf("%s\t%s\n", p.Key, p.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("page %d of %d\n", out.Page, out.TotalPages)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	project := fs.String("project", "default", "project id")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/index/info/" + *project)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		ProjectID    string                 `json:"project_id"`
		StoredChunks int64                  `json:"stored_chunks"`
		VectorIndex  *vector.NamespaceStats `json:"vector_index"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	fmt.Printf("project:        %s\n", out.ProjectID)
	fmt.Printf("stored_chunks:  %d\n", out.StoredChunks)
	if out.VectorIndex != nil {
		fmt.Printf("vectors:        %d\n", out.VectorIndex.TotalChunks)
		fmt.Printf("files:          %d\n", out.VectorIndex.UniqueFiles)
	}
}

// uploadFile posts path as a multipart upload and returns the assigned file id.
func uploadFile(serverURL, project, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := http.Post(serverURL+"/api/v1/data/upload/"+project, mw.FormDataContentType(), &body)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.FileID, nil
}

func postJSON(url string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Store        storage.Storage
	Backend      embedding.Embedder
	Index        vector.Index
	Loader       *loader.Loader
	Pipeline     *ingest.Pipeline
	Orchestrator *rag.Orchestrator
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	backend, err := embedding.OpenBackend(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding backend: %w", err)
	}
	provider := embedding.NewProvider(backend, cfg.Embedding.BatchSize, logger)

	index, err := vector.NewStore(cfg.Storage.VectorIndexPath, cfg.Vector.NamespacePrefix, cfg.Embedding.Dimensions, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	generator := llm.NewOpenAIGenerator(&cfg.LLM, logger)
	pipeline := ingest.NewPipeline(store, index, provider, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, logger)
	orchestrator := rag.NewOrchestrator(provider, index, generator,
		cfg.RAG.DefaultTopK, cfg.RAG.ContextChunks, cfg.RAG.SimilarityThreshold, cfg.LLM.MaxTokens*3, logger)

	return &Components{
		Store:        store,
		Backend:      backend,
		Index:        index,
		Loader:       loader.NewLoader(),
		Pipeline:     pipeline,
		Orchestrator: orchestrator,
	}, nil
}

func printUsage() {
	fmt.Println(`ragbase - Document ingestion and retrieval-augmented question answering

Usage:
  ragbase server [flags]              Start the HTTP server
  ragbase ingest [flags] <file>       Upload and process a document
  ragbase search [flags] <query>      Retrieve relevant chunks
  ragbase ask [flags] <question>      Ask a question over the documents
  ragbase delete [flags] <file-id>    Delete a file's chunks and vectors
  ragbase projects [flags]            List projects
  ragbase status [flags]              Show per-project index status
  ragbase version                     Show version
  ragbase help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/ragbase/config.yaml)
  --debug            Enable debug logging

Common Flags:
  --server string    Server URL (default: http://localhost:8080)
  --project string   Project id, alphanumeric (default: default)
  --output string    Output format: text or json (search/ask/status)

Examples:
  ragbase server
  ragbase ingest --project docs report.pdf
  ragbase search --project docs "quarterly revenue"
  ragbase ask --project docs "what drove revenue growth?"
  ragbase delete --project docs 1a2b3c4d_report.pdf
  ragbase status --project docs`)
}
