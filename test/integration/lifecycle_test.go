// Package integration provides end-to-end tests (requires real storage and indices).
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/agent"
	"github.com/tana-search/tana/internal/config"
	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/foldertree"
	"github.com/tana-search/tana/internal/ingest"
	"github.com/tana-search/tana/internal/models"
	"github.com/tana-search/tana/internal/progress"
	"github.com/tana-search/tana/internal/registry"
	"github.com/tana-search/tana/internal/server"
)

const integrationDims = 8

type stack struct {
	cfg      *config.Config
	registry *registry.Manager
	handler  http.Handler
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Root = t.TempDir()
	cfg.Embedding.Dimensions = integrationDims
	cfg.Search.ChunkSize = 16
	cfg.Search.ChunkOverlap = 2

	embMgr := embedding.NewManager(cfg.Embedding.Model, "", []string{cfg.Embedding.Model}, integrationDims, 64, 100)
	coord := progress.NewCoordinator(progress.WithCompletionGrace(10 * time.Millisecond))
	folders := foldertree.NewService(cfg.Storage.Root)
	reg := registry.NewManager(cfg, embMgr, coord, folders)
	reg.SetPipeline(ingest.NewDefaultPipeline(embMgr, embedding.NewCache(100), reg, cfg.Search.ChunkSize, cfg.Search.ChunkOverlap))

	logger := zap.NewNop()
	agents := agent.NewCache(logger)
	go agents.Listen(reg.CleanupEvents())

	srv := server.NewServer(reg, coord, embMgr, agents, nil, cfg, logger)
	return &stack{cfg: cfg, registry: reg, handler: srv.Router()}
}

func (s *stack) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestIntegration_TopicLifecycle runs the whole flow through real stores:
// create a topic from files, search it over HTTP, export it, import the
// archive back, and search the imported copy.
func TestIntegration_TopicLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	docs := t.TempDir()
	writeDoc(t, docs, "ml.txt", "machine learning algorithms learn patterns from labeled data")
	writeDoc(t, docs, "search.txt", "semantic search uses embeddings to find similar content")

	topic, err := s.registry.CreateTopic(ctx, "Research", "test corpus", []string{
		filepath.Join(docs, "ml.txt"),
		filepath.Join(docs, "search.txt"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if topic.DocumentCount != 2 {
		t.Fatalf("document count = %d, want 2", topic.DocumentCount)
	}

	rec := s.get(t, "/search?q=machine+learning+algorithms&topic=Research&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults == 0 {
		t.Fatal("expected at least 1 result")
	}
	if top := resp.Results[0]; top.Topic != "Research" || top.Path == "" {
		t.Errorf("top result = %+v", top)
	}

	archive := filepath.Join(t.TempDir(), "research.tar.gz")
	if err := s.registry.ExportTopic(ctx, topic.ID, archive); err != nil {
		t.Fatal(err)
	}
	imported, err := s.registry.ImportTopic(ctx, archive)
	if err != nil {
		t.Fatal(err)
	}
	if imported.Name != "Research (imported)" {
		t.Errorf("imported name = %q", imported.Name)
	}
	if imported.ID == topic.ID {
		t.Error("imported topic reuses the original ID")
	}

	rec = s.get(t, "/search?q=semantic+search&topic=Research+(imported)&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("imported search status = %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults == 0 {
		t.Fatal("expected results from imported topic")
	}

	// Removing a document updates counts and search no longer sees it.
	found, err := s.registry.RemoveDocumentByFilePath(ctx, topic.ID, filepath.Join(docs, "ml.txt"))
	if err != nil || !found {
		t.Fatalf("remove: found=%v err=%v", found, err)
	}
	refreshed, err := s.registry.Topic(ctx, topic.ID)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.DocumentCount != 1 {
		t.Errorf("document count after remove = %d, want 1", refreshed.DocumentCount)
	}
}
