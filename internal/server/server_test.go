package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
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
)

type testServer struct {
	srv      *Server
	registry *registry.Manager
	progress *progress.Coordinator
	cfg      *config.Config
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Root = t.TempDir()
	cfg.Embedding.Dimensions = 8
	cfg.Embedding.Available = []string{cfg.Embedding.Model, "backup-model"}

	embMgr := embedding.NewManager(cfg.Embedding.Model, "", cfg.Embedding.Available, 8, 64, 100)
	coord := progress.NewCoordinator(progress.WithCompletionGrace(10 * time.Millisecond))
	folders := foldertree.NewService(cfg.Storage.Root)
	reg := registry.NewManager(cfg, embMgr, coord, folders)
	reg.SetPipeline(ingest.NewDefaultPipeline(embMgr, embedding.NewCache(100), reg, 64, 8))

	logger := zap.NewNop()
	agents := agent.NewCache(logger)
	go agents.Listen(reg.CleanupEvents())

	srv := NewServer(reg, coord, embMgr, agents, nil, cfg, logger)
	return &testServer{srv: srv, registry: reg, progress: coord, cfg: cfg, handler: srv.Router()}
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) post(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (ts *testServer) addTopicWithFile(t *testing.T, name, content string) *models.Topic {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	topic, err := ts.registry.CreateTopic(context.Background(), name, "", []string{path})
	if err != nil {
		t.Fatal(err)
	}
	return topic
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" || body["version"] != Version || body["timestamp"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestSearch_MissingQuery(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/search")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["error"] == "" {
		t.Error("missing error body")
	}
}

func TestSearch_NoTopics(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/search?q=test&limit=5")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["error"] != "No topics available" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestSearch_UnknownTopic(t *testing.T) {
	ts := newTestServer(t)
	ts.addTopicWithFile(t, "Docs", "some words")
	rec := ts.get(t, "/search?q=test&topic=nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSearch_ReturnsResults(t *testing.T) {
	ts := newTestServer(t)
	ts.addTopicWithFile(t, "Docs", "the server listens on loopback")

	rec := ts.get(t, "/search?q=the+server+listens+on+loopback&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body models.SearchResponse
	decode(t, rec, &body)
	if body.TotalResults == 0 || len(body.Results) == 0 {
		t.Fatalf("no results: %+v", body)
	}
	if body.Strategy != ts.cfg.Search.Strategy {
		t.Errorf("strategy = %q", body.Strategy)
	}
	top := body.Results[0]
	if top.Topic != "Docs" || top.Content == "" || top.Path == "" {
		t.Errorf("top result = %+v", top)
	}
}

func TestSearch_ModelMismatchHotSwitch(t *testing.T) {
	ts := newTestServer(t)
	topic := ts.addTopicWithFile(t, "Docs", "indexed under the backup model")

	// Rewrite the store meta as if "backup-model" (which is available) had
	// built the store, and drop the warm handle.
	metaPath := filepath.Join(ts.cfg.Storage.Root, "topics", topic.ID, "store.json")
	if err := os.WriteFile(metaPath, []byte(`{"embedding_model":"backup-model","dimensions":8}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ts.registry.ReinitializeWithNewModel(context.Background(), ts.cfg.Embedding.Model); err != nil {
		t.Fatal(err)
	}

	rec := ts.get(t, "/search?q=backup&topic=Docs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := ts.srv.embeddings.ActiveModel(); got != "backup-model" {
		t.Errorf("active model = %q, want hot-switched backup-model", got)
	}
}

func TestSearch_ModelMismatchUnavailable(t *testing.T) {
	ts := newTestServer(t)
	topic := ts.addTopicWithFile(t, "Docs", "indexed under a long-gone model")

	metaPath := filepath.Join(ts.cfg.Storage.Root, "topics", topic.ID, "store.json")
	if err := os.WriteFile(metaPath, []byte(`{"embedding_model":"gone-model","dimensions":8}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ts.registry.ReinitializeWithNewModel(context.Background(), ts.cfg.Embedding.Model); err != nil {
		t.Fatal(err)
	}
	// Give the cache listener a moment to consume the invalidation.
	time.Sleep(20 * time.Millisecond)

	rec := ts.get(t, "/search?q=anything&topic=Docs")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decode(t, rec, &body)
	for _, model := range []string{"gone-model", ts.cfg.Embedding.Model} {
		if !strings.Contains(body["error"], model) {
			t.Errorf("error misses model %q: %s", model, body["error"])
		}
	}
}

func TestTopics_ListAndDetail(t *testing.T) {
	ts := newTestServer(t)
	ts.addTopicWithFile(t, "Docs", "a few words to index")

	rec := ts.get(t, "/topics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var listing struct {
		Topics []topicInfo `json:"topics"`
	}
	decode(t, rec, &listing)
	if len(listing.Topics) != 1 {
		t.Fatalf("topics = %+v", listing.Topics)
	}
	info := listing.Topics[0]
	if info.Name != "Docs" || info.DocumentCount != 1 || info.ChunkCount == 0 || info.EmbeddingModel == "" {
		t.Errorf("info = %+v", info)
	}

	rec = ts.get(t, "/topics/docs")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	var detail struct {
		Topic     topicInfo          `json:"topic"`
		Documents []*models.Document `json:"documents"`
	}
	decode(t, rec, &detail)
	if detail.Topic.Name != "Docs" || len(detail.Documents) != 1 {
		t.Errorf("detail = %+v", detail)
	}

	rec = ts.get(t, "/topics/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing topic status = %d", rec.Code)
	}
}

func TestStatus_PauseResume(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "idle" || body["watching"] != false {
		t.Errorf("body = %v", body)
	}
	if body["embedding_model"] != ts.cfg.Embedding.Model {
		t.Errorf("embedding_model = %v", body["embedding_model"])
	}

	if rec := ts.post(t, "/pause"); rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	rec = ts.get(t, "/status")
	decode(t, rec, &body)
	if body["status"] != "paused" {
		t.Errorf("status after pause = %v", body["status"])
	}

	if rec := ts.post(t, "/resume"); rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}
	rec = ts.get(t, "/status")
	decode(t, rec, &body)
	if body["status"] != "idle" {
		t.Errorf("status after resume = %v", body["status"])
	}
}
