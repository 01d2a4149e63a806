package watchsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tana-search/tana/internal/config"
	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/foldertree"
	"github.com/tana-search/tana/internal/ingest"
	"github.com/tana-search/tana/internal/progress"
	"github.com/tana-search/tana/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Manager {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Root = t.TempDir()
	cfg.Embedding.Dimensions = 8

	embMgr := embedding.NewManager(cfg.Embedding.Model, "", nil, 8, 64, 100)
	coord := progress.NewCoordinator(progress.WithCompletionGrace(10 * time.Millisecond))
	folders := foldertree.NewService(cfg.Storage.Root)
	mgr := registry.NewManager(cfg, embMgr, coord, folders)
	mgr.SetPipeline(ingest.NewDefaultPipeline(embMgr, embedding.NewCache(100), mgr, 64, 8))
	return mgr
}

func TestNormalizeFolders(t *testing.T) {
	got, err := normalizeFolders("/ws", []string{"docs", "/ws/notes"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "/ws/docs" || got[1] != "/ws/notes" {
		t.Errorf("folders = %v", got)
	}

	if _, err := normalizeFolders("/ws", []string{"/elsewhere/docs"}); err == nil {
		t.Error("absolute folder outside root should be rejected")
	}
	if _, err := normalizeFolders("", []string{"docs"}); err == nil {
		t.Error("folders without workspace root should be rejected")
	}
	got, err = normalizeFolders("/ws", nil)
	if err != nil || got != nil {
		t.Errorf("empty folders: %v, %v", got, err)
	}
}

func TestAllowedExtensionFilter(t *testing.T) {
	c, err := NewCoordinator(config.WatchConfig{Extensions: []string{".TXT", ".md"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !c.allowed("/ws/a.txt") || !c.allowed("/ws/B.MD") {
		t.Error("extension match should be case-insensitive")
	}
	if c.allowed("/ws/a.pdf") {
		t.Error(".pdf not on the allow-list")
	}

	open, err := NewCoordinator(config.WatchConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !open.allowed("/ws/anything.xyz") {
		t.Error("empty allow-list should accept everything")
	}
}

func TestStart_SeedsExistingFiles(t *testing.T) {
	ws := t.TempDir()
	docs := filepath.Join(ws, "docs")
	if err := os.MkdirAll(docs, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(docs, "pre.txt"), []byte("pre-existing words"), 0600); err != nil {
		t.Fatal(err)
	}

	reg := newTestRegistry(t)
	c, err := NewCoordinator(config.WatchConfig{
		WorkspaceRoot: ws,
		Folders:       []string{"docs"},
		Extensions:    []string{".txt"},
		DebounceMS:    30,
	}, reg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	if !c.Watching() {
		t.Error("Watching() should be true after Start")
	}

	topic := waitForDocuments(t, reg, 1)
	docsMeta, err := reg.Documents(ctx, topic)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(docsMeta[0].FilePath) != "pre.txt" {
		t.Errorf("seeded %q", docsMeta[0].FilePath)
	}
}

func TestWatch_DebouncedAddAndRemove(t *testing.T) {
	ws := t.TempDir()
	docs := filepath.Join(ws, "docs")
	if err := os.MkdirAll(docs, 0755); err != nil {
		t.Fatal(err)
	}

	reg := newTestRegistry(t)
	c, err := NewCoordinator(config.WatchConfig{
		WorkspaceRoot: ws,
		Folders:       []string{"docs"},
		Extensions:    []string{".txt"},
		DebounceMS:    30,
	}, reg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	path := filepath.Join(docs, "new.txt")
	if err := os.WriteFile(path, []byte("freshly written words"), 0600); err != nil {
		t.Fatal(err)
	}
	topic := waitForDocuments(t, reg, 1)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(10 * time.Second)
	for {
		got, err := reg.Topic(ctx, topic)
		if err != nil {
			t.Fatal(err)
		}
		if got.DocumentCount == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("document not removed after file deletion")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// waitForDocuments polls until the default topic holds want documents and
// returns its ID.
func waitForDocuments(t *testing.T, reg *registry.Manager, want int) string {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(10 * time.Second)
	for {
		topic, err := reg.TopicByName(ctx, DefaultTopicName)
		if err == nil && topic.DocumentCount == want {
			return topic.ID
		}
		select {
		case <-deadline:
			t.Fatalf("default topic never reached %d documents", want)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
