package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/models"
)

type memStore struct {
	chunks  map[string][]*models.Chunk
	failing bool
}

func newMemStore() *memStore {
	return &memStore{chunks: make(map[string][]*models.Chunk)}
}

func (s *memStore) StoreChunks(ctx context.Context, topicID string, chunks []*models.Chunk) error {
	if s.failing {
		return errors.New("store unavailable")
	}
	s.chunks[topicID] = append(s.chunks[topicID], chunks...)
	return nil
}

func testManager(t *testing.T) *embedding.Manager {
	t.Helper()
	return embedding.NewManager("all-MiniLM-L6-v2", "", nil, 8, 64, 100)
}

func TestPreprocess(t *testing.T) {
	got := Preprocess("  hello\n\n\tworld  \r\n again ")
	if got != "hello world again" {
		t.Errorf("got %q", got)
	}
}

func TestChunker_Overlap(t *testing.T) {
	c := NewChunker(4, 2)
	words := []string{"a", "b", "c", "d", "e", "f"}
	chunks := c.Chunk(strings.Join(words, " "))
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks: %v", len(chunks), chunks)
	}
	if chunks[0] != "a b c d" || chunks[1] != "c d e f" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestChunker_ShortTextIsSingleChunk(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Chunk("just a few words")
	if len(chunks) != 1 || chunks[0] != "just a few words" {
		t.Errorf("chunks = %v", chunks)
	}
	if c.Chunk("   ") != nil {
		t.Error("blank input should produce no chunks")
	}
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(path, []byte("alpha beta gamma delta"), 0600); err != nil {
		t.Fatal(err)
	}

	store := newMemStore()
	p := NewDefaultPipeline(testManager(t), embedding.NewCache(100), store, 512, 50)

	var stages []string
	res, err := p.IngestFile(context.Background(), Request{
		TopicID:      "t-1",
		FilePath:     path,
		DocumentName: "doc.txt",
		Progress:     func(u ProgressUpdate) { stages = append(stages, u.Stage) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunksStored != 1 {
		t.Errorf("ChunksStored = %d", res.ChunksStored)
	}
	stored := store.chunks["t-1"]
	if len(stored) != 1 {
		t.Fatalf("stored %d chunks", len(stored))
	}
	ch := stored[0]
	if ch.DocumentName != "doc.txt" || ch.Path != path || ch.ChunkIndex != 0 {
		t.Errorf("chunk = %+v", ch)
	}
	if len(ch.Embedding) != 8 {
		t.Errorf("embedding dims = %d", len(ch.Embedding))
	}
	if ch.Metadata["file_type"] != "txt" {
		t.Errorf("file_type = %q", ch.Metadata["file_type"])
	}

	want := []string{models.StageExtracting, models.StageChunking, models.StageEmbedding, models.StageStoring}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage[%d] = %q, want %q", i, stages[i], want[i])
		}
	}
}

func TestIngestFile_MissingFile(t *testing.T) {
	p := NewDefaultPipeline(testManager(t), embedding.NewCache(100), newMemStore(), 512, 50)
	if _, err := p.IngestFile(context.Background(), Request{TopicID: "t-1", FilePath: "/no/such/file.txt", DocumentName: "file.txt"}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIngestFile_StoreFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(path, []byte("content"), 0600); err != nil {
		t.Fatal(err)
	}
	store := newMemStore()
	store.failing = true
	p := NewDefaultPipeline(testManager(t), embedding.NewCache(100), store, 512, 50)
	if _, err := p.IngestFile(context.Background(), Request{TopicID: "t-1", FilePath: path, DocumentName: "doc.txt"}); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestEmbedBatch_UsesCache(t *testing.T) {
	cache := embedding.NewCache(100)
	p := NewDefaultPipeline(testManager(t), cache, newMemStore(), 512, 50)
	ctx := context.Background()

	first, err := p.embedBatch(ctx, []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 2 {
		t.Errorf("cache holds %d entries", cache.Len())
	}
	second, err := p.embedBatch(ctx, []string{"two", "one"})
	if err != nil {
		t.Fatal(err)
	}
	for i := range first[0] {
		if first[0][i] != second[1][i] {
			t.Fatal("cached embedding differs from original")
		}
	}
}
