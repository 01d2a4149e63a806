package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/keyword"
	"github.com/tana-search/tana/internal/models"
	"github.com/tana-search/tana/internal/vector"
)

const testDims = 8

// newTestAgent builds an agent over a populated store and keyword index.
func newTestAgent(t *testing.T, strategy string, contents []string) (*Agent, embedding.Embedder) {
	t.Helper()
	dir := t.TempDir()
	embedder := embedding.NewMockEmbedder(testDims)
	t.Cleanup(func() { embedder.Close() })

	store, err := vector.Open(filepath.Join(dir, "store.db"), testDims)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	kw, err := keyword.Open(filepath.Join(dir, keyword.IndexDirName))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kw.Close() })

	ctx := context.Background()
	chunks := make([]*models.Chunk, len(contents))
	for i, content := range contents {
		vec, err := embedder.Embed(ctx, content)
		if err != nil {
			t.Fatal(err)
		}
		chunks[i] = &models.Chunk{
			ID:           string(rune('a' + i)),
			DocumentName: "doc.txt",
			Path:         "/ws/doc.txt",
			Content:      content,
			ChunkIndex:   i,
			Embedding:    vec,
		}
	}
	if err := store.AddChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	if err := kw.IndexChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	return New("Docs", store, kw, embedder, Config{Strategy: strategy, Candidates: 50}, nil), embedder
}

func TestSearch_SimilarityRanksExactMatchFirst(t *testing.T) {
	a, _ := newTestAgent(t, models.StrategySimilarity, []string{
		"the quick brown fox",
		"completely unrelated text about cooking",
	})
	results, err := a.Search(context.Background(), "the quick brown fox", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	// The mock embedder is deterministic, so the identical text scores 1.0.
	if results[0].Content != "the quick brown fox" {
		t.Errorf("top result = %q", results[0].Content)
	}
	if results[0].Topic != "Docs" || results[0].ChunkID == "" {
		t.Errorf("result shape = %+v", results[0])
	}
	if len(results) > 1 && results[0].Score < results[1].Score {
		t.Error("results not sorted by score")
	}
}

func TestSearch_LimitApplies(t *testing.T) {
	a, _ := newTestAgent(t, models.StrategySimilarity, []string{"one", "two", "three", "four"})
	results, err := a.Search(context.Background(), "one", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestSearch_HybridBoostsKeywordMatches(t *testing.T) {
	const match = "tuning performance of the server"
	a, embedder := newTestAgent(t, models.StrategyHybrid, []string{
		"install the binary then run it",
		match,
		"notes about gardening",
	})
	ctx := context.Background()
	results, err := a.Search(ctx, "server", 10)
	if err != nil {
		t.Fatal(err)
	}

	var found *models.SearchResult
	for _, r := range results {
		if r.Content == match {
			found = r
		}
	}
	if found == nil {
		t.Fatal("keyword-matching chunk missing from hybrid results")
	}
	// The only chunk containing "server" must carry the full keyword boost on
	// top of its weighted cosine score.
	qv, err := embedder.Embed(ctx, "server")
	if err != nil {
		t.Fatal(err)
	}
	dv, err := embedder.Embed(ctx, match)
	if err != nil {
		t.Fatal(err)
	}
	var cos float64
	for i := range qv {
		cos += float64(qv[i] * dv[i])
	}
	want := vectorWeight*cos + keywordWeight
	if diff := found.Score - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("fused score = %v, want %v", found.Score, want)
	}
}

func TestSearch_HybridHydratesKeywordOnlyHits(t *testing.T) {
	a, _ := newTestAgent(t, models.StrategyHybrid, []string{
		"install the binary then run it",
		"tuning performance of the server",
		"notes about gardening",
	})
	// With a single vector candidate, a keyword hit is usually outside the
	// vector set and must be loaded from the store.
	a.cfg.Candidates = 1
	results, err := a.Search(context.Background(), "server gardening binary", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) < 2 {
		t.Fatalf("got %d results", len(results))
	}
	for _, r := range results {
		if r.Content == "" || r.Path == "" {
			t.Errorf("result %s not hydrated: %+v", r.ChunkID, r)
		}
	}
}

func TestSearch_MinScoreFilters(t *testing.T) {
	a, _ := newTestAgent(t, models.StrategySimilarity, []string{"alpha beta"})
	a.cfg.MinScore = 2 // cosine scores can never reach this
	results, err := a.Search(context.Background(), "alpha beta", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results above impossible min score", len(results))
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache(nil)
	a, _ := newTestAgent(t, models.StrategySimilarity, []string{"x"})
	c.Set("t-1", a)
	c.Set("t-2", a)

	if _, ok := c.Get("t-1"); !ok {
		t.Fatal("agent not cached")
	}
	c.Invalidate("t-1")
	if _, ok := c.Get("t-1"); ok {
		t.Error("agent survived Invalidate")
	}
	if _, ok := c.Get("t-2"); !ok {
		t.Error("unrelated agent dropped")
	}
	c.InvalidateAll()
	if _, ok := c.Get("t-2"); ok {
		t.Error("agent survived InvalidateAll")
	}
}
