// Package agent provides per-topic query agents: a vector store handle plus
// retrieval-strategy configuration, cached by the retrieval service.
package agent

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/keyword"
	"github.com/tana-search/tana/internal/models"
	"github.com/tana-search/tana/internal/vector"
)

// Hybrid fusion weights. Cosine scores carry most of the ranking; keyword
// scores (normalized by the batch max) break ties toward exact-term matches.
const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// Config is the retrieval-strategy configuration shared by all agents.
type Config struct {
	Strategy   string
	Candidates int
	MinScore   float64
}

// Agent answers queries for one topic.
type Agent struct {
	topicName string
	store     *vector.Store
	keyword   *keyword.Index
	embedder  embedding.Embedder
	cfg       Config
	logger    *zap.Logger
}

// New creates an agent for one topic. kw may be nil, forcing similarity-only
// retrieval regardless of the configured strategy.
func New(topicName string, store *vector.Store, kw *keyword.Index, embedder embedding.Embedder, cfg Config, logger *zap.Logger) *Agent {
	if cfg.Candidates <= 0 {
		cfg.Candidates = 100
	}
	return &Agent{
		topicName: topicName,
		store:     store,
		keyword:   kw,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Search runs the configured retrieval strategy and returns up to limit
// results above the minimum score.
func (a *Agent) Search(ctx context.Context, query string, limit int) ([]*models.SearchResult, error) {
	queryVec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var results []*models.SearchResult
	if a.cfg.Strategy == models.StrategyHybrid && a.keyword != nil {
		results, err = a.searchHybrid(ctx, query, queryVec)
	} else {
		results, err = a.searchSimilarity(ctx, queryVec)
	}
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Score >= a.cfg.MinScore {
			filtered = append(filtered, r)
		}
	}
	if limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (a *Agent) searchSimilarity(ctx context.Context, queryVec []float32) ([]*models.SearchResult, error) {
	hits, err := a.store.Search(ctx, queryVec, a.cfg.Candidates)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := make([]*models.SearchResult, len(hits))
	for i, hit := range hits {
		out[i] = a.toResult(hit.Chunk, hit.Score)
	}
	return out, nil
}

// searchHybrid fuses vector and keyword candidates. Keyword scores are
// normalized by the batch max so they are comparable across queries; a chunk
// found by only one retriever keeps its single weighted score.
func (a *Agent) searchHybrid(ctx context.Context, query string, queryVec []float32) ([]*models.SearchResult, error) {
	vecHits, err := a.store.Search(ctx, queryVec, a.cfg.Candidates)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	kwHits, err := a.keyword.Search(ctx, query, a.cfg.Candidates)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	var maxKw float64
	for _, h := range kwHits {
		if h.Score > maxKw {
			maxKw = h.Score
		}
	}

	fused := make(map[string]*models.SearchResult, len(vecHits)+len(kwHits))
	for _, hit := range vecHits {
		fused[hit.Chunk.ID] = a.toResult(hit.Chunk, vectorWeight*hit.Score)
	}
	var missing []string
	for _, hit := range kwHits {
		norm := 0.0
		if maxKw > 0 {
			norm = hit.Score / maxKw
		}
		if r, ok := fused[hit.ChunkID]; ok {
			r.Score += keywordWeight * norm
			continue
		}
		fused[hit.ChunkID] = &models.SearchResult{
			Topic:   a.topicName,
			ChunkID: hit.ChunkID,
			Score:   keywordWeight * norm,
		}
		missing = append(missing, hit.ChunkID)
	}

	// Keyword-only hits need their content filled in from the store.
	if len(missing) > 0 {
		chunks, err := a.store.ChunksByID(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load keyword hits: %w", err)
		}
		for _, id := range missing {
			ch, ok := chunks[id]
			if !ok {
				delete(fused, id)
				continue
			}
			r := fused[id]
			r.Content = ch.Content
			r.Path = ch.Path
			r.Metadata = ch.Metadata
		}
	}

	out := make([]*models.SearchResult, 0, len(fused))
	for _, r := range fused {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if a.logger != nil {
		a.logger.Debug("hybrid search fused",
			zap.Int("vector_hits", len(vecHits)),
			zap.Int("keyword_hits", len(kwHits)),
			zap.Int("fused", len(out)),
		)
	}
	return out, nil
}

func (a *Agent) toResult(ch *models.Chunk, score float64) *models.SearchResult {
	return &models.SearchResult{
		Content:  ch.Content,
		Path:     ch.Path,
		Score:    score,
		Topic:    a.topicName,
		ChunkID:  ch.ID,
		Metadata: ch.Metadata,
	}
}
