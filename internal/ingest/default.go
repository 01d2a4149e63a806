package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/extract"
	"github.com/tana-search/tana/internal/models"
)

// DefaultPipeline is the standard ingestion pipeline: extract text, collapse
// whitespace, split into word windows, embed (through the shared cache), and
// hand the chunks to the store.
type DefaultPipeline struct {
	extractor  *extract.Extractor
	embeddings *embedding.Manager
	cache      *embedding.Cache
	store      ChunkStore
	chunker    *Chunker
	logger     *zap.Logger
}

// PipelineOption configures a DefaultPipeline.
type PipelineOption func(*DefaultPipeline)

// WithLogger sets a logger for debug output (per-stage timings, cache hits).
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *DefaultPipeline) { p.logger = l }
}

// NewDefaultPipeline creates a pipeline writing through store.
func NewDefaultPipeline(embeddings *embedding.Manager, cache *embedding.Cache, store ChunkStore, chunkSize, chunkOverlap int, opts ...PipelineOption) *DefaultPipeline {
	p := &DefaultPipeline{
		extractor:  extract.NewExtractor(),
		embeddings: embeddings,
		cache:      cache,
		store:      store,
		chunker:    NewChunker(chunkSize, chunkOverlap),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestFile runs the full pipeline for one file.
func (p *DefaultPipeline) IngestFile(ctx context.Context, req Request) (*Result, error) {
	report := req.Progress
	if report == nil {
		report = func(ProgressUpdate) {}
	}

	report(ProgressUpdate{Stage: models.StageExtracting, Message: "extracting text"})
	text, err := p.extractor.Extract(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", req.FilePath, err)
	}

	report(ProgressUpdate{Stage: models.StageChunking, Message: "splitting into chunks"})
	contents := p.chunker.Chunk(Preprocess(text))
	if len(contents) == 0 {
		return &Result{ChunksStored: 0}, nil
	}

	report(ProgressUpdate{
		Stage:   models.StageEmbedding,
		Message: "embedding chunks",
		Details: map[string]string{"chunks": strconv.Itoa(len(contents))},
	})
	vectors, err := p.embedBatch(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", req.FilePath, err)
	}

	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(req.FilePath)), ".")
	chunks := make([]*models.Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = &models.Chunk{
			ID:           uuid.NewString(),
			DocumentName: req.DocumentName,
			Path:         req.FilePath,
			Content:      content,
			ChunkIndex:   i,
			Metadata:     map[string]string{"file_type": fileType},
			Embedding:    vectors[i],
		}
	}

	report(ProgressUpdate{Stage: models.StageStoring, Message: "storing chunks"})
	if err := p.store.StoreChunks(ctx, req.TopicID, chunks); err != nil {
		return nil, fmt.Errorf("store chunks for %s: %w", req.FilePath, err)
	}
	if p.logger != nil {
		p.logger.Debug("file ingested",
			zap.String("path", req.FilePath),
			zap.String("topic_id", req.TopicID),
			zap.Int("chunks", len(chunks)),
		)
	}
	return &Result{ChunksStored: len(chunks)}, nil
}

// embedBatch embeds texts, serving repeats from the cache and batching only
// the misses through the active embedder.
func (p *DefaultPipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingAt []int
	for i, text := range texts {
		if vec, ok := p.cache.Get(text); ok {
			vectors[i] = vec
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}
	embedded, err := p.embeddings.Embedder().EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range embedded {
		vectors[missingAt[j]] = vec
		p.cache.Set(missing[j], vec)
	}
	return vectors, nil
}
