// Package ingest turns source files into stored chunks: extract, preprocess,
// chunk, embed, store.
package ingest

import (
	"context"

	"github.com/tana-search/tana/internal/models"
)

// ProgressUpdate is one step notification from a pipeline run.
type ProgressUpdate struct {
	Stage   string
	Message string
	Details map[string]string
}

// ProgressFunc receives pipeline step notifications. May be nil.
type ProgressFunc func(ProgressUpdate)

// Request describes one file to ingest into a topic.
type Request struct {
	TopicID      string
	FilePath     string
	DocumentName string
	Progress     ProgressFunc
}

// Result is the outcome of a successful ingestion.
type Result struct {
	ChunksStored int
}

// Pipeline ingests files into topics. Implementations report failures as
// returned errors only and never panic past their own boundary.
type Pipeline interface {
	IngestFile(ctx context.Context, req Request) (*Result, error)
}

// ChunkStore receives the chunks a pipeline run produced. The registry
// implements it, routing chunks into the topic's vector store and keyword
// index; the pipeline itself never holds store handles.
type ChunkStore interface {
	StoreChunks(ctx context.Context, topicID string, chunks []*models.Chunk) error
}
