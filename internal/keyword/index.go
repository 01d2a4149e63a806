// Package keyword provides per-topic Bleve chunk indexes for hybrid retrieval.
package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/tana-search/tana/internal/models"
)

// IndexDirName is the keyword index directory inside a topic's store directory.
const IndexDirName = "keyword.bleve"

// Index is a Bleve index over one topic's chunks. It backs the hybrid
// retrieval strategy; similarity-only topics never open one.
type Index struct {
	index bleve.Index
}

// chunkDoc is the indexed representation of a chunk.
type chunkDoc struct {
	Content      string `json:"content"`
	DocumentName string `json:"document_name"`
	Path         string `json:"path"`
}

// Hit is a single keyword search hit.
type Hit struct {
	ChunkID string
	Score   float64
}

// Open opens or creates a Bleve chunk index at path.
// Content uses the standard analyzer (lowercase + tokenize, no stemming) so
// exact words match; document_name and path are keyword fields for filtered delete.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open keyword index: %w", openErr)
		}
		return &Index{index: idx}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textField)
	keywordField := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("document_name", keywordField)
	docMapping.AddFieldMappingsAt("path", keywordField)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping

	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &Index{index: idx}, nil
}

// IndexChunks indexes chunks in one batch, keyed by chunk ID.
func (i *Index) IndexChunks(ctx context.Context, chunks []*models.Chunk) error {
	batch := i.index.NewBatch()
	for _, ch := range chunks {
		doc := &chunkDoc{Content: ch.Content, DocumentName: ch.DocumentName, Path: ch.Path}
		if err := batch.Index(ch.ID, doc); err != nil {
			return fmt.Errorf("batch index chunk %s: %w", ch.ID, err)
		}
	}
	return i.index.Batch(batch)
}

// DeleteByDocumentName removes every chunk indexed under the given document name.
func (i *Index) DeleteByDocumentName(ctx context.Context, documentName string) error {
	tq := bleve.NewTermQuery(documentName)
	tq.SetField("document_name")
	req := bleve.NewSearchRequest(tq)
	req.Size = 10000
	results, err := i.index.Search(req)
	if err != nil {
		return fmt.Errorf("keyword delete lookup failed: %w", err)
	}
	if len(results.Hits) == 0 {
		return nil
	}
	batch := i.index.NewBatch()
	for _, hit := range results.Hits {
		batch.Delete(hit.ID)
	}
	return i.index.Batch(batch)
}

// Search runs a match query over chunk content and returns up to limit hits.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]*Hit, error) {
	mq := bleve.NewMatchQuery(query)
	mq.SetField("content")
	req := bleve.NewSearchRequest(mq)
	req.Size = limit
	results, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	out := make([]*Hit, len(results.Hits))
	for n, hit := range results.Hits {
		out[n] = &Hit{ChunkID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// ChunkCount returns the number of indexed chunks.
func (i *Index) ChunkCount() (uint64, error) {
	return i.index.DocCount()
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}
