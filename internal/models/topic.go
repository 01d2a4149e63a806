// Package models defines core data structures for topics, documents, chunks, and search.
package models

import "time"

// TopicSource identifies which registry a topic belongs to.
type TopicSource string

const (
	// SourceLocal marks a topic owned by the mutable local registry.
	SourceLocal TopicSource = "local"
	// SourceCommon marks a topic mounted read-only from the common registry path.
	SourceCommon TopicSource = "common"
)

// Topic is a named, independently embedded collection of indexed documents.
type Topic struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	DocumentCount int         `json:"document_count"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Source        TopicSource `json:"source"`
}

// Clone returns a copy of the topic so callers cannot mutate registry state.
func (t *Topic) Clone() *Topic {
	c := *t
	return &c
}

// TopicIndex is the persisted topic-index file: every local topic plus the
// embedding model the registry is currently built with.
type TopicIndex struct {
	EmbeddingModel string   `json:"embedding_model"`
	Topics         []*Topic `json:"topics"`
}
