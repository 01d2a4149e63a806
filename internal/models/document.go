package models

import "time"

// Document is one ingested source file within a topic. Keyed by generated ID;
// looked up operationally by normalized file path.
type Document struct {
	ID         string    `json:"id"`
	TopicID    string    `json:"topic_id"`
	Name       string    `json:"name"`
	FilePath   string    `json:"file_path"`
	FileType   string    `json:"file_type"`
	AddedAt    time.Time `json:"added_at"`
	ChunkCount int       `json:"chunk_count"`
}

// Chunk is the atomic unit stored in a topic's vector store.
type Chunk struct {
	ID           string            `json:"id"`
	DocumentName string            `json:"document_name"`
	Path         string            `json:"path"`
	Content      string            `json:"content"`
	ChunkIndex   int               `json:"chunk_index"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Embedding    []float32         `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
}
