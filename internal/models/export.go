package models

import "time"

// ExportFormatVersion is written into every export archive so future versions
// can detect and migrate old bundles.
const ExportFormatVersion = "1"

// ExportedTopicData is the topic.json metadata entry of an export archive. The
// archive additionally carries the vector store's native on-disk files.
type ExportedTopicData struct {
	Version        string      `json:"version"`
	Topic          *Topic      `json:"topic"`
	Documents      []*Document `json:"documents"`
	EmbeddingModel string      `json:"embedding_model"`
	ExportedAt     time.Time   `json:"exported_at"`
}
