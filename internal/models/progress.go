package models

import "time"

// Ingestion stages reported through progress records and pipeline callbacks.
const (
	StageQueued     = "queued"
	StageExtracting = "extracting"
	StageChunking   = "chunking"
	StageEmbedding  = "embedding"
	StageStoring    = "storing"
	StageDone       = "done"
	StageFailed     = "failed"
)

// FileProgress is the per-file entry inside an IndexingProgress record.
type FileProgress struct {
	Stage      string `json:"stage"`
	ChunkCount int    `json:"chunk_count,omitempty"`
}

// IndexingProgress is the live progress record for one topic's in-flight batch.
// At most one exists per topic at any time.
type IndexingProgress struct {
	TopicID        string                   `json:"topic_id"`
	TopicName      string                   `json:"topic_name"`
	TotalFiles     int                      `json:"total_files"`
	ProcessedFiles int                      `json:"processed_files"`
	Stage          string                   `json:"stage"`
	Percentage     float64                  `json:"percentage"`
	StartTime      time.Time                `json:"start_time"`
	ActiveFiles    map[string]*FileProgress `json:"active_files,omitempty"`
}

// Clone returns a deep copy so subscribers can read snapshots without racing
// against the coordinator.
func (p *IndexingProgress) Clone() *IndexingProgress {
	c := *p
	c.ActiveFiles = make(map[string]*FileProgress, len(p.ActiveFiles))
	for path, fp := range p.ActiveFiles {
		fc := *fp
		c.ActiveFiles[path] = &fc
	}
	return &c
}
