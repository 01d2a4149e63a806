// Package progress tracks per-topic ingestion progress and implements
// cooperative global pause/resume.
package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/models"
)

const defaultCompletionGrace = 3 * time.Second

// Coordinator holds at most one live progress record per topic and fans out
// change events to subscribers. Pause is global and cooperative: ingestion
// loops call WaitIfPaused between files, so a pause takes effect within one
// file's processing.
type Coordinator struct {
	mu          sync.Mutex
	records     map[string]*models.IndexingProgress
	subscribers map[int]chan *models.IndexingProgress
	nextSubID   int
	paused      bool
	waiters     map[string][]chan struct{}
	grace       time.Duration
	logger      *zap.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithCompletionGrace overrides how long a finished record stays visible.
func WithCompletionGrace(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.grace = d }
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		records:     make(map[string]*models.IndexingProgress),
		subscribers: make(map[int]chan *models.IndexingProgress),
		waiters:     make(map[string][]chan struct{}),
		grace:       defaultCompletionGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartTracking creates the live record for topicID, replacing any stale one.
func (c *Coordinator) StartTracking(topicID, topicName string, totalFiles int) {
	c.mu.Lock()
	record := &models.IndexingProgress{
		TopicID:     topicID,
		TopicName:   topicName,
		TotalFiles:  totalFiles,
		Stage:       models.StageQueued,
		StartTime:   time.Now(),
		ActiveFiles: make(map[string]*models.FileProgress),
	}
	c.records[topicID] = record
	c.broadcastLocked(record)
	c.mu.Unlock()
}

// UpdateFile records the stage of one file within topicID's batch.
func (c *Coordinator) UpdateFile(topicID, path, stage string, chunkCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[topicID]
	if !ok {
		return
	}
	record.ActiveFiles[path] = &models.FileProgress{Stage: stage, ChunkCount: chunkCount}
	record.Stage = stage
	c.broadcastLocked(record)
}

// FileDone marks one file finished and advances the batch percentage.
func (c *Coordinator) FileDone(topicID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[topicID]
	if !ok {
		return
	}
	delete(record.ActiveFiles, path)
	record.ProcessedFiles++
	if record.TotalFiles > 0 {
		record.Percentage = float64(record.ProcessedFiles) / float64(record.TotalFiles) * 100
	}
	c.broadcastLocked(record)
}

// Complete marks topicID's batch done. The record stays visible for the grace
// period so observers can render the finished state, then is removed.
func (c *Coordinator) Complete(topicID string) {
	c.mu.Lock()
	record, ok := c.records[topicID]
	if !ok {
		c.mu.Unlock()
		return
	}
	record.Stage = models.StageDone
	record.Percentage = 100
	record.ActiveFiles = make(map[string]*models.FileProgress)
	c.broadcastLocked(record)
	c.mu.Unlock()

	time.AfterFunc(c.grace, func() {
		c.mu.Lock()
		if current, ok := c.records[topicID]; ok && current == record {
			delete(c.records, topicID)
		}
		c.mu.Unlock()
	})
}

// Cancel drops topicID's record immediately.
func (c *Coordinator) Cancel(topicID string) {
	c.mu.Lock()
	delete(c.records, topicID)
	c.mu.Unlock()
}

// Get returns a snapshot of topicID's record, or nil.
func (c *Coordinator) Get(topicID string) *models.IndexingProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	if record, ok := c.records[topicID]; ok {
		return record.Clone()
	}
	return nil
}

// Snapshot returns clones of every live record.
func (c *Coordinator) Snapshot() []*models.IndexingProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.IndexingProgress, 0, len(c.records))
	for _, record := range c.records {
		out = append(out, record.Clone())
	}
	return out
}

// Active returns the number of topics with an in-flight batch.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Subscribe registers a change listener. Events are dropped rather than
// blocking the coordinator when the subscriber falls behind.
func (c *Coordinator) Subscribe() (int, <-chan *models.IndexingProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	ch := make(chan *models.IndexingProgress, 16)
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (c *Coordinator) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		delete(c.subscribers, id)
		close(ch)
	}
}

func (c *Coordinator) broadcastLocked(record *models.IndexingProgress) {
	if len(c.subscribers) == 0 {
		return
	}
	snapshot := record.Clone()
	for _, ch := range c.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Pause sets the global pause flag. Idempotent.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	if c.logger != nil {
		c.logger.Info("ingestion paused")
	}
}

// Resume clears the pause flag and releases every parked caller.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	for topicID, queue := range c.waiters {
		for _, ch := range queue {
			close(ch)
		}
		delete(c.waiters, topicID)
	}
	if c.logger != nil {
		c.logger.Info("ingestion resumed")
	}
}

// Paused reports the global pause flag.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// WaitIfPaused blocks the caller while paused, parking it on topicID's queue
// until Resume. Returns the context error if ctx is cancelled while parked.
func (c *Coordinator) WaitIfPaused(ctx context.Context, topicID string) error {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.waiters[topicID] = append(c.waiters[topicID], ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
