package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/ingest"
	"github.com/tana-search/tana/internal/models"
)

// AddOptions controls an AddDocuments batch.
type AddOptions struct {
	// SkipProgress disables progress tracking (used by small internal batches).
	SkipProgress bool
}

// normalizePath is the canonical form used for document lookup.
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// AddDocuments ingests filePaths into a local topic, one file at a time. A
// per-file failure is logged and skipped; the batch continues. The pause flag
// is checked before every file. Topic index and document metadata are
// persisted once after the loop, not per file.
func (m *Manager) AddDocuments(ctx context.Context, topicID string, filePaths []string, opts AddOptions) error {
	if err := m.EnsureInitialized(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	topic := m.findLocked(topicID)
	if topic == nil {
		m.mu.Unlock()
		return fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	if topic.Source == models.SourceCommon {
		m.mu.Unlock()
		return fmt.Errorf("topic %s: %w", topicID, ErrReadOnlyTopic)
	}
	pipeline := m.pipeline
	topicName := topic.Name
	m.mu.Unlock()
	if pipeline == nil {
		return fmt.Errorf("no ingestion pipeline configured")
	}

	track := !opts.SkipProgress
	if track {
		m.progress.StartTracking(topicID, topicName, len(filePaths))
	}

	for _, path := range filePaths {
		if err := m.progress.WaitIfPaused(ctx, topicID); err != nil {
			if track {
				m.progress.Cancel(topicID)
			}
			return err
		}
		norm := normalizePath(path)
		docName := filepath.Base(norm)
		if track {
			m.progress.UpdateFile(topicID, norm, models.StageQueued, 0)
		}

		// Re-adding a path replaces the previous version entirely.
		if _, err := m.removeDocumentState(ctx, topicID, norm, false); err != nil && m.logger != nil {
			m.logger.Warn("stale document cleanup failed",
				zap.String("path", norm), zap.Error(err))
		}

		result, err := pipeline.IngestFile(ctx, ingest.Request{
			TopicID:      topicID,
			FilePath:     norm,
			DocumentName: docName,
			Progress: func(u ingest.ProgressUpdate) {
				if track {
					m.progress.UpdateFile(topicID, norm, u.Stage, 0)
				}
			},
		})
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("file ingestion failed, skipping",
					zap.String("path", norm), zap.String("topic_id", topicID), zap.Error(err))
			}
			if track {
				m.progress.UpdateFile(topicID, norm, models.StageFailed, 0)
				m.progress.FileDone(topicID, norm)
			}
			continue
		}

		doc := &models.Document{
			ID:         uuid.NewString(),
			TopicID:    topicID,
			Name:       docName,
			FilePath:   norm,
			FileType:   strings.TrimPrefix(strings.ToLower(filepath.Ext(norm)), "."),
			AddedAt:    time.Now(),
			ChunkCount: result.ChunksStored,
		}
		m.mu.Lock()
		m.documents[topicID] = append(m.documents[topicID], doc)
		m.mu.Unlock()
		if err := m.folders.Update(topicID, norm, result.ChunksStored); err != nil && m.logger != nil {
			m.logger.Warn("folder tree update failed", zap.String("path", norm), zap.Error(err))
		}
		if track {
			m.progress.FileDone(topicID, norm)
		}
	}

	// Single persistence point for the whole batch.
	m.mu.Lock()
	topic = m.findLocked(topicID)
	var err error
	if topic != nil {
		topic.DocumentCount = len(m.documents[topicID])
		topic.UpdatedAt = time.Now()
		if err = m.saveIndexLocked(); err == nil {
			err = m.saveDocumentsLocked(topicID)
		}
	}
	m.mu.Unlock()
	if track {
		m.progress.Complete(topicID)
	}
	return err
}

// RemoveDocumentByFilePath removes the document registered under filePath
// (normalized). Metadata removal is committed first; chunk deletion from the
// stores is best-effort afterwards. Returns whether a document was found.
func (m *Manager) RemoveDocumentByFilePath(ctx context.Context, topicID, filePath string) (bool, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	topic := m.findLocked(topicID)
	if topic == nil {
		m.mu.Unlock()
		return false, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	if topic.Source == models.SourceCommon {
		m.mu.Unlock()
		return false, fmt.Errorf("topic %s: %w", topicID, ErrReadOnlyTopic)
	}
	m.mu.Unlock()

	found, err := m.removeDocumentState(ctx, topicID, normalizePath(filePath), true)
	if err != nil {
		return found, err
	}
	return found, nil
}

// removeDocumentState drops the document registered under norm from metadata,
// stores, and the folder tree. When persist is false the caller owns the
// batch-level persistence.
func (m *Manager) removeDocumentState(ctx context.Context, topicID, norm string, persist bool) (bool, error) {
	m.mu.Lock()
	docs := m.documents[topicID]
	var removed *models.Document
	kept := docs[:0]
	for _, d := range docs {
		if removed == nil && d.FilePath == norm {
			removed = d
			continue
		}
		kept = append(kept, d)
	}
	if removed == nil {
		m.mu.Unlock()
		return false, nil
	}
	m.documents[topicID] = kept
	var err error
	if persist {
		if topic := m.findLocked(topicID); topic != nil {
			topic.DocumentCount = len(kept)
			topic.UpdatedAt = time.Now()
		}
		if err = m.saveIndexLocked(); err == nil {
			err = m.saveDocumentsLocked(topicID)
		}
	}
	m.mu.Unlock()
	if err != nil {
		return true, err
	}

	// Metadata removal is committed; store-side failures are non-fatal.
	if handle, herr := m.Handles(ctx, topicID); herr == nil {
		if _, derr := handle.Vector.DeleteByDocumentName(ctx, removed.Name); derr != nil && m.logger != nil {
			m.logger.Warn("chunk deletion failed", zap.String("document", removed.Name), zap.Error(derr))
		}
		if derr := handle.Keyword.DeleteByDocumentName(ctx, removed.Name); derr != nil && m.logger != nil {
			m.logger.Warn("keyword deletion failed", zap.String("document", removed.Name), zap.Error(derr))
		}
	} else if m.logger != nil {
		m.logger.Warn("store unavailable for chunk deletion", zap.String("topic_id", topicID), zap.Error(herr))
	}

	if ferr := m.folders.Remove(topicID, norm); ferr != nil && m.logger != nil {
		m.logger.Warn("folder tree removal failed", zap.String("path", norm), zap.Error(ferr))
	}
	return true, nil
}
