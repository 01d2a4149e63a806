package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/models"
)

// Archive layout: one topic.json metadata entry plus the store's native files
// under store/. The store files keep their model-qualified names so an import
// lands with the correct model recorded.
const (
	archiveMetaEntry   = "topic.json"
	archiveStorePrefix = "store/"
)

// ExportTopic writes a local topic to a tar.gz archive at outPath.
func (m *Manager) ExportTopic(ctx context.Context, topicID, outPath string) error {
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
	// Close the cached handle so the database and keyword index are quiescent
	// on disk while we copy them. Dropping the handle makes any cached query
	// agent stale, so the eviction is announced like every other one.
	evicted := false
	if handle, ok := m.stores[topicID]; ok {
		handle.close()
		delete(m.stores, topicID)
		evicted = true
	}
	exported := &models.ExportedTopicData{
		Version:        models.ExportFormatVersion,
		Topic:          topic.Clone(),
		Documents:      append([]*models.Document{}, m.documents[topicID]...),
		EmbeddingModel: m.embeddings.ActiveModel(),
		ExportedAt:     time.Now(),
	}
	factory := m.factory
	m.mu.Unlock()
	if evicted {
		m.emitCleanup(CleanupEvent{TopicID: topicID})
	}

	if meta, err := factory.ReadTopicMeta(topicID); err == nil && meta != nil {
		exported.EmbeddingModel = meta.EmbeddingModel
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	metaJSON, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal topic metadata: %w", err)
	}
	if err := writeTarFile(tw, archiveMetaEntry, metaJSON); err != nil {
		return err
	}

	storeDir := factory.TopicDir(topicID)
	if _, err := os.Stat(storeDir); err == nil {
		walkErr := filepath.Walk(storeDir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, err := filepath.Rel(storeDir, path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return writeTarFile(tw, archiveStorePrefix+filepath.ToSlash(rel), data)
		})
		if walkErr != nil {
			return fmt.Errorf("archive store files: %w", walkErr)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("topic exported", zap.String("topic_id", topicID), zap.String("path", outPath))
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0600, Size: int64(len(data)), ModTime: time.Now()}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}

// ImportTopic loads an exported archive as a new local topic. The topic and
// every document get fresh IDs; a name collision appends an "(imported)"
// suffix instead of failing.
func (m *Manager) ImportTopic(ctx context.Context, archivePath string) (*models.Topic, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	in, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()
	gz, err := gzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer gz.Close()

	tmpDir, err := os.MkdirTemp(m.cfg.Storage.Root, "import-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var exported *models.ExportedTopicData
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		name := filepath.ToSlash(filepath.Clean(hdr.Name))
		switch {
		case name == archiveMetaEntry:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read topic metadata: %w", err)
			}
			var parsed models.ExportedTopicData
			if err := json.Unmarshal(data, &parsed); err != nil {
				return nil, fmt.Errorf("parse topic metadata: %w", err)
			}
			exported = &parsed
		case strings.HasPrefix(name, archiveStorePrefix):
			rel := strings.TrimPrefix(name, archiveStorePrefix)
			if rel == "" || strings.Contains(rel, "..") {
				continue
			}
			dest := filepath.Join(tmpDir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return nil, fmt.Errorf("stage store file %s: %w", rel, err)
			}
			f, err := os.Create(dest)
			if err != nil {
				return nil, fmt.Errorf("stage store file %s: %w", rel, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("stage store file %s: %w", rel, err)
			}
			if err := f.Close(); err != nil {
				return nil, err
			}
		}
	}
	if exported == nil || exported.Topic == nil {
		return nil, ErrArchiveInvalid
	}

	newID := newTopicID()

	m.mu.Lock()
	name := m.resolveImportNameLocked(exported.Topic.Name)
	topic := &models.Topic{
		ID:            newID,
		Name:          name,
		Description:   exported.Topic.Description,
		DocumentCount: len(exported.Documents),
		CreatedAt:     exported.Topic.CreatedAt,
		UpdatedAt:     time.Now(),
		Source:        models.SourceLocal,
	}
	docs := make([]*models.Document, len(exported.Documents))
	for i, d := range exported.Documents {
		c := *d
		c.ID = uuid.NewString()
		c.TopicID = newID
		docs[i] = &c
	}
	storeDest := m.factory.TopicDir(newID)
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(storeDest), 0755); err != nil {
		return nil, fmt.Errorf("create topics dir: %w", err)
	}
	if err := os.Rename(tmpDir, storeDest); err != nil {
		return nil, fmt.Errorf("install store files: %w", err)
	}

	m.mu.Lock()
	m.index.Topics = append(m.index.Topics, topic)
	m.documents[newID] = docs
	err = m.saveIndexLocked()
	if err == nil {
		err = m.saveDocumentsLocked(newID)
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Rebuild the usage tree from the imported metadata so listings report
	// chunk counts without re-ingesting.
	for _, d := range docs {
		if ferr := m.folders.Update(newID, d.FilePath, d.ChunkCount); ferr != nil && m.logger != nil {
			m.logger.Warn("folder tree update failed", zap.String("path", d.FilePath), zap.Error(ferr))
		}
	}

	if m.logger != nil {
		m.logger.Info("topic imported",
			zap.String("topic_id", newID),
			zap.String("name", name),
			zap.Int("documents", len(docs)),
		)
	}
	return topic.Clone(), nil
}

// resolveImportNameLocked picks a non-colliding name for an imported topic:
// the original, then "Name (imported)", then "Name (imported N)".
func (m *Manager) resolveImportNameLocked(name string) string {
	taken := func(candidate string) bool {
		for _, t := range m.index.Topics {
			if strings.EqualFold(t.Name, candidate) {
				return true
			}
		}
		for _, t := range m.commonTopics {
			if strings.EqualFold(t.Name, candidate) {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	candidate := name + " (imported)"
	for n := 2; taken(candidate); n++ {
		candidate = fmt.Sprintf("%s (imported %d)", name, n)
	}
	return candidate
}
