package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tana-search/tana/internal/models"
)

// On-disk layout under the storage root:
//
//	topics.json               topic index (every local topic + embedding model)
//	documents/<topicID>.json  document metadata, one file per topic
//	folders/<topicID>.json    folder usage tree snapshots (owned by foldertree)
//	topics/<topicID>/         vector store + keyword index (owned by vector)
const (
	indexFileName = "topics.json"
	documentsDir  = "documents"
)

func (m *Manager) indexPath() string {
	return filepath.Join(m.cfg.Storage.Root, indexFileName)
}

func (m *Manager) documentsPath(topicID string) string {
	return filepath.Join(m.cfg.Storage.Root, documentsDir, topicID+".json")
}

func (m *Manager) saveIndexLocked() error {
	if err := os.MkdirAll(m.cfg.Storage.Root, 0755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	data, err := json.MarshalIndent(m.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal topic index: %w", err)
	}
	if err := os.WriteFile(m.indexPath(), data, 0600); err != nil {
		return fmt.Errorf("write topic index: %w", err)
	}
	return nil
}

func (m *Manager) saveDocumentsLocked(topicID string) error {
	path := m.documentsPath(topicID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create documents dir: %w", err)
	}
	docs := m.documents[topicID]
	if docs == nil {
		docs = []*models.Document{}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal documents for %s: %w", topicID, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write documents for %s: %w", topicID, err)
	}
	return nil
}

// loadIndex reads a topic index file. Returns (nil, nil) when absent.
func loadIndex(path string) (*models.TopicIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read topic index: %w", err)
	}
	var index models.TopicIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse topic index: %w", err)
	}
	return &index, nil
}

// loadDocuments reads one topic's document metadata. Absent file means an
// empty topic.
func loadDocuments(path string) ([]*models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read documents: %w", err)
	}
	var docs []*models.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse documents: %w", err)
	}
	return docs, nil
}
