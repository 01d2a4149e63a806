package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// MetaFileName is the per-topic metadata file recording which embedding model
// built the store. Lives beside the database in the topic directory.
const MetaFileName = "store.json"

// Meta records how a topic's store was built.
type Meta struct {
	EmbeddingModel string    `json:"embedding_model"`
	Dimensions     int       `json:"dimensions"`
	CreatedAt      time.Time `json:"created_at"`
}

// Factory opens per-topic stores under a storage root for one embedding model.
// Topic directories live at <root>/topics/<topicID>; the database filename is
// model-qualified so stores built by different models never collide.
type Factory struct {
	root       string
	model      string
	dimensions int
}

// NewFactory returns a factory rooted at root for the given model.
func NewFactory(root, model string, dimensions int) *Factory {
	return &Factory{root: root, model: model, dimensions: dimensions}
}

// Model returns the embedding model this factory builds stores for.
func (f *Factory) Model() string {
	return f.model
}

// TopicDir returns the directory holding everything for one topic's store.
func (f *Factory) TopicDir(topicID string) string {
	return filepath.Join(f.root, "topics", topicID)
}

// DBFileName returns the model-qualified database filename.
func (f *Factory) DBFileName() string {
	return StoreFileName(f.model)
}

// Open opens (or creates) the store for topicID, writing the store metadata
// file on first creation.
func (f *Factory) Open(topicID string) (*Store, error) {
	dir := f.TopicDir(topicID)
	store, err := Open(filepath.Join(dir, f.DBFileName()), f.dimensions)
	if err != nil {
		return nil, err
	}
	metaPath := filepath.Join(dir, MetaFileName)
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		meta := &Meta{EmbeddingModel: f.model, Dimensions: f.dimensions, CreatedAt: time.Now()}
		if err := WriteMeta(metaPath, meta); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// ReadTopicMeta returns the store metadata for topicID, or nil when the topic
// has no store yet (a topic created before any ingestion).
func (f *Factory) ReadTopicMeta(topicID string) (*Meta, error) {
	return ReadMeta(filepath.Join(f.TopicDir(topicID), MetaFileName))
}

// DeleteTopic removes the topic's entire store directory.
func (f *Factory) DeleteTopic(topicID string) error {
	return os.RemoveAll(f.TopicDir(topicID))
}

// ReadMeta reads a store metadata file. Returns (nil, nil) when absent.
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse store meta: %w", err)
	}
	return &meta, nil
}

// WriteMeta writes a store metadata file, creating parent directories.
func WriteMeta(path string, meta *Meta) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store meta: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write store meta: %w", err)
	}
	return nil
}

var unsafeModelChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// StoreFileName returns the model-qualified database filename for model.
func StoreFileName(model string) string {
	safe := unsafeModelChars.ReplaceAllString(strings.TrimSpace(model), "-")
	return "store-" + safe + ".db"
}
