package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/keyword"
	"github.com/tana-search/tana/internal/models"
	"github.com/tana-search/tana/internal/vector"
)

// Handles returns the cached store handle for topicID, opening it on first
// use. The open is gated on embedding-model compatibility: a store built with
// a different model than the active one is refused with a ModelMismatchError
// rather than opened, whether or not the stored model is still available.
// Callers that can hot-switch decide based on availability.
func (m *Manager) Handles(ctx context.Context, topicID string) (*StoreHandle, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlesLocked(topicID)
}

func (m *Manager) handlesLocked(topicID string) (*StoreHandle, error) {
	if handle, ok := m.stores[topicID]; ok {
		return handle, nil
	}
	topic := m.findLocked(topicID)
	if topic == nil {
		return nil, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	factory := m.factory
	if topic.Source == models.SourceCommon {
		factory = m.commonFactory
	}
	if factory == nil {
		return nil, ErrNotInitialized
	}

	meta, err := factory.ReadTopicMeta(topicID)
	if err != nil {
		return nil, err
	}
	active := m.embeddings.ActiveModel()
	if meta != nil && !strings.EqualFold(meta.EmbeddingModel, active) {
		return nil, &ModelMismatchError{StoredModel: meta.EmbeddingModel, ActiveModel: active}
	}

	store, err := factory.Open(topicID)
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", topicID, err)
	}
	kw, err := keyword.Open(filepath.Join(factory.TopicDir(topicID), keyword.IndexDirName))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open keyword index for %s: %w", topicID, err)
	}
	handle := &StoreHandle{Vector: store, Keyword: kw}
	m.stores[topicID] = handle
	if m.logger != nil {
		m.logger.Debug("store opened", zap.String("topic_id", topicID), zap.String("model", active))
	}
	return handle, nil
}

// GetVectorStore returns the topic's vector store, enforcing the model gate.
func (m *Manager) GetVectorStore(ctx context.Context, topicID string) (*vector.Store, error) {
	handle, err := m.Handles(ctx, topicID)
	if err != nil {
		return nil, err
	}
	return handle.Vector, nil
}

// StoredModel returns the embedding model a topic's store was built with, or
// the active model when the topic has no store yet.
func (m *Manager) StoredModel(ctx context.Context, topicID string) (string, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	topic := m.findLocked(topicID)
	if topic == nil {
		return "", fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	factory := m.factory
	if topic.Source == models.SourceCommon {
		factory = m.commonFactory
	}
	meta, err := factory.ReadTopicMeta(topicID)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return m.embeddings.ActiveModel(), nil
	}
	return meta.EmbeddingModel, nil
}

// StoreChunks routes pipeline output into the topic's vector store and keyword
// index. Implements the ingestion pipeline's ChunkStore contract.
func (m *Manager) StoreChunks(ctx context.Context, topicID string, chunks []*models.Chunk) error {
	handle, err := m.Handles(ctx, topicID)
	if err != nil {
		return err
	}
	if err := handle.Vector.AddChunks(ctx, chunks); err != nil {
		return err
	}
	return handle.Keyword.IndexChunks(ctx, chunks)
}

// DeleteTopicVectorStore removes a topic's store files, its folder usage
// state, and its cached handle; topic and document metadata survive with
// chunk counts reset to zero, since the chunks no longer exist. A cleanup
// event tells the retrieval layer to drop its agent.
func (m *Manager) DeleteTopicVectorStore(ctx context.Context, topicID string) error {
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
	if handle, ok := m.stores[topicID]; ok {
		handle.close()
		delete(m.stores, topicID)
	}
	factory := m.factory
	m.mu.Unlock()

	if err := factory.DeleteTopic(topicID); err != nil {
		return fmt.Errorf("remove store for %s: %w", topicID, err)
	}
	if err := m.folders.DeleteTopic(topicID); err != nil {
		return err
	}

	m.mu.Lock()
	var err error
	if docs := m.documents[topicID]; len(docs) > 0 {
		for _, d := range docs {
			d.ChunkCount = 0
		}
		err = m.saveDocumentsLocked(topicID)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.emitCleanup(CleanupEvent{TopicID: topicID})
	return nil
}

// ReinitializeWithNewModel switches the active embedding model: the current
// factory is discarded, every cached handle closed, dependent caches notified,
// and the new model persisted into the topic index. Existing stores keep their
// old model-qualified files; topics must be re-ingested (or switched back) to
// be searchable under the new model.
func (m *Manager) ReinitializeWithNewModel(ctx context.Context, model string) error {
	if err := m.EnsureInitialized(ctx); err != nil {
		return err
	}
	if err := m.embeddings.Switch(model); err != nil {
		return err
	}

	m.mu.Lock()
	for id, handle := range m.stores {
		handle.close()
		delete(m.stores, id)
	}
	m.factory = vector.NewFactory(m.cfg.Storage.Root, m.embeddings.ActiveModel(), m.embeddings.Dimensions())
	if m.cfg.Storage.CommonRoot != "" {
		m.commonFactory = vector.NewFactory(m.cfg.Storage.CommonRoot, m.embeddings.ActiveModel(), m.embeddings.Dimensions())
	}
	m.index.EmbeddingModel = m.embeddings.ActiveModel()
	err := m.saveIndexLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.emitCleanup(CleanupEvent{All: true})
	if m.logger != nil {
		m.logger.Info("reinitialized with new embedding model", zap.String("model", model))
	}
	return nil
}
