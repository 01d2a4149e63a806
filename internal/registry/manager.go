// Package registry owns topic metadata, document metadata, and vector-store
// lifecycle: creation, ingestion bookkeeping, model compatibility, export and
// import.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tana-search/tana/internal/config"
	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/foldertree"
	"github.com/tana-search/tana/internal/ingest"
	"github.com/tana-search/tana/internal/keyword"
	"github.com/tana-search/tana/internal/models"
	"github.com/tana-search/tana/internal/progress"
	"github.com/tana-search/tana/internal/vector"
)

// StoreHandle bundles the two per-topic indexes that must be opened, cached,
// and invalidated together.
type StoreHandle struct {
	Vector  *vector.Store
	Keyword *keyword.Index
}

func (h *StoreHandle) close() {
	_ = h.Vector.Close()
	_ = h.Keyword.Close()
}

// CleanupEvent announces that cached state derived from a topic's store is
// stale. All=true means every topic (model reinitialization).
type CleanupEvent struct {
	TopicID string
	All     bool
}

// Manager is the topic registry and vector-store lifecycle manager. One
// instance is constructed at startup and shared by every component.
type Manager struct {
	mu         sync.Mutex
	cfg        *config.Config
	logger     *zap.Logger
	embeddings *embedding.Manager
	progress   *progress.Coordinator
	folders    *foldertree.Service
	pipeline   ingest.Pipeline

	initGroup   singleflight.Group
	initialized bool

	index        *models.TopicIndex
	commonTopics []*models.Topic
	documents    map[string][]*models.Document

	factory       *vector.Factory
	commonFactory *vector.Factory
	stores        map[string]*StoreHandle

	cleanupCh chan CleanupEvent
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an uninitialized manager. Call SetPipeline before any
// ingestion, and EnsureInitialized before everything else.
func NewManager(cfg *config.Config, embeddings *embedding.Manager, prog *progress.Coordinator, folders *foldertree.Service, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:        cfg,
		embeddings: embeddings,
		progress:   prog,
		folders:    folders,
		documents:  make(map[string][]*models.Document),
		stores:     make(map[string]*StoreHandle),
		cleanupCh:  make(chan CleanupEvent, 64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetPipeline wires the ingestion pipeline. The pipeline writes chunks back
// through the manager's ChunkStore implementation, so the two are constructed
// in sequence at startup.
func (m *Manager) SetPipeline(p ingest.Pipeline) {
	m.mu.Lock()
	m.pipeline = p
	m.mu.Unlock()
}

// CleanupEvents returns the stream of cache-invalidation notifications.
// Consumers (the query-agent cache) subscribe instead of the registry calling
// into them, which keeps the dependency one-way.
func (m *Manager) CleanupEvents() <-chan CleanupEvent {
	return m.cleanupCh
}

func (m *Manager) emitCleanup(ev CleanupEvent) {
	select {
	case m.cleanupCh <- ev:
	default:
		if m.logger != nil {
			m.logger.Warn("cleanup event dropped", zap.String("topic_id", ev.TopicID), zap.Bool("all", ev.All))
		}
	}
}

// EnsureInitialized loads all persisted state exactly once. Concurrent callers
// block on the same in-flight initialization; a failure invalidates the
// attempt so the next call retries from scratch.
func (m *Manager) EnsureInitialized(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	_, err, _ := m.initGroup.Do("init", func() (interface{}, error) {
		return nil, m.initialize(ctx)
	})
	return err
}

// Initialized reports whether initialization has completed successfully.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *Manager) initialize(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.Storage.Root, 0755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	activeModel := m.embeddings.ActiveModel()
	index, err := loadIndex(filepath.Join(m.cfg.Storage.Root, indexFileName))
	if err != nil {
		return err
	}
	if index == nil {
		index = &models.TopicIndex{EmbeddingModel: activeModel, Topics: []*models.Topic{}}
	}
	if index.EmbeddingModel == "" {
		index.EmbeddingModel = activeModel
	}
	for _, t := range index.Topics {
		t.Source = models.SourceLocal
	}

	documents := make(map[string][]*models.Document, len(index.Topics))
	var docMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range index.Topics {
		topic := topic
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs, err := loadDocuments(filepath.Join(m.cfg.Storage.Root, documentsDir, topic.ID+".json"))
			if err != nil {
				return fmt.Errorf("topic %s: %w", topic.ID, err)
			}
			docMu.Lock()
			documents[topic.ID] = docs
			docMu.Unlock()
			return m.folders.Load(topic.ID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	commonTopics, commonDocs, err := m.loadCommonRegistry(index.Topics)
	if err != nil {
		return err
	}
	for id, docs := range commonDocs {
		documents[id] = docs
	}

	m.mu.Lock()
	m.index = index
	m.documents = documents
	m.commonTopics = commonTopics
	m.factory = vector.NewFactory(m.cfg.Storage.Root, activeModel, m.embeddings.Dimensions())
	if m.cfg.Storage.CommonRoot != "" {
		m.commonFactory = vector.NewFactory(m.cfg.Storage.CommonRoot, activeModel, m.embeddings.Dimensions())
	}
	m.initialized = true
	m.mu.Unlock()

	if err := m.persistIndex(); err != nil {
		m.mu.Lock()
		m.initialized = false
		m.mu.Unlock()
		return err
	}
	if m.logger != nil {
		m.logger.Info("registry initialized",
			zap.Int("local_topics", len(index.Topics)),
			zap.Int("common_topics", len(commonTopics)),
			zap.String("embedding_model", activeModel),
		)
	}
	return nil
}

// loadCommonRegistry loads the optional read-only topic set. Any name
// collision with a local topic aborts the whole common load; the local
// registry stays fully usable.
func (m *Manager) loadCommonRegistry(local []*models.Topic) ([]*models.Topic, map[string][]*models.Document, error) {
	if m.cfg.Storage.CommonRoot == "" {
		return nil, nil, nil
	}
	index, err := loadIndex(filepath.Join(m.cfg.Storage.CommonRoot, indexFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("common registry: %w", err)
	}
	if index == nil || len(index.Topics) == 0 {
		return nil, nil, nil
	}
	localNames := make(map[string]bool, len(local))
	for _, t := range local {
		localNames[strings.ToLower(t.Name)] = true
	}
	for _, t := range index.Topics {
		if localNames[strings.ToLower(t.Name)] {
			if m.logger != nil {
				m.logger.Warn("common registry skipped: topic name collides with local registry",
					zap.String("name", t.Name))
			}
			return nil, nil, nil
		}
	}
	docs := make(map[string][]*models.Document, len(index.Topics))
	for _, t := range index.Topics {
		t.Source = models.SourceCommon
		d, err := loadDocuments(filepath.Join(m.cfg.Storage.CommonRoot, documentsDir, t.ID+".json"))
		if err != nil {
			return nil, nil, fmt.Errorf("common registry topic %s: %w", t.ID, err)
		}
		docs[t.ID] = d
	}
	return index.Topics, docs, nil
}

func (m *Manager) persistIndex() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveIndexLocked()
}

// newTopicID builds a time-prefixed random ID, sortable by creation time.
func newTopicID() string {
	return fmt.Sprintf("t-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// CreateTopic creates a local topic and ingests any initial documents.
func (m *Manager) CreateTopic(ctx context.Context, name, description string, initialDocuments []string) (*models.Topic, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("topic name cannot be empty")
	}

	m.mu.Lock()
	for _, t := range m.index.Topics {
		if strings.EqualFold(t.Name, name) {
			m.mu.Unlock()
			return nil, fmt.Errorf("%q: %w", name, ErrDuplicateName)
		}
	}
	now := time.Now()
	topic := &models.Topic{
		ID:          newTopicID(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Source:      models.SourceLocal,
	}
	m.index.Topics = append(m.index.Topics, topic)
	if err := m.saveIndexLocked(); err != nil {
		m.index.Topics = m.index.Topics[:len(m.index.Topics)-1]
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("topic created", zap.String("topic_id", topic.ID), zap.String("name", name))
	}
	if len(initialDocuments) > 0 {
		if err := m.AddDocuments(ctx, topic.ID, initialDocuments, AddOptions{}); err != nil {
			return nil, err
		}
	}
	return m.Topic(ctx, topic.ID)
}

// Topics returns every visible topic, local then common.
func (m *Manager) Topics(ctx context.Context) ([]*models.Topic, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Topic, 0, len(m.index.Topics)+len(m.commonTopics))
	for _, t := range m.index.Topics {
		out = append(out, t.Clone())
	}
	for _, t := range m.commonTopics {
		out = append(out, t.Clone())
	}
	return out, nil
}

// Topic returns the topic with the given ID.
func (m *Manager) Topic(ctx context.Context, topicID string) (*models.Topic, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.findLocked(topicID); t != nil {
		return t.Clone(), nil
	}
	return nil, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
}

// TopicByName resolves a topic by name, case-insensitively, across both
// registries.
func (m *Manager) TopicByName(ctx context.Context, name string) (*models.Topic, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.index.Topics {
		if strings.EqualFold(t.Name, name) {
			return t.Clone(), nil
		}
	}
	for _, t := range m.commonTopics {
		if strings.EqualFold(t.Name, name) {
			return t.Clone(), nil
		}
	}
	return nil, fmt.Errorf("topic %q: %w", name, ErrNotFound)
}

// findLocked returns the live topic struct for topicID, local or common.
func (m *Manager) findLocked(topicID string) *models.Topic {
	for _, t := range m.index.Topics {
		if t.ID == topicID {
			return t
		}
	}
	for _, t := range m.commonTopics {
		if t.ID == topicID {
			return t
		}
	}
	return nil
}

// RenameTopic renames a local topic, enforcing name uniqueness.
func (m *Manager) RenameTopic(ctx context.Context, topicID, newName string) error {
	if err := m.EnsureInitialized(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(newName) == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	topic := m.findLocked(topicID)
	if topic == nil {
		return fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	if topic.Source == models.SourceCommon {
		return fmt.Errorf("topic %s: %w", topicID, ErrReadOnlyTopic)
	}
	for _, t := range m.index.Topics {
		if t.ID != topicID && strings.EqualFold(t.Name, newName) {
			return fmt.Errorf("%q: %w", newName, ErrDuplicateName)
		}
	}
	topic.Name = newName
	topic.UpdatedAt = time.Now()
	return m.saveIndexLocked()
}

// UpdateTopicDescription updates a local topic's description.
func (m *Manager) UpdateTopicDescription(ctx context.Context, topicID, description string) error {
	if err := m.EnsureInitialized(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	topic := m.findLocked(topicID)
	if topic == nil {
		return fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	if topic.Source == models.SourceCommon {
		return fmt.Errorf("topic %s: %w", topicID, ErrReadOnlyTopic)
	}
	topic.Description = description
	topic.UpdatedAt = time.Now()
	return m.saveIndexLocked()
}

// DeleteTopic removes a local topic and all dependent state: metadata,
// documents, folder tree, store files, caches, and any live progress record.
func (m *Manager) DeleteTopic(ctx context.Context, topicID string) error {
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
	kept := m.index.Topics[:0]
	for _, t := range m.index.Topics {
		if t.ID != topicID {
			kept = append(kept, t)
		}
	}
	m.index.Topics = kept
	delete(m.documents, topicID)
	if handle, ok := m.stores[topicID]; ok {
		handle.close()
		delete(m.stores, topicID)
	}
	if err := m.saveIndexLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	factory := m.factory
	m.mu.Unlock()

	if err := os.Remove(m.documentsPath(topicID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove documents for %s: %w", topicID, err)
	}
	if err := m.folders.DeleteTopic(topicID); err != nil {
		return err
	}
	if err := factory.DeleteTopic(topicID); err != nil {
		return fmt.Errorf("remove store for %s: %w", topicID, err)
	}
	m.progress.Cancel(topicID)
	m.emitCleanup(CleanupEvent{TopicID: topicID})
	if m.logger != nil {
		m.logger.Info("topic deleted", zap.String("topic_id", topicID))
	}
	return nil
}

// Documents returns the document metadata registered to topicID.
func (m *Manager) Documents(ctx context.Context, topicID string) ([]*models.Document, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findLocked(topicID) == nil {
		return nil, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	docs := m.documents[topicID]
	out := make([]*models.Document, len(docs))
	for i, d := range docs {
		c := *d
		out[i] = &c
	}
	return out, nil
}

// ChunkCount returns the cached chunk total for a topic from its folder usage
// tree. Zero when no tree exists; listings tolerate the absence.
func (m *Manager) ChunkCount(topicID string) int {
	return m.folders.TotalChunks(topicID)
}

// TotalTopics returns the count of visible topics for /status.
func (m *Manager) TotalTopics() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == nil {
		return 0
	}
	return len(m.index.Topics) + len(m.commonTopics)
}
