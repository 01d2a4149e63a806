package embedding

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Manager owns the active embedding model. Vectors produced under different
// models are not comparable, so every store records the model it was built with
// and the registry consults the manager before opening one.
type Manager struct {
	mu         sync.RWMutex
	active     string
	available  map[string]bool
	embedder   Embedder
	modelDir   string
	dimensions int
	maxTokens  int
	cacheSize  int
	logger     *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets a logger for debug output (model switches, fallbacks).
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager with model as the active embedding model.
// available lists the models present on disk (the active model is always
// considered available). modelPath points at the active model's ONNX file; when
// the file cannot be opened the manager falls back to the deterministic mock so
// the rest of the system stays operational.
func NewManager(model, modelPath string, available []string, dimensions, maxTokens, cacheSize int, opts ...ManagerOption) *Manager {
	m := &Manager{
		active:     model,
		available:  make(map[string]bool, len(available)+1),
		modelDir:   filepath.Dir(modelPath),
		dimensions: dimensions,
		maxTokens:  maxTokens,
		cacheSize:  cacheSize,
	}
	m.available[normalizeModel(model)] = true
	for _, a := range available {
		m.available[normalizeModel(a)] = true
	}
	for _, opt := range opts {
		opt(m)
	}
	m.embedder = m.openEmbedder(model, modelPath)
	return m
}

func (m *Manager) openEmbedder(model, modelPath string) Embedder {
	if modelPath != "" {
		if onnx, err := NewONNXEmbedder(modelPath, m.dimensions, m.maxTokens, m.cacheSize); err == nil {
			return onnx
		} else if m.logger != nil {
			m.logger.Warn("onnx embedder unavailable, using mock",
				zap.String("model", model), zap.Error(err))
		}
	}
	return NewMockEmbedder(m.dimensions)
}

// ActiveModel returns the name of the model currently producing vectors.
func (m *Manager) ActiveModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// IsAvailable reports whether model is downloaded and can be switched to.
func (m *Manager) IsAvailable(model string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available[normalizeModel(model)]
}

// Embedder returns the embedder for the active model.
func (m *Manager) Embedder() Embedder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.embedder
}

// Dimensions returns the embedding dimension of the active model.
func (m *Manager) Dimensions() int {
	return m.dimensions
}

// Switch makes model the active one, disposing the previous embedder. Fails
// when the model is not available; the active embedder is left untouched.
func (m *Manager) Switch(model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if normalizeModel(model) == normalizeModel(m.active) {
		return nil
	}
	if !m.available[normalizeModel(model)] {
		return fmt.Errorf("embedding model %q is not available", model)
	}
	old := m.embedder
	m.embedder = m.openEmbedder(model, filepath.Join(m.modelDir, model+".onnx"))
	m.active = model
	if old != nil {
		_ = old.Close()
	}
	if m.logger != nil {
		m.logger.Info("embedding model switched", zap.String("model", model))
	}
	return nil
}

// Close disposes the active embedder.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.embedder == nil {
		return nil
	}
	err := m.embedder.Close()
	m.embedder = nil
	return err
}

func normalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
