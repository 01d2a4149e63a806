package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/agent"
	"github.com/tana-search/tana/internal/models"
	"github.com/tana-search/tana/internal/registry"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// errNoTopics is the empty-registry search failure; clients treat it as 404.
var errNoTopics = errors.New("No topics available")

// statusFor maps the registry error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var mismatch *registry.ModelMismatchError
	switch {
	case errors.Is(err, registry.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, errNoTopics):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateName), errors.Is(err, registry.ErrArchiveInvalid):
		return http.StatusBadRequest
	case errors.As(err, &mismatch):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "Missing required parameter: q")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}
	req := &models.SearchRequest{Query: query, Limit: limit, Topic: r.URL.Query().Get("topic")}
	if err := req.Validate(s.cfg.Search.DefaultLimit, s.cfg.Search.MaxLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := s.registry.EnsureInitialized(ctx); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "Core is not initialized: "+err.Error())
		return
	}

	topic, err := s.resolveTopic(ctx, req.Topic)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	a, err := s.agentFor(ctx, topic)
	if err != nil {
		s.logger.Error("agent unavailable", zap.String("topic", topic.Name), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	start := time.Now()
	results, err := a.Search(ctx, req.Query, req.Limit)
	if err != nil {
		s.logger.Error("search failed", zap.String("topic", topic.Name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, &models.SearchResponse{
		Query:         req.Query,
		Results:       results,
		TotalResults:  len(results),
		ExecutionTime: time.Since(start).Milliseconds(),
		Strategy:      s.cfg.Search.Strategy,
	})
}

// resolveTopic picks the explicitly named topic, or the first available one.
func (s *Server) resolveTopic(ctx context.Context, name string) (*models.Topic, error) {
	if name != "" {
		return s.registry.TopicByName(ctx, name)
	}
	topics, err := s.registry.Topics(ctx)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, errNoTopics
	}
	return topics[0], nil
}

// agentFor returns the cached query agent for a topic, building one on miss.
// On a model mismatch it hot-switches the active model to the topic's stored
// model when that model is available; otherwise the mismatch error (naming
// both models) is surfaced.
func (s *Server) agentFor(ctx context.Context, topic *models.Topic) (*agent.Agent, error) {
	if a, ok := s.agents.Get(topic.ID); ok {
		return a, nil
	}

	handle, err := s.registry.Handles(ctx, topic.ID)
	var mismatch *registry.ModelMismatchError
	if errors.As(err, &mismatch) && s.embeddings.IsAvailable(mismatch.StoredModel) {
		s.logger.Info("switching embedding model for topic",
			zap.String("topic", topic.Name),
			zap.String("from", mismatch.ActiveModel),
			zap.String("to", mismatch.StoredModel),
		)
		if err := s.registry.ReinitializeWithNewModel(ctx, mismatch.StoredModel); err != nil {
			return nil, err
		}
		s.agents.InvalidateAll()
		handle, err = s.registry.Handles(ctx, topic.ID)
	}
	if err != nil {
		return nil, err
	}

	a := agent.New(topic.Name, handle.Vector, handle.Keyword, s.embeddings.Embedder(), agent.Config{
		Strategy:   s.cfg.Search.Strategy,
		Candidates: s.cfg.Search.Candidates,
		MinScore:   s.cfg.Search.MinScore,
	}, s.logger)
	s.agents.Set(topic.ID, a)
	return a, nil
}

// topicInfo is the topic shape returned by the listing and detail endpoints.
type topicInfo struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	DocumentCount  int                `json:"document_count"`
	ChunkCount     int                `json:"chunk_count"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	EmbeddingModel string             `json:"embedding_model"`
	Source         models.TopicSource `json:"source"`
}

func (s *Server) topicInfo(ctx context.Context, t *models.Topic) topicInfo {
	model, err := s.registry.StoredModel(ctx, t.ID)
	if err != nil {
		model = s.embeddings.ActiveModel()
	}
	return topicInfo{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		DocumentCount:  t.DocumentCount,
		ChunkCount:     s.registry.ChunkCount(t.ID),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		EmbeddingModel: model,
		Source:         t.Source,
	}
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topics, err := s.registry.Topics(ctx)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	infos := make([]topicInfo, len(topics))
	for i, t := range topics {
		infos[i] = s.topicInfo(ctx, t)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"topics": infos})
}

func (s *Server) handleTopicByName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	topic, err := s.registry.TopicByName(ctx, name)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	docs, err := s.registry.Documents(ctx, topic.ID)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"topic":     s.topicInfo(ctx, topic),
		"documents": docs,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.EnsureInitialized(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "Core is not initialized: "+err.Error())
		return
	}

	state := "idle"
	switch {
	case s.progress.Paused():
		state = "paused"
	case s.progress.Active() > 0:
		state = "indexing"
	}
	watching := false
	var watchFolders []string
	if s.watch != nil {
		watching = s.watch.Watching()
		watchFolders = s.watch.Folders()
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            state,
		"watching":          watching,
		"watch_folders":     watchFolders,
		"active_operations": s.progress.Snapshot(),
		"embedding_model":   s.embeddings.ActiveModel(),
		"total_topics":      s.registry.TotalTopics(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.progress.Pause()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.progress.Resume()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}
