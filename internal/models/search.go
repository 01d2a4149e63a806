package models

import "fmt"

// Retrieval strategies supported by query agents.
const (
	StrategySimilarity = "similarity"
	StrategyHybrid     = "hybrid"
)

// SearchRequest is a search against one topic (or the first available topic
// when Topic is empty).
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// Validate checks the request and normalizes the limit into [1, maxLimit].
func (r *SearchRequest) Validate(defaultLimit, maxLimit int) error {
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.Limit <= 0 {
		r.Limit = defaultLimit
	}
	if maxLimit > 0 && r.Limit > maxLimit {
		r.Limit = maxLimit
	}
	return nil
}

// SearchResult is one ranked hit returned by a query agent.
type SearchResult struct {
	Content  string            `json:"content"`
	Path     string            `json:"path"`
	Score    float64           `json:"score"`
	Topic    string            `json:"topic"`
	ChunkID  string            `json:"chunk_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchResponse is the /search response body.
type SearchResponse struct {
	Query         string          `json:"query"`
	Results       []*SearchResult `json:"results"`
	TotalResults  int             `json:"total_results"`
	ExecutionTime int64           `json:"execution_time_ms"`
	Strategy      string          `json:"strategy"`
}
