package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/registry"
)

// Cache holds one query agent per topic. It is distinct from the registry's
// vector-store cache: an agent additionally binds strategy configuration, and
// is invalidated through the registry's cleanup events rather than the
// registry reaching into this package.
type Cache struct {
	mu     sync.Mutex
	agents map[string]*Agent
	logger *zap.Logger
}

// NewCache creates an empty cache.
func NewCache(logger *zap.Logger) *Cache {
	return &Cache{agents: make(map[string]*Agent), logger: logger}
}

// Get returns the cached agent for topicID, if any.
func (c *Cache) Get(topicID string) (*Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[topicID]
	return a, ok
}

// Set caches the agent for topicID.
func (c *Cache) Set(topicID string, a *Agent) {
	c.mu.Lock()
	c.agents[topicID] = a
	c.mu.Unlock()
}

// Invalidate drops the agent for topicID.
func (c *Cache) Invalidate(topicID string) {
	c.mu.Lock()
	delete(c.agents, topicID)
	c.mu.Unlock()
}

// InvalidateAll drops every cached agent.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.agents = make(map[string]*Agent)
	c.mu.Unlock()
}

// Listen consumes registry cleanup events until the channel closes. Run it on
// its own goroutine at startup.
func (c *Cache) Listen(events <-chan registry.CleanupEvent) {
	for ev := range events {
		if ev.All {
			c.InvalidateAll()
		} else {
			c.Invalidate(ev.TopicID)
		}
		if c.logger != nil {
			c.logger.Debug("agent cache invalidated",
				zap.String("topic_id", ev.TopicID), zap.Bool("all", ev.All))
		}
	}
}
