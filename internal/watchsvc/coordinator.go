// Package watchsvc drives ingestion from filesystem events: debounced
// batching over configured watch folders, seeded from the existing files.
package watchsvc

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/config"
	"github.com/tana-search/tana/internal/registry"
)

// DefaultTopicName is the topic watched files are indexed into when none
// exists yet.
const DefaultTopicName = "Workspace"

// Coordinator watches configured folders and feeds changed files through the
// registry. Events are debounced into batches: every event (re)arms a single
// timer, and only a quiet period flushes the pending set. Batches drain one at
// a time; files within a batch are processed sequentially so pause checks and
// progress stay per-file.
type Coordinator struct {
	cfg      config.WatchConfig
	registry *registry.Manager
	logger   *zap.Logger

	folders    []string
	extensions map[string]bool
	debounce   time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]bool
	timer    *time.Timer
	draining bool
	topicID  string
	started  bool

	done     chan struct{}
	stopOnce sync.Once
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets a logger for debug output (events, batch drains).
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator validates the watch configuration and builds a coordinator.
// Relative folders are resolved against the workspace root; absolute folders
// outside it are rejected.
func NewCoordinator(cfg config.WatchConfig, reg *registry.Manager, opts ...CoordinatorOption) (*Coordinator, error) {
	folders, err := normalizeFolders(cfg.WorkspaceRoot, cfg.Folders)
	if err != nil {
		return nil, err
	}
	extensions := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		extensions[strings.ToLower(ext)] = true
	}
	debounce := time.Duration(cfg.DebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = 400 * time.Millisecond
	}
	c := &Coordinator{
		cfg:        cfg,
		registry:   reg,
		folders:    folders,
		extensions: extensions,
		debounce:   debounce,
		pending:    make(map[string]bool),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func normalizeFolders(workspaceRoot string, folders []string) ([]string, error) {
	if len(folders) == 0 {
		return nil, nil
	}
	if workspaceRoot == "" {
		return nil, fmt.Errorf("watch folders configured but workspace_root is empty")
	}
	root := filepath.Clean(workspaceRoot)
	out := make([]string, 0, len(folders))
	for _, folder := range folders {
		resolved := folder
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(root, resolved)
		}
		resolved = filepath.Clean(resolved)
		if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return nil, fmt.Errorf("watch folder %q is outside workspace root %q", folder, root)
		}
		out = append(out, resolved)
	}
	return out, nil
}

// Folders returns the resolved watch folders.
func (c *Coordinator) Folders() []string {
	return append([]string{}, c.folders...)
}

// Watching reports whether the coordinator is running.
func (c *Coordinator) Watching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Start ensures the default topic, kicks off the seed scan, and attaches
// filesystem watchers. The seed scan runs off the activation path so startup
// is not blocked behind a large first index.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	topic, err := c.registry.TopicByName(ctx, DefaultTopicName)
	if err != nil {
		topic, err = c.registry.CreateTopic(ctx, DefaultTopicName, "Files indexed from watched folders", nil)
		if err != nil {
			return fmt.Errorf("ensure default topic: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, folder := range c.folders {
		if err := addRecursive(watcher, folder); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", folder, err)
		}
	}

	c.mu.Lock()
	c.watcher = watcher
	c.topicID = topic.ID
	c.started = true
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("watch coordinator started",
			zap.Strings("folders", c.folders),
			zap.String("topic_id", topic.ID),
		)
	}

	go c.seed(ctx)
	go c.run(ctx)
	return nil
}

// Stop detaches the watchers.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.watcher != nil {
			_ = c.watcher.Close()
		}
		if c.timer != nil {
			c.timer.Stop()
		}
		c.started = false
		c.mu.Unlock()
	})
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// seed indexes the files already present under the watch folders.
func (c *Coordinator) seed(ctx context.Context) {
	var paths []string
	for _, folder := range c.folders {
		_ = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if c.allowed(path) {
				paths = append(paths, path)
			}
			return nil
		})
	}
	if len(paths) == 0 {
		return
	}
	if c.logger != nil {
		c.logger.Info("seeding watched folders", zap.Int("files", len(paths)))
	}
	c.processBatch(ctx, paths)
}

func (c *Coordinator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-c.done:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(ctx, ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && c.logger != nil {
				c.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if c.logger != nil {
		c.logger.Debug("watch event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	// New directories need their own watch before their files produce events.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			c.mu.Lock()
			watcher := c.watcher
			c.mu.Unlock()
			if watcher != nil {
				_ = addRecursive(watcher, ev.Name)
			}
			return
		}
	}

	c.mu.Lock()
	c.pending[ev.Name] = true
	if c.timer == nil {
		c.timer = time.AfterFunc(c.debounce, func() { c.flush(ctx) })
	} else {
		c.timer.Reset(c.debounce)
	}
	c.mu.Unlock()
}

// flush drains the pending set as one batch. The draining flag keeps a new
// batch from starting while one is in flight; events that arrive meanwhile
// re-arm the flush once the current drain finishes.
func (c *Coordinator) flush(ctx context.Context) {
	c.mu.Lock()
	if c.draining {
		// Retry after the in-flight drain completes.
		c.timer.Reset(c.debounce)
		c.mu.Unlock()
		return
	}
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(c.pending))
	for path := range c.pending {
		batch = append(batch, path)
	}
	c.pending = make(map[string]bool)
	c.draining = true
	c.mu.Unlock()

	c.processBatch(ctx, batch)

	c.mu.Lock()
	c.draining = false
	rearm := len(c.pending) > 0
	if rearm {
		c.timer.Reset(c.debounce)
	}
	c.mu.Unlock()
}

// processBatch partitions the batch into changed files and deletions, then
// runs them through the registry. Changed files are re-added (the registry
// removes the previous version by path first); vanished paths are removed.
func (c *Coordinator) processBatch(ctx context.Context, batch []string) {
	c.mu.Lock()
	topicID := c.topicID
	c.mu.Unlock()

	var toIndex []string
	var toRemove []string
	for _, path := range batch {
		info, err := os.Stat(path)
		switch {
		case err == nil && info.IsDir():
			// ignore
		case err == nil:
			if c.allowed(path) {
				toIndex = append(toIndex, path)
			}
		case os.IsNotExist(err):
			toRemove = append(toRemove, path)
		}
	}

	for _, path := range toRemove {
		found, err := c.registry.RemoveDocumentByFilePath(ctx, topicID, path)
		if err != nil && c.logger != nil {
			c.logger.Warn("remove failed", zap.String("path", path), zap.Error(err))
		}
		if found && c.logger != nil {
			c.logger.Debug("document removed", zap.String("path", path))
		}
	}
	if len(toIndex) > 0 {
		if err := c.registry.AddDocuments(ctx, topicID, toIndex, registry.AddOptions{}); err != nil && c.logger != nil {
			c.logger.Warn("batch indexing failed", zap.Int("files", len(toIndex)), zap.Error(err))
		}
	}
}

// allowed filters by the case-insensitive extension allow-list. An empty list
// allows everything.
func (c *Coordinator) allowed(path string) bool {
	if len(c.extensions) == 0 {
		return true
	}
	return c.extensions[strings.ToLower(filepath.Ext(path))]
}
