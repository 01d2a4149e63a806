// Package foldertree maintains per-topic folder usage trees: hierarchical
// chunk-count aggregation keyed by source folder.
package foldertree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/models"
)

// Service owns one rooted forest per topic. A file resolves to the nearest
// configured watch folder, or to its parent directory when unwatched. Every
// mutation is followed by a full bottom-up recompute, so the non-leaf sum
// invariant always holds, and a fresh snapshot is persisted.
type Service struct {
	mu           sync.Mutex
	dir          string
	watchFolders []string
	trees        map[string]map[string]*models.FolderNode // topicID -> rootPath -> tree
	logger       *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service persisting snapshots under <storageRoot>/folders.
func NewService(storageRoot string, opts ...ServiceOption) *Service {
	s := &Service{
		dir:   filepath.Join(storageRoot, "folders"),
		trees: make(map[string]map[string]*models.FolderNode),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetWatchFolders sets the folders used for root resolution. Longest matching
// folder wins when folders nest.
func (s *Service) SetWatchFolders(folders []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchFolders = make([]string, len(folders))
	for i, f := range folders {
		s.watchFolders[i] = filepath.Clean(f)
	}
	sort.Slice(s.watchFolders, func(i, j int) bool {
		return len(s.watchFolders[i]) > len(s.watchFolders[j])
	})
}

// Load reads the persisted snapshot for topicID, if any.
func (s *Service) Load(topicID string) error {
	data, err := os.ReadFile(s.snapshotPath(topicID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read folder tree for %s: %w", topicID, err)
	}
	forest := make(map[string]*models.FolderNode)
	if err := json.Unmarshal(data, &forest); err != nil {
		return fmt.Errorf("parse folder tree for %s: %w", topicID, err)
	}
	s.mu.Lock()
	s.trees[topicID] = forest
	s.mu.Unlock()
	return nil
}

// Update records that filePath now contributes chunkCount chunks to topicID,
// creating intermediate folder nodes as needed.
func (s *Service) Update(topicID, filePath string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath = filepath.Clean(filePath)
	root := s.resolveRootLocked(filePath)
	forest := s.trees[topicID]
	if forest == nil {
		forest = make(map[string]*models.FolderNode)
		s.trees[topicID] = forest
	}
	rootNode := forest[root]
	if rootNode == nil {
		rootNode = &models.FolderNode{
			Name:     filepath.Base(root),
			Path:     root,
			Children: make(map[string]*models.FolderNode),
		}
		forest[root] = rootNode
	}

	node := rootNode
	segments := pathSegments(root, filePath)
	for i, seg := range segments {
		if node.Children == nil {
			node.Children = make(map[string]*models.FolderNode)
		}
		child := node.Children[seg]
		if child == nil {
			child = &models.FolderNode{
				Name: seg,
				Path: filepath.Join(node.Path, seg),
			}
			node.Children[seg] = child
		}
		if i == len(segments)-1 {
			child.IsFile = true
			child.ChunkCount = chunkCount
		}
		node = child
	}

	recompute(rootNode)
	return s.persistLocked(topicID)
}

// Remove deletes filePath's node from topicID's tree and prunes any ancestor
// folder left empty. Removing an unknown path is a no-op.
func (s *Service) Remove(topicID, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath = filepath.Clean(filePath)
	root := s.resolveRootLocked(filePath)
	forest := s.trees[topicID]
	rootNode := forest[root]
	if rootNode == nil {
		return nil
	}

	segments := pathSegments(root, filePath)
	if len(segments) == 0 {
		return nil
	}
	// Collect the path of nodes from the root down to the file's parent.
	chain := []*models.FolderNode{rootNode}
	node := rootNode
	for _, seg := range segments[:len(segments)-1] {
		node = node.Children[seg]
		if node == nil {
			return nil
		}
		chain = append(chain, node)
	}
	leafSeg := segments[len(segments)-1]
	if node.Children[leafSeg] == nil {
		return nil
	}
	delete(node.Children, leafSeg)

	// Prune upward: drop folders left with no children, stopping at the first
	// ancestor that still has any.
	for i := len(chain) - 1; i > 0; i-- {
		if len(chain[i].Children) > 0 || chain[i].IsFile {
			break
		}
		delete(chain[i-1].Children, chain[i].Name)
	}
	if len(rootNode.Children) == 0 && !rootNode.IsFile {
		delete(forest, root)
	} else {
		recompute(rootNode)
	}
	return s.persistLocked(topicID)
}

// Forest returns a deep copy of topicID's trees keyed by root path.
func (s *Service) Forest(topicID string) map[string]*models.FolderNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	forest := s.trees[topicID]
	out := make(map[string]*models.FolderNode, len(forest))
	for root, node := range forest {
		out[root] = node.Clone()
	}
	return out
}

// TotalChunks returns the chunk total across all of topicID's roots.
func (s *Service) TotalChunks(topicID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, node := range s.trees[topicID] {
		total += node.ChunkCount
	}
	return total
}

// DeleteTopic drops topicID's in-memory trees and snapshot file.
func (s *Service) DeleteTopic(topicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trees, topicID)
	if err := os.Remove(s.snapshotPath(topicID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove folder tree for %s: %w", topicID, err)
	}
	return nil
}

func (s *Service) snapshotPath(topicID string) string {
	return filepath.Join(s.dir, topicID+".json")
}

func (s *Service) persistLocked(topicID string) error {
	forest := s.trees[topicID]
	if len(forest) == 0 {
		if err := os.Remove(s.snapshotPath(topicID)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create folders dir: %w", err)
	}
	data, err := json.MarshalIndent(forest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal folder tree for %s: %w", topicID, err)
	}
	if err := os.WriteFile(s.snapshotPath(topicID), data, 0600); err != nil {
		return fmt.Errorf("write folder tree for %s: %w", topicID, err)
	}
	if s.logger != nil {
		s.logger.Debug("folder tree persisted", zap.String("topic_id", topicID), zap.Int("roots", len(forest)))
	}
	return nil
}

// resolveRootLocked returns the nearest watch folder containing filePath, or
// the file's parent directory when no watch folder contains it.
func (s *Service) resolveRootLocked(filePath string) string {
	for _, folder := range s.watchFolders {
		if filePath == folder || strings.HasPrefix(filePath, folder+string(filepath.Separator)) {
			return folder
		}
	}
	return filepath.Dir(filePath)
}

// pathSegments returns the path elements from root (exclusive) down to path.
func pathSegments(root, path string) []string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return nil
	}
	return strings.Split(rel, string(filepath.Separator))
}

// recompute restores the aggregate invariant bottom-up: every non-file node's
// count is the sum of its children's.
func recompute(node *models.FolderNode) int {
	if node.IsFile && len(node.Children) == 0 {
		return node.ChunkCount
	}
	sum := 0
	for _, child := range node.Children {
		sum += recompute(child)
	}
	node.ChunkCount = sum
	return sum
}
