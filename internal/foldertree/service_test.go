package foldertree

import (
	"path/filepath"
	"testing"

	"github.com/tana-search/tana/internal/models"
)

// checkSums verifies the aggregate invariant over a subtree.
func checkSums(t *testing.T, node *models.FolderNode) {
	t.Helper()
	if node.IsFile && len(node.Children) == 0 {
		return
	}
	sum := 0
	for _, child := range node.Children {
		checkSums(t, child)
		sum += child.ChunkCount
	}
	if node.ChunkCount != sum {
		t.Errorf("node %s chunkCount=%d, children sum=%d", node.Path, node.ChunkCount, sum)
	}
}

func TestUpdate_AggregatesBottomUp(t *testing.T) {
	s := NewService(t.TempDir())
	s.SetWatchFolders([]string{"/ws/docs"})

	if err := s.Update("t-1", "/ws/docs/a/one.txt", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.Update("t-1", "/ws/docs/a/two.txt", 5); err != nil {
		t.Fatal(err)
	}
	if err := s.Update("t-1", "/ws/docs/three.txt", 2); err != nil {
		t.Fatal(err)
	}

	forest := s.Forest("t-1")
	root := forest["/ws/docs"]
	if root == nil {
		t.Fatal("missing root")
	}
	checkSums(t, root)
	if root.ChunkCount != 17 {
		t.Errorf("root chunkCount = %d, want 17", root.ChunkCount)
	}
	if got := root.Children["a"].ChunkCount; got != 15 {
		t.Errorf("folder a chunkCount = %d, want 15", got)
	}
	if s.TotalChunks("t-1") != 17 {
		t.Errorf("TotalChunks = %d", s.TotalChunks("t-1"))
	}
}

func TestUpdate_ReplacesFileCount(t *testing.T) {
	s := NewService(t.TempDir())
	s.SetWatchFolders([]string{"/ws"})

	if err := s.Update("t-1", "/ws/a.txt", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.Update("t-1", "/ws/a.txt", 3); err != nil {
		t.Fatal(err)
	}
	if got := s.TotalChunks("t-1"); got != 3 {
		t.Errorf("TotalChunks = %d, want 3", got)
	}
}

func TestRemove_PrunesEmptyAncestors(t *testing.T) {
	s := NewService(t.TempDir())
	s.SetWatchFolders([]string{"/ws"})

	if err := s.Update("t-1", "/ws/a/b/deep.txt", 4); err != nil {
		t.Fatal(err)
	}
	if err := s.Update("t-1", "/ws/top.txt", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("t-1", "/ws/a/b/deep.txt"); err != nil {
		t.Fatal(err)
	}

	forest := s.Forest("t-1")
	root := forest["/ws"]
	if root == nil {
		t.Fatal("root should survive, top.txt remains")
	}
	if _, ok := root.Children["a"]; ok {
		t.Error("empty folder a should be pruned")
	}
	checkSums(t, root)
	if root.ChunkCount != 1 {
		t.Errorf("root chunkCount = %d, want 1", root.ChunkCount)
	}
}

func TestRemove_LastFilePrunesRoot(t *testing.T) {
	s := NewService(t.TempDir())
	s.SetWatchFolders([]string{"/ws"})

	if err := s.Update("t-1", "/ws/only.txt", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("t-1", "/ws/only.txt"); err != nil {
		t.Fatal(err)
	}
	if forest := s.Forest("t-1"); len(forest) != 0 {
		t.Errorf("forest should be empty, got %d roots", len(forest))
	}
	if s.TotalChunks("t-1") != 0 {
		t.Error("TotalChunks should be 0")
	}
}

func TestUnwatchedFileRootsAtParentDir(t *testing.T) {
	s := NewService(t.TempDir())
	s.SetWatchFolders([]string{"/ws/docs"})

	if err := s.Update("t-1", "/elsewhere/notes/n.txt", 7); err != nil {
		t.Fatal(err)
	}
	forest := s.Forest("t-1")
	if forest["/elsewhere/notes"] == nil {
		t.Fatalf("roots = %v", keys(forest))
	}
	if forest["/elsewhere/notes"].ChunkCount != 7 {
		t.Errorf("root chunkCount = %d", forest["/elsewhere/notes"].ChunkCount)
	}
}

func TestNestedWatchFoldersPreferLongest(t *testing.T) {
	s := NewService(t.TempDir())
	s.SetWatchFolders([]string{"/ws", "/ws/inner"})

	if err := s.Update("t-1", "/ws/inner/f.txt", 1); err != nil {
		t.Fatal(err)
	}
	if s.Forest("t-1")["/ws/inner"] == nil {
		t.Error("file should root at the nearest (longest) watch folder")
	}
}

func TestPersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewService(dir)
	s.SetWatchFolders([]string{"/ws"})
	if err := s.Update("t-1", "/ws/a/f.txt", 6); err != nil {
		t.Fatal(err)
	}

	fresh := NewService(dir)
	fresh.SetWatchFolders([]string{"/ws"})
	if err := fresh.Load("t-1"); err != nil {
		t.Fatal(err)
	}
	if fresh.TotalChunks("t-1") != 6 {
		t.Errorf("TotalChunks after load = %d", fresh.TotalChunks("t-1"))
	}

	if err := fresh.DeleteTopic("t-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := filepath.Glob(filepath.Join(dir, "folders", "t-1.json")); err != nil {
		t.Fatal(err)
	}
	again := NewService(dir)
	if err := again.Load("t-1"); err != nil {
		t.Fatal(err)
	}
	if again.TotalChunks("t-1") != 0 {
		t.Error("snapshot should be gone after DeleteTopic")
	}
}

func keys(m map[string]*models.FolderNode) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
