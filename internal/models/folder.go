package models

// FolderNode is one node of a topic's folder usage tree. Non-leaf nodes hold the
// sum of their children's chunk counts; file nodes hold their own chunk count.
// Persisted as nested maps (the Children field), one snapshot file per topic.
type FolderNode struct {
	Name       string                 `json:"name"`
	Path       string                 `json:"path"`
	IsFile     bool                   `json:"is_file"`
	ChunkCount int                    `json:"chunk_count"`
	Children   map[string]*FolderNode `json:"children,omitempty"`
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *FolderNode) Clone() *FolderNode {
	c := *n
	if n.Children != nil {
		c.Children = make(map[string]*FolderNode, len(n.Children))
		for seg, child := range n.Children {
			c.Children[seg] = child.Clone()
		}
	}
	return &c
}
