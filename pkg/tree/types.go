// ABOUTME: Node and manifest data model for the hierarchical index
// ABOUTME: Trees are append-only; rebuilt subtrees receive new ids

package tree

import (
	"errors"
	"time"
)

// Default structural bounds for built trees
const (
	DefaultMaxFanout = 10
	DefaultMaxDepth  = 6
)

// ErrManifestNotFound is returned when no manifest exists for a document
var ErrManifestNotFound = errors.New("manifest not found")

// Node is one entry in the hierarchical index. Nodes form a tree: every
// non-root node has exactly one parent, and ChildIDs is exactly the set of
// nodes whose ParentID references this node.
type Node struct {
	ID            string    // Stable, content-derived identifier
	ParentID      string    // Parent node id (empty for root)
	ChildIDs      []string  // Ordered child ids, unique, no duplicates
	Level         int       // Depth in the tree (0 for root)
	Title         string    // Section title
	Summary       string    // Summary (scorer-produced for interior nodes)
	DocID         string    // Owning document identifier
	StartOffset   int       // Content span start in the source document
	EndOffset     int       // Content span end (exclusive)
	Text          string    // Chunk text for leaves, empty for interior nodes
	WordCount     int       // Word count of the covered span
	Fingerprint   string    // Content hash of this node
	ScorerVersion string    // Scorer capability version used to produce it
	SummaryFell   bool      // Summary is a truncated-excerpt fallback
	CreatedAt     time.Time // Build timestamp
}

// IsLeaf reports whether the node has no children
func (n *Node) IsLeaf() bool {
	return len(n.ChildIDs) == 0
}

// Manifest records the current built tree for one logical document.
// Rebuilding with an identical fingerprint is a no-op that reuses RootID.
type Manifest struct {
	DocID           string    // Document name
	Fingerprint     string    // Content fingerprint of the source document
	RootID          string    // Root node of the current tree
	NodeCount       int       // Total nodes in the current tree
	ChunkCount      int       // Leaf chunks in the current tree
	SupersededRoots []string  // Roots of prior tree versions, retired but reachable
	BuiltAt         time.Time // Build timestamp
}
