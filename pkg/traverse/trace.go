// ABOUTME: Traversal trace model: the ordered record of one query's decisions
// ABOUTME: Created once per query, immutable after completion, caller-owned

package traverse

// Step is one child evaluation or selection decision
type Step struct {
	NodeID           string  // Evaluated node id
	Title            string  // Node title
	Level            int     // Tree level of the node
	Score            float64 // Relevance score assigned by the scorer
	Selected         bool    // True for the winning node of its level
	ScoreUnavailable bool    // Scorer failed; score is not meaningful
}

// Trace records the full traversal for one query
type Trace struct {
	Query          string // The question being answered
	Steps          []Step // Ordered evaluation/selection decisions
	SelectedID     string // Final selected context node id
	SelectedTitle  string // Final selected context node title
	Context        string // Selected node's content for answer synthesis
	LatencyMs      int64  // Wall-clock traversal latency
	TokenEstimate  int    // Rough token count of the selected context
	NodesTraversed int    // Selected path length, root included
	CacheHits      int    // Nodes served from the in-memory cache
	DiskLoads      int    // Nodes hydrated from durable storage
	MaxDepth       int    // Deepest level reached
}

// estimateTokens approximates token count from character length
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
