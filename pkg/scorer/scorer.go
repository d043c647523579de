// ABOUTME: Scorer capability interface consumed by the tree builder and traversal engine
// ABOUTME: Abstracts relevance ranking and summarization behind one swappable contract

package scorer

import (
	"context"
	"errors"
)

// ErrScorerUnavailable indicates the scoring capability failed or timed out.
// Callers retry with backoff and fall back to degraded heuristics.
var ErrScorerUnavailable = errors.New("scorer unavailable")

// Candidate is one child node offered for relevance ranking
type Candidate struct {
	ID      string // Node id
	Title   string // Node title
	Summary string // Node summary
	Index   int    // Original sibling index, used for deterministic tie-breaks
}

// Scorer ranks candidates against a query and summarizes node content.
// Implementations must be safe for concurrent use.
type Scorer interface {
	// ScoreBatch returns one relevance score per candidate, same order as input
	ScoreBatch(ctx context.Context, query string, cands []Candidate) ([]float64, error)

	// Summarize produces a summary of text bounded by maxWords
	Summarize(ctx context.Context, text string, maxWords int) (string, error)

	// Version identifies the scoring capability for fingerprinting.
	// Content-identical rebuilds with the same version are skippable.
	Version() string
}
