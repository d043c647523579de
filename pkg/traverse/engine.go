// ABOUTME: Scoring-driven top-down traversal over the hierarchical index
// ABOUTME: Deterministic tie-breaks, relevance floor, degraded-but-terminating fallback

package traverse

import (
	"context"
	"time"

	"github.com/nainya/treenav/pkg/cache"
	"github.com/nainya/treenav/pkg/events"
	"github.com/nainya/treenav/pkg/scorer"
	"github.com/nainya/treenav/pkg/tree"
)

// NodeSource serves nodes through the read-through cache
type NodeSource interface {
	Get(ctx context.Context, id string) (*tree.Node, cache.Source, error)
}

// Recorder receives traversal activity counts
type Recorder interface {
	RecordNodeEvaluated()
	RecordTreeDepth(depth int)
	RecordRetrievalLatency(ms int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordNodeEvaluated()         {}
func (nopRecorder) RecordTreeDepth(int)          {}
func (nopRecorder) RecordRetrievalLatency(int64) {}

// Options bounds one traversal
type Options struct {
	MaxDepth       int           // Maximum levels to descend (default tree.DefaultMaxDepth)
	RelevanceFloor float64       // Stop descending when the top score falls below this
	QueryTimeout   time.Duration // Per-query budget; zero means no timeout
}

// Engine walks the tree top-down for one query at a time. It holds no
// shared mutable state across queries: each call builds its own trace, so
// concurrent retrievals only share the read-through cache.
type Engine struct {
	nodes    NodeSource
	scorer   scorer.Scorer
	bus      *events.Bus
	recorder Recorder
	opts     Options
}

// NewEngine creates a traversal engine. A nil recorder disables counting.
func NewEngine(nodes NodeSource, sc scorer.Scorer, bus *events.Bus, recorder Recorder, opts Options) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = tree.DefaultMaxDepth
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Engine{nodes: nodes, scorer: sc, bus: bus, recorder: recorder, opts: opts}
}

// Retrieve walks from rootID toward a leaf, selecting the highest-scoring
// child at each level. It always terminates with a usable (possibly
// degraded) context; the only hard failure is an unreadable root.
func (e *Engine) Retrieve(ctx context.Context, question, rootID string) (*Trace, error) {
	start := time.Now()
	if e.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.QueryTimeout)
		defer cancel()
	}

	trace := &Trace{Query: question}

	current, src, err := e.nodes.Get(ctx, rootID)
	if err != nil {
		trace.LatencyMs = time.Since(start).Milliseconds()
		return trace, err
	}
	e.countSource(trace, src)
	trace.Steps = append(trace.Steps, Step{
		NodeID:   current.ID,
		Title:    current.Title,
		Level:    current.Level,
		Selected: true,
	})
	trace.NodesTraversed = 1

	for !current.IsLeaf() && current.Level < e.opts.MaxDepth {
		// A query past its budget finalizes with the path selected so far
		if ctx.Err() != nil {
			break
		}

		children, cands, srcs := e.loadChildren(ctx, trace, current)
		if len(children) == 0 {
			break
		}

		scores, unavailable := e.scoreChildren(ctx, question, cands)
		if unavailable && ctx.Err() != nil {
			break
		}

		best := 0
		for i := 1; i < len(scores); i++ {
			// Ties break toward the lower original sibling index
			if scores[i] > scores[best] {
				best = i
			}
		}

		if !unavailable && scores[best] < e.opts.RelevanceFloor {
			// Nothing below is relevant enough; the current node stays
			// the selected context. Never backtrack to a sibling.
			for i, child := range children {
				trace.Steps = append(trace.Steps, Step{
					NodeID: child.ID,
					Title:  child.Title,
					Level:  child.Level,
					Score:  scores[i],
				})
			}
			break
		}

		winner := children[best]
		for i, child := range children {
			trace.Steps = append(trace.Steps, Step{
				NodeID:           child.ID,
				Title:            child.Title,
				Level:            child.Level,
				Score:            scores[i],
				Selected:         i == best,
				ScoreUnavailable: unavailable,
			})
		}
		e.bus.Publish(events.Event{
			Type:   events.TypeNodeSelected,
			NodeID: winner.ID,
			Level:  winner.Level,
			Source: string(srcs[best]),
			Title:  winner.Title,
		})

		current = winner
		trace.NodesTraversed++
	}

	trace.SelectedID = current.ID
	trace.SelectedTitle = current.Title
	trace.Context = current.Text
	if trace.Context == "" {
		trace.Context = current.Summary
	}
	trace.MaxDepth = current.Level
	trace.TokenEstimate = estimateTokens(trace.Context)
	trace.LatencyMs = time.Since(start).Milliseconds()

	e.recorder.RecordTreeDepth(trace.MaxDepth)
	e.recorder.RecordRetrievalLatency(trace.LatencyMs)
	e.bus.Publish(events.Event{Type: events.TypeAnswerGenerated})

	return trace, nil
}

// loadChildren hydrates the current node's children through the cache,
// emitting one node_evaluated event per child. Evaluation events for a
// level always precede that level's selection event. Stale child ids are
// reported with source "miss" and skipped. The returned sources are
// positionally aligned with children so the selection event can carry the
// winner's load source.
func (e *Engine) loadChildren(ctx context.Context, trace *Trace, parent *tree.Node) ([]*tree.Node, []scorer.Candidate, []cache.Source) {
	var children []*tree.Node
	var cands []scorer.Candidate
	var srcs []cache.Source
	for idx, childID := range parent.ChildIDs {
		child, src, err := e.nodes.Get(ctx, childID)
		if err != nil {
			e.bus.Publish(events.Event{
				Type:   events.TypeNodeEvaluated,
				NodeID: childID,
				Level:  parent.Level + 1,
				Source: "miss",
			})
			continue
		}
		e.countSource(trace, src)
		e.recorder.RecordNodeEvaluated()
		e.bus.Publish(events.Event{
			Type:   events.TypeNodeEvaluated,
			NodeID: child.ID,
			Level:  child.Level,
			Source: string(src),
			Title:  child.Title,
		})
		children = append(children, child)
		cands = append(cands, scorer.Candidate{
			ID:      child.ID,
			Title:   child.Title,
			Summary: child.Summary,
			Index:   idx,
		})
		srcs = append(srcs, src)
	}
	return children, cands, srcs
}

// scoreChildren asks the scorer for a batched ranking, retrying once. On
// exhaustion it returns zero scores with unavailable=true; the caller then
// falls back to the first child in original order.
func (e *Engine) scoreChildren(ctx context.Context, question string, cands []scorer.Candidate) ([]float64, bool) {
	for attempt := 0; attempt < 2; attempt++ {
		scores, err := e.scorer.ScoreBatch(ctx, question, cands)
		if err == nil && len(scores) == len(cands) {
			return scores, false
		}
		if ctx.Err() != nil {
			break
		}
	}
	return make([]float64, len(cands)), true
}

func (e *Engine) countSource(trace *Trace, src cache.Source) {
	switch src {
	case cache.SourceCache:
		trace.CacheHits++
	case cache.SourceDisk:
		trace.DiskLoads++
	}
}
