// ABOUTME: Bottom-up tree builder with bounded fanout and depth
// ABOUTME: Scorer summaries with retry; excerpt fallback keeps builds moving

package tree

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nainya/treenav/pkg/chunker"
	"github.com/nainya/treenav/pkg/scorer"
)

const (
	// summaryAttempts bounds scorer retries per interior node
	summaryAttempts = 3
	// summaryBackoff is the initial retry delay, doubled per attempt
	summaryBackoff = 100 * time.Millisecond
	// defaultSummaryWords bounds generated summaries
	defaultSummaryWords = 40
)

// NodeStore persists built nodes. Writes are atomic per node.
type NodeStore interface {
	PutNode(ctx context.Context, n *Node) error
}

// BuildResult reports the outcome of one document build
type BuildResult struct {
	RootID     string
	NodeCount  int
	ChunkCount int
	Depth      int      // Level of the deepest leaf
	Warnings   []string // Non-fatal degradations (summary fallbacks)
}

// Builder groups leaf chunks bottom-up into a bounded tree, requesting
// interior summaries from the scorer capability.
type Builder struct {
	store        NodeStore
	scorer       scorer.Scorer
	maxFanout    int
	maxDepth     int
	summaryWords int
}

// BuilderOptions configures structural bounds
type BuilderOptions struct {
	MaxFanout    int // Maximum children per interior node (default 10)
	MaxDepth     int // Maximum leaf level (default 6)
	SummaryWords int // Word budget per generated summary (default 40)
}

// NewBuilder creates a tree builder writing through the given store
func NewBuilder(store NodeStore, sc scorer.Scorer, opts BuilderOptions) *Builder {
	if opts.MaxFanout <= 1 {
		opts.MaxFanout = DefaultMaxFanout
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.SummaryWords <= 0 {
		opts.SummaryWords = defaultSummaryWords
	}
	return &Builder{
		store:        store,
		scorer:       sc,
		maxFanout:    opts.MaxFanout,
		maxDepth:     opts.MaxDepth,
		summaryWords: opts.SummaryWords,
	}
}

// Build constructs the tree for one document and writes every node through
// the store. The manifest is the caller's to publish once Build returns.
func (b *Builder) Build(ctx context.Context, docID string, chunks []chunker.Chunk) (*BuildResult, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("build %q: %w", docID, chunker.ErrExtractionEmpty)
	}

	result := &BuildResult{ChunkCount: len(chunks)}
	now := time.Now().UTC()
	version := b.scorer.Version()

	leaves := make([]*Node, len(chunks))
	for i, ch := range chunks {
		fp := LeafFingerprint(docID, ch.Index, ch.Text, version)
		leaves[i] = &Node{
			ID:            LeafID(fp),
			Title:         fmt.Sprintf("Chunk %d", i+1),
			Summary:       truncateWords(ch.Text, b.summaryWords),
			DocID:         docID,
			StartOffset:   ch.StartOffset,
			EndOffset:     ch.EndOffset,
			Text:          ch.Text,
			WordCount:     ch.WordCount,
			Fingerprint:   fp,
			ScorerVersion: version,
			CreatedAt:     now,
		}
	}

	// Group bottom-up until a single root remains. When the next round
	// would push leaves past the depth bound, all remaining siblings are
	// forced under one root regardless of fanout.
	all := append([]*Node{}, leaves...)
	current := leaves
	round := 0
	for len(current) > 1 {
		round++
		groupSize := b.maxFanout
		if round >= b.maxDepth {
			groupSize = len(current)
		}
		var parents []*Node
		for i := 0; i < len(current); i += groupSize {
			end := i + groupSize
			if end > len(current) {
				end = len(current)
			}
			parent, err := b.groupNodes(ctx, docID, round, current[i:end], now, result)
			if err != nil {
				return nil, err
			}
			parents = append(parents, parent)
		}
		all = append(all, parents...)
		current = parents
	}

	root := current[0]
	root.Title = "Root"
	b.assignLevels(root, all)
	result.RootID = root.ID
	result.NodeCount = len(all)
	result.Depth = maxLevel(all)

	// Children before parents, so a reader never sees a parent whose
	// children are not yet durable.
	for _, n := range all {
		if err := b.store.PutNode(ctx, n); err != nil {
			return nil, fmt.Errorf("persist node %s: %w", n.ID, err)
		}
	}
	return result, nil
}

// groupNodes creates one interior parent over a block of siblings
func (b *Builder) groupNodes(ctx context.Context, docID string, round int, block []*Node, now time.Time, result *BuildResult) (*Node, error) {
	childFPs := make([]string, len(block))
	childIDs := make([]string, len(block))
	summaries := make([]string, 0, len(block))
	wordCount := 0
	for i, child := range block {
		childFPs[i] = child.Fingerprint
		childIDs[i] = child.ID
		wordCount += child.WordCount
		if child.Summary != "" {
			summaries = append(summaries, child.Summary)
		}
	}

	version := b.scorer.Version()
	fp := InteriorFingerprint(childFPs, version)
	id := InteriorID(round, fp)

	combined := strings.Join(summaries, " ")
	summary, fellBack, err := b.summarizeWithRetry(ctx, combined)
	if err != nil {
		return nil, err
	}
	if fellBack {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("node %s: summary fell back to excerpt after %d scorer attempts", id, summaryAttempts))
	}

	parent := &Node{
		ID:            id,
		ChildIDs:      childIDs,
		Summary:       summary,
		DocID:         docID,
		StartOffset:   block[0].StartOffset,
		EndOffset:     block[len(block)-1].EndOffset,
		WordCount:     wordCount,
		Fingerprint:   fp,
		ScorerVersion: version,
		SummaryFell:   fellBack,
		CreatedAt:     now,
	}
	for _, child := range block {
		child.ParentID = id
	}
	return parent, nil
}

// summarizeWithRetry calls the scorer up to summaryAttempts times with
// doubling backoff, then falls back to a truncated excerpt. The only hard
// error out of here is context cancellation.
func (b *Builder) summarizeWithRetry(ctx context.Context, text string) (summary string, fellBack bool, err error) {
	delay := summaryBackoff
	for attempt := 0; attempt < summaryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return "", false, ctx.Err()
			}
		}
		s, serr := b.scorer.Summarize(ctx, text, b.summaryWords)
		if serr == nil {
			return s, false, nil
		}
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
	}
	return truncateWords(text, b.summaryWords), true, nil
}

// assignLevels renumbers levels top-down from the root and titles interior
// nodes by their final level and sibling order.
func (b *Builder) assignLevels(root *Node, all []*Node) {
	byID := make(map[string]*Node, len(all))
	for _, n := range all {
		byID[n.ID] = n
	}

	root.Level = 0
	queue := []*Node{root}
	levelIndex := make(map[int]int)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if !n.IsLeaf() && n != root {
			idx := levelIndex[n.Level]
			n.Title = titleForLevel(n.Level, idx)
			levelIndex[n.Level] = idx + 1
		}
		for _, childID := range n.ChildIDs {
			child := byID[childID]
			child.Level = n.Level + 1
			queue = append(queue, child)
		}
	}
}

func titleForLevel(level, index int) string {
	switch level {
	case 1:
		return fmt.Sprintf("Volume %d", index+1)
	case 2:
		return fmt.Sprintf("Chapter %d", index+1)
	case 3:
		return fmt.Sprintf("Section %d", index+1)
	default:
		return fmt.Sprintf("Chunk Group %d", index+1)
	}
}

func maxLevel(nodes []*Node) int {
	depth := 0
	for _, n := range nodes {
		if n.Level > depth {
			depth = n.Level
		}
	}
	return depth
}

func truncateWords(text string, maxWords int) string {
	fields := strings.Fields(text)
	if len(fields) <= maxWords {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:maxWords], " ")
}
