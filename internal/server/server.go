// Package server wires the treenav components behind a single facade
package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nainya/treenav/internal/logger"
	"github.com/nainya/treenav/internal/metrics"
	"github.com/nainya/treenav/pkg/cache"
	"github.com/nainya/treenav/pkg/chunker"
	"github.com/nainya/treenav/pkg/events"
	"github.com/nainya/treenav/pkg/ingest"
	"github.com/nainya/treenav/pkg/scorer"
	"github.com/nainya/treenav/pkg/store"
	"github.com/nainya/treenav/pkg/traverse"
	"github.com/nainya/treenav/pkg/tree"
)

// Config holds server configuration
type Config struct {
	DataDir        string        // Directory for the node store
	InMemory       bool          // In-memory store, used by tests
	CacheCapacity  int           // Node cache entries (default 5000)
	Workers        int           // Concurrent ingestion builds (default 4)
	MaxFanout      int           // Children per interior node (default 10)
	MaxDepth       int           // Maximum tree depth (default 6)
	ChunkSizeWords int           // Words per leaf chunk (default 500)
	SummaryWords   int           // Word budget per interior summary
	RelevanceFloor float64       // Traversal stops descending below this score
	QueryTimeout   time.Duration // Per-retrieval budget; zero disables
	Scorer         scorer.Scorer // Scoring capability (default lexical)
	Logger         *logger.Logger
}

// Server owns the store, cache, ingestion queue, traversal engine, event
// bus and metrics collector, and exposes the index operations.
type Server struct {
	cfg       Config
	store     *store.Store
	cache     *cache.Cache
	collector *metrics.Collector
	bus       *events.Bus
	engine    *traverse.Engine
	queue     *ingest.Queue
	log       *logger.Logger

	startTime time.Time

	// Serializes global root refreshes so a refresh never publishes a
	// pointer computed from a manifest list another build is changing
	rootMu sync.Mutex

	mu       sync.Mutex
	opCounts map[string]int64
}

// NewServer builds and wires a server from the given configuration
func NewServer(cfg Config) (*Server, error) {
	if cfg.Scorer == nil {
		cfg.Scorer = scorer.NewLexical()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetGlobalLogger()
	}

	storeCfg := store.DefaultConfig(cfg.DataDir)
	storeCfg.InMemory = cfg.InMemory
	st, err := store.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	collector := metrics.NewCollector()
	nodeCache := cache.New(st, cfg.CacheCapacity, collector)
	bus := events.NewBus()

	s := &Server{
		cfg:       cfg,
		store:     st,
		cache:     nodeCache,
		collector: collector,
		bus:       bus,
		log:       cfg.Logger,
		startTime: time.Now(),
		opCounts:  make(map[string]int64),
	}

	builder := tree.NewBuilder(st, cfg.Scorer, tree.BuilderOptions{
		MaxFanout:    cfg.MaxFanout,
		MaxDepth:     cfg.MaxDepth,
		SummaryWords: cfg.SummaryWords,
	})
	s.queue = ingest.NewQueue(chunker.New(cfg.ChunkSizeWords), builder, st, ingest.Options{
		Workers: cfg.Workers,
		OnBuilt: s.refreshGlobalRoot,
		Logger:  cfg.Logger,
	})
	s.engine = traverse.NewEngine(nodeCache, cfg.Scorer, bus, collector, traverse.Options{
		MaxDepth:       cfg.MaxDepth,
		RelevanceFloor: cfg.RelevanceFloor,
		QueryTimeout:   cfg.QueryTimeout,
	})

	return s, nil
}

// Close drains the ingestion queue and closes the store
func (s *Server) Close() error {
	s.queue.Close()
	return s.store.Close()
}

func (s *Server) countOp(name string) {
	s.mu.Lock()
	s.opCounts[name]++
	s.mu.Unlock()
}

// ========== Ingestion Operations ==========

// Rebuild enqueues an asynchronous index build for the document and
// returns the job id immediately.
func (s *Server) Rebuild(ctx context.Context, documentID string, content []byte) (string, error) {
	s.countOp("Rebuild")

	if documentID == "" {
		return "", fmt.Errorf("document id is required")
	}
	return s.queue.Enqueue(documentID, content)
}

// JobStatus reports the state of an ingestion job
func (s *Server) JobStatus(jobID string) (ingest.JobStatus, error) {
	s.countOp("JobStatus")
	return s.queue.Status(jobID)
}

// ========== Index Operations ==========

// StructureNode is one entry in the index structure view
type StructureNode struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Level    int              `json:"level"`
	Children []*StructureNode `json:"children,omitempty"`
}

// DocumentTree is the structure view of one document's current tree
type DocumentTree struct {
	DocID      string         `json:"docId"`
	RootID     string         `json:"rootId"`
	NodeCount  int            `json:"nodeCount"`
	ChunkCount int            `json:"chunkCount"`
	BuiltAt    time.Time      `json:"builtAt"`
	Root       *StructureNode `json:"root"`
}

// IndexStructure is the full hierarchy across all indexed documents
type IndexStructure struct {
	GlobalRootID string          `json:"globalRootId"`
	Documents    []*DocumentTree `json:"documents"`
}

// GetIndexStructure returns ids, titles and levels of every current tree.
// Node text and summaries are not included.
func (s *Server) GetIndexStructure(ctx context.Context) (*IndexStructure, error) {
	s.countOp("GetIndexStructure")

	manifests, err := s.store.ListManifests(ctx)
	if err != nil {
		return nil, err
	}

	structure := &IndexStructure{}
	if ptr, err := s.store.GetRootPointer(ctx); err == nil {
		structure.GlobalRootID = ptr.RootID
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].DocID < manifests[j].DocID })
	for _, m := range manifests {
		root, err := s.walkStructure(ctx, m.RootID)
		if err != nil {
			return nil, fmt.Errorf("walk tree for %q: %w", m.DocID, err)
		}
		structure.Documents = append(structure.Documents, &DocumentTree{
			DocID:      m.DocID,
			RootID:     m.RootID,
			NodeCount:  m.NodeCount,
			ChunkCount: m.ChunkCount,
			BuiltAt:    m.BuiltAt,
			Root:       root,
		})
	}
	return structure, nil
}

func (s *Server) walkStructure(ctx context.Context, id string) (*StructureNode, error) {
	n, _, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sn := &StructureNode{ID: n.ID, Title: n.Title, Level: n.Level}
	for _, childID := range n.ChildIDs {
		child, err := s.walkStructure(ctx, childID)
		if err != nil {
			return nil, err
		}
		sn.Children = append(sn.Children, child)
	}
	return sn, nil
}

// GetNode returns one node by id, served through the cache
func (s *Server) GetNode(ctx context.Context, nodeID string) (*tree.Node, error) {
	s.countOp("GetNode")

	n, _, err := s.cache.Get(ctx, nodeID)
	return n, err
}

// GarbageCollect removes nodes reachable only from the document's
// superseded roots and returns the number deleted.
func (s *Server) GarbageCollect(ctx context.Context, documentID string) (int, error) {
	s.countOp("GarbageCollect")

	removed, err := s.store.GarbageCollect(ctx, documentID)
	if err != nil {
		s.log.StoreLogger("garbage_collect").Error("garbage collection failed").
			Str("doc_id", documentID).Err(err).Send()
		return removed, err
	}
	s.log.StoreLogger("garbage_collect").Info("superseded nodes removed").
		Str("doc_id", documentID).Int("removed", removed).Send()
	return removed, nil
}

// ========== Retrieval Operations ==========

// RetrievalTrace answers a question by traversing from the global root and
// returns the full per-level trace.
func (s *Server) RetrievalTrace(ctx context.Context, question string) (*traverse.Trace, error) {
	s.countOp("RetrievalTrace")

	ptr, err := s.store.GetRootPointer(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNodeNotFound) {
			return nil, fmt.Errorf("no documents indexed")
		}
		return nil, err
	}

	start := time.Now()
	trace, err := s.engine.Retrieve(ctx, question, ptr.RootID)
	s.log.QueryLogger().LogRetrieval(question, traceNodes(trace), time.Since(start), err)
	return trace, err
}

func traceNodes(t *traverse.Trace) int {
	if t == nil {
		return 0
	}
	return t.NodesTraversed
}

// ========== Observability Operations ==========

// Metrics returns a point-in-time snapshot of the collector
func (s *Server) Metrics() metrics.Snapshot {
	s.countOp("Metrics")
	return s.collector.Snapshot()
}

// Collector exposes the metrics collector for scrape wiring
func (s *Server) Collector() *metrics.Collector {
	return s.collector
}

// Subscribe attaches an event stream subscriber. Buffer <= 0 uses the
// default size.
func (s *Server) Subscribe(buffer int) *events.Subscription {
	s.countOp("Subscribe")
	return s.bus.Subscribe(buffer)
}

// Stats reports uptime and per-operation call counts
type Stats struct {
	UptimeSeconds int64            `json:"uptimeSeconds"`
	OpCounts      map[string]int64 `json:"opCounts"`
}

// GetStats returns server-level operation statistics
func (s *Server) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64, len(s.opCounts))
	for k, v := range s.opCounts {
		counts[k] = v
	}
	return Stats{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		OpCounts:      counts,
	}
}

// ========== Global Root Maintenance ==========

// refreshGlobalRoot rebuilds the hierarchical root spanning all document
// trees. Runs after every successful build, under the queue's job. The
// list, node write and pointer update happen under rootMu: builds of
// different documents finish concurrently, and an unserialized refresh
// could publish a pointer missing a document whose manifest landed
// between another refresh's list and its pointer write.
func (s *Server) refreshGlobalRoot(ctx context.Context, _ *tree.Manifest) error {
	s.rootMu.Lock()
	defer s.rootMu.Unlock()

	manifests, err := s.store.ListManifests(ctx)
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		return nil
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].DocID < manifests[j].DocID })

	rootIDs := make([]string, len(manifests))
	for i, m := range manifests {
		rootIDs[i] = m.RootID
	}

	prev, prevErr := s.store.GetRootPointer(ctx)
	if prevErr != nil && !errors.Is(prevErr, store.ErrNodeNotFound) {
		return prevErr
	}

	fp := tree.DocumentFingerprint([]byte(strings.Join(rootIDs, "\x00")))
	global := &tree.Node{
		ID:          "global-root-" + fp,
		ChildIDs:    rootIDs,
		Level:       0,
		Title:       "Root",
		Summary:     fmt.Sprintf("Corpus of %d documents", len(manifests)),
		Fingerprint: fp,
		CreatedAt:   time.Now(),
	}
	if err := s.store.PutNode(ctx, global); err != nil {
		return fmt.Errorf("store global root: %w", err)
	}
	s.cache.Put(global)

	err = s.store.PutRootPointer(ctx, &store.RootPointer{
		RootID:       global.ID,
		DocRootCount: len(rootIDs),
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		return err
	}

	// The global root belongs to no document manifest, so the superseded
	// one is retired here rather than waiting for a per-document sweep
	if prevErr == nil && prev.RootID != global.ID {
		if err := s.store.DeleteNode(ctx, prev.RootID); err != nil {
			return fmt.Errorf("retire global root %s: %w", prev.RootID, err)
		}
		s.cache.Remove(prev.RootID)
	}
	return nil
}
