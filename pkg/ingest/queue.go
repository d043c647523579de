// ABOUTME: Asynchronous ingestion job queue for document index builds
// ABOUTME: Bounded worker pool; one in-flight build per document id

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nainya/treenav/internal/logger"
	"github.com/nainya/treenav/pkg/chunker"
	"github.com/nainya/treenav/pkg/tree"
)

// ErrJobNotFound is returned when a job id is unknown
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned when enqueueing after Close
var ErrQueueClosed = errors.New("ingestion queue closed")

// DefaultWorkers bounds concurrent builds when no count is configured
const DefaultWorkers = 4

// State is the lifecycle phase of an ingestion job.
// Transitions are monotonic: queued, running, then success or failed.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// stateRank orders states so a transition can never move backwards
var stateRank = map[State]int{
	StateQueued:  0,
	StateRunning: 1,
	StateSuccess: 2,
	StateFailed:  2,
}

// JobStatus is a point-in-time snapshot of one ingestion job
type JobStatus struct {
	ID         string
	DocID      string
	State      State
	RootID     string   // Set on success
	NodeCount  int      // Set on success
	Reused     bool     // True when an identical fingerprint skipped the build
	Warnings   []string // Non-fatal build degradations
	Error      string   // Set on failure
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// ManifestStore persists per-document manifests
type ManifestStore interface {
	tree.ManifestSource
	PutManifest(ctx context.Context, m *tree.Manifest) error
}

// Options configures the queue
type Options struct {
	Workers int // Concurrent build bound (default 4)
	// OnBuilt runs after each successful build, before the job is marked
	// done. A hook error fails the job.
	OnBuilt func(ctx context.Context, m *tree.Manifest) error
	Logger  *logger.Logger
}

// Queue runs document builds asynchronously. Enqueue returns immediately;
// callers poll Status with the returned job id.
type Queue struct {
	chunker   *chunker.Chunker
	builder   *tree.Builder
	tracker   *tree.Tracker
	manifests ManifestStore
	onBuilt   func(ctx context.Context, m *tree.Manifest) error
	log       *logger.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	jobs    map[string]*JobStatus
	perDoc  map[string]*sync.Mutex
}

// NewQueue creates an ingestion queue over the given build pipeline
func NewQueue(ch *chunker.Chunker, b *tree.Builder, manifests ManifestStore, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	return &Queue{
		chunker:   ch,
		builder:   b,
		tracker:   tree.NewTracker(manifests),
		manifests: manifests,
		onBuilt:   opts.OnBuilt,
		log:       opts.Logger,
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		jobs:      make(map[string]*JobStatus),
		perDoc:    make(map[string]*sync.Mutex),
	}
}

// Enqueue registers content for indexing under docID and returns the job id.
// The build runs on a worker; Enqueue never blocks on it.
func (q *Queue) Enqueue(docID string, content []byte) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	id := uuid.NewString()
	q.jobs[id] = &JobStatus{
		ID:         id,
		DocID:      docID,
		State:      StateQueued,
		EnqueuedAt: time.Now(),
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(id, docID, content)
	return id, nil
}

// Status returns a snapshot of the job, or ErrJobNotFound
func (q *Queue) Status(jobID string) (JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return JobStatus{}, fmt.Errorf("job %q: %w", jobID, ErrJobNotFound)
	}
	snap := *job
	snap.Warnings = append([]string(nil), job.Warnings...)
	return snap, nil
}

// Close stops accepting jobs and waits for in-flight builds to finish
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run(jobID, docID string, content []byte) {
	defer q.wg.Done()

	ctx := context.Background()
	if err := q.sem.Acquire(ctx, 1); err != nil {
		q.fail(jobID, err)
		return
	}
	defer q.sem.Release(1)

	// Serialize builds per document; distinct documents proceed in parallel.
	docMu := q.docMutex(docID)
	docMu.Lock()
	defer docMu.Unlock()

	q.transition(jobID, StateRunning, func(j *JobStatus) {
		j.StartedAt = time.Now()
	})
	q.log.Debug("ingestion job started").
		Str("job_id", jobID).Str("doc_id", docID).Send()

	start := time.Now()
	if err := q.process(ctx, jobID, docID, content, start); err != nil {
		q.log.LogBuildCompleted(docID, 0, 0, time.Since(start), err)
		q.fail(jobID, err)
	}
}

func (q *Queue) process(ctx context.Context, jobID, docID string, content []byte, start time.Time) error {
	fp := tree.DocumentFingerprint(content)

	rebuild, err := q.tracker.ShouldRebuild(ctx, docID, fp)
	if err != nil {
		return err
	}
	if !rebuild {
		// Content is unchanged; reuse the existing tree.
		m, err := q.manifests.GetManifest(ctx, docID)
		if err != nil {
			return err
		}
		q.transition(jobID, StateSuccess, func(j *JobStatus) {
			j.RootID = m.RootID
			j.NodeCount = m.NodeCount
			j.Reused = true
			j.FinishedAt = time.Now()
		})
		q.log.BuildLogger(docID).Info("fingerprint unchanged, reusing tree").
			Str("root_id", m.RootID).Send()
		return nil
	}

	chunks, err := q.chunker.Chunk(docID, string(content))
	if err != nil {
		return err
	}

	result, err := q.builder.Build(ctx, docID, chunks)
	if err != nil {
		return err
	}
	if len(result.Warnings) > 0 {
		q.log.Warn("build completed degraded").
			Str("doc_id", docID).Int("warnings", len(result.Warnings)).Send()
	}

	manifest := &tree.Manifest{
		DocID:       docID,
		Fingerprint: fp,
		RootID:      result.RootID,
		NodeCount:   result.NodeCount,
		ChunkCount:  result.ChunkCount,
		BuiltAt:     time.Now(),
	}
	prev, err := q.manifests.GetManifest(ctx, docID)
	switch {
	case err == nil:
		manifest.SupersededRoots = append(prev.SupersededRoots, prev.RootID)
	case errors.Is(err, tree.ErrManifestNotFound):
	default:
		return err
	}
	if err := q.manifests.PutManifest(ctx, manifest); err != nil {
		return err
	}

	if q.onBuilt != nil {
		if err := q.onBuilt(ctx, manifest); err != nil {
			return fmt.Errorf("post-build hook for %q: %w", docID, err)
		}
	}

	q.transition(jobID, StateSuccess, func(j *JobStatus) {
		j.RootID = result.RootID
		j.NodeCount = result.NodeCount
		j.Warnings = result.Warnings
		j.FinishedAt = time.Now()
	})
	q.log.LogBuildCompleted(docID, result.NodeCount, result.Depth, time.Since(start), nil)
	return nil
}

func (q *Queue) fail(jobID string, err error) {
	q.transition(jobID, StateFailed, func(j *JobStatus) {
		j.Error = err.Error()
		j.FinishedAt = time.Now()
	})
}

// transition moves a job forward; backwards transitions are ignored
func (q *Queue) transition(jobID string, to State, update func(*JobStatus)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return
	}
	// Terminal states are final; other transitions only move forward.
	if stateRank[job.State] >= stateRank[StateSuccess] || stateRank[to] <= stateRank[job.State] {
		return
	}
	job.State = to
	if update != nil {
		update(job)
	}
}

func (q *Queue) docMutex(docID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	mu, ok := q.perDoc[docID]
	if !ok {
		mu = &sync.Mutex{}
		q.perDoc[docID] = mu
	}
	return mu
}
