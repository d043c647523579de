// ABOUTME: Tests for the ingestion job queue
// ABOUTME: Covers job lifecycle, fingerprint reuse, failure isolation

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nainya/treenav/internal/logger"
	"github.com/nainya/treenav/pkg/chunker"
	"github.com/nainya/treenav/pkg/scorer"
	"github.com/nainya/treenav/pkg/tree"
)

// memStore keeps nodes and manifests in maps for pipeline tests
type memStore struct {
	mu        sync.Mutex
	nodes     map[string]*tree.Node
	manifests map[string]*tree.Manifest
}

func newMemStore() *memStore {
	return &memStore{
		nodes:     make(map[string]*tree.Node),
		manifests: make(map[string]*tree.Manifest),
	}
}

func (m *memStore) PutNode(_ context.Context, n *tree.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n
	return nil
}

func (m *memStore) GetManifest(_ context.Context, docID string) (*tree.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[docID]
	if !ok {
		return nil, tree.ErrManifestNotFound
	}
	cp := *mf
	return &cp, nil
}

func (m *memStore) PutManifest(_ context.Context, mf *tree.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mf
	m.manifests[mf.DocID] = &cp
	return nil
}

func newTestQueue(store *memStore, opts Options) *Queue {
	ch := chunker.New(5)
	b := tree.NewBuilder(store, scorer.NewLexical(), tree.BuilderOptions{MaxFanout: 3})
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger(logger.Config{Level: "error"})
	}
	return NewQueue(ch, b, store, opts)
}

func docText(words int) []byte {
	var sb strings.Builder
	for i := 0; i < words; i++ {
		fmt.Fprintf(&sb, "word%d ", i)
	}
	return []byte(sb.String())
}

func waitJob(t *testing.T, q *Queue, jobID string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := q.Status(jobID)
		if err != nil {
			t.Fatalf("Status(%q) failed: %v", jobID, err)
		}
		if status.State == StateSuccess || status.State == StateFailed {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %q did not finish", jobID)
	return JobStatus{}
}

func TestEnqueueBuildsDocument(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store, Options{Workers: 2})
	defer q.Close()

	jobID, err := q.Enqueue("handbook", docText(40))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	status := waitJob(t, q, jobID)
	if status.State != StateSuccess {
		t.Fatalf("job state = %q, error %q, want success", status.State, status.Error)
	}
	if status.RootID == "" || status.NodeCount == 0 {
		t.Errorf("success status missing build result: %+v", status)
	}
	if status.Reused {
		t.Error("first build reported as reused")
	}

	mf, err := store.GetManifest(context.Background(), "handbook")
	if err != nil {
		t.Fatalf("manifest not stored: %v", err)
	}
	if mf.RootID != status.RootID {
		t.Errorf("manifest root = %q, want %q", mf.RootID, status.RootID)
	}
	if mf.ChunkCount != 8 {
		t.Errorf("manifest chunk count = %d, want 8", mf.ChunkCount)
	}
}

func TestDuplicateUploadReusesTree(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store, Options{})
	defer q.Close()

	content := docText(40)
	first, err := q.Enqueue("handbook", content)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	firstStatus := waitJob(t, q, first)
	if firstStatus.State != StateSuccess {
		t.Fatalf("first job failed: %q", firstStatus.Error)
	}

	second, err := q.Enqueue("handbook", content)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	secondStatus := waitJob(t, q, second)
	if secondStatus.State != StateSuccess {
		t.Fatalf("second job failed: %q", secondStatus.Error)
	}
	if !secondStatus.Reused {
		t.Error("identical content not reported as reused")
	}
	if secondStatus.RootID != firstStatus.RootID {
		t.Errorf("reused root = %q, want %q", secondStatus.RootID, firstStatus.RootID)
	}

	mf, err := store.GetManifest(context.Background(), "handbook")
	if err != nil {
		t.Fatalf("manifest lookup failed: %v", err)
	}
	if len(mf.SupersededRoots) != 0 {
		t.Errorf("no-op rebuild superseded roots: %v", mf.SupersededRoots)
	}
}

func TestChangedContentSupersedesRoot(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store, Options{})
	defer q.Close()

	first, _ := q.Enqueue("handbook", docText(40))
	firstStatus := waitJob(t, q, first)
	if firstStatus.State != StateSuccess {
		t.Fatalf("first job failed: %q", firstStatus.Error)
	}

	second, _ := q.Enqueue("handbook", docText(60))
	secondStatus := waitJob(t, q, second)
	if secondStatus.State != StateSuccess {
		t.Fatalf("second job failed: %q", secondStatus.Error)
	}
	if secondStatus.RootID == firstStatus.RootID {
		t.Error("changed content reused old root id")
	}

	mf, err := store.GetManifest(context.Background(), "handbook")
	if err != nil {
		t.Fatalf("manifest lookup failed: %v", err)
	}
	if len(mf.SupersededRoots) != 1 || mf.SupersededRoots[0] != firstStatus.RootID {
		t.Errorf("superseded roots = %v, want [%s]", mf.SupersededRoots, firstStatus.RootID)
	}
}

func TestEmptyContentFailsJob(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store, Options{})
	defer q.Close()

	jobID, err := q.Enqueue("empty", []byte("   \n\t  "))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	status := waitJob(t, q, jobID)
	if status.State != StateFailed {
		t.Fatalf("job state = %q, want failed", status.State)
	}
	if status.Error == "" {
		t.Error("failed job has no error message")
	}
	if _, err := store.GetManifest(context.Background(), "empty"); !errors.Is(err, tree.ErrManifestNotFound) {
		t.Errorf("failed job left a manifest behind: %v", err)
	}
}

func TestFailureDoesNotAffectOtherDocuments(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store, Options{Workers: 2})
	defer q.Close()

	bad, _ := q.Enqueue("bad", []byte(""))
	good, _ := q.Enqueue("good", docText(20))

	badStatus := waitJob(t, q, bad)
	goodStatus := waitJob(t, q, good)
	if badStatus.State != StateFailed {
		t.Errorf("bad job state = %q, want failed", badStatus.State)
	}
	if goodStatus.State != StateSuccess {
		t.Errorf("good job state = %q, error %q, want success", goodStatus.State, goodStatus.Error)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	q := newTestQueue(newMemStore(), Options{})
	defer q.Close()

	if _, err := q.Status("no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Status on unknown id = %v, want ErrJobNotFound", err)
	}
}

func TestOnBuiltHook(t *testing.T) {
	store := newMemStore()
	var (
		mu    sync.Mutex
		built []string
	)
	q := newTestQueue(store, Options{
		OnBuilt: func(_ context.Context, m *tree.Manifest) error {
			mu.Lock()
			defer mu.Unlock()
			built = append(built, m.DocID)
			return nil
		},
	})
	defer q.Close()

	jobID, _ := q.Enqueue("handbook", docText(20))
	status := waitJob(t, q, jobID)
	if status.State != StateSuccess {
		t.Fatalf("job failed: %q", status.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(built) != 1 || built[0] != "handbook" {
		t.Errorf("hook calls = %v, want [handbook]", built)
	}
}

func TestOnBuiltHookErrorFailsJob(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store, Options{
		OnBuilt: func(context.Context, *tree.Manifest) error {
			return errors.New("root refresh failed")
		},
	})
	defer q.Close()

	jobID, _ := q.Enqueue("handbook", docText(20))
	status := waitJob(t, q, jobID)
	if status.State != StateFailed {
		t.Fatalf("job state = %q, want failed", status.State)
	}
	if !strings.Contains(status.Error, "root refresh failed") {
		t.Errorf("job error = %q, want hook error", status.Error)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	q := newTestQueue(newMemStore(), Options{})
	q.Close()

	if _, err := q.Enqueue("late", docText(10)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrQueueClosed", err)
	}
}

func TestConcurrentBuildsSameDocumentSerialize(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store, Options{Workers: 4})
	defer q.Close()

	// Two versions of the same document in flight at once. The per-document
	// lock runs them one after the other, so the surviving manifest is one
	// coherent build superseding the other, never a blend of the two.
	idA, err := q.Enqueue("handbook", docText(40))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	idB, err := q.Enqueue("handbook", docText(60))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	statusA := waitJob(t, q, idA)
	statusB := waitJob(t, q, idB)
	if statusA.State != StateSuccess || statusB.State != StateSuccess {
		t.Fatalf("states = %q/%q, errors %q/%q",
			statusA.State, statusB.State, statusA.Error, statusB.Error)
	}
	if statusA.RootID == statusB.RootID {
		t.Fatal("different content must produce different roots")
	}

	mf, err := store.GetManifest(context.Background(), "handbook")
	if err != nil {
		t.Fatalf("manifest not stored: %v", err)
	}
	var winner, loser JobStatus
	switch mf.RootID {
	case statusA.RootID:
		winner, loser = statusA, statusB
	case statusB.RootID:
		winner, loser = statusB, statusA
	default:
		t.Fatalf("manifest root %q matches neither build", mf.RootID)
	}
	if mf.NodeCount != winner.NodeCount {
		t.Errorf("manifest node count %d does not match its root's build %d",
			mf.NodeCount, winner.NodeCount)
	}
	if len(mf.SupersededRoots) != 1 || mf.SupersededRoots[0] != loser.RootID {
		t.Errorf("superseded roots = %v, want exactly the earlier root %s",
			mf.SupersededRoots, loser.RootID)
	}
}

func TestConcurrentBuildsDistinctDocuments(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store, Options{Workers: 4})
	defer q.Close()

	const docs = 8
	jobIDs := make([]string, docs)
	for i := range jobIDs {
		content := append(docText(30), []byte(fmt.Sprintf("doc%d only ", i))...)
		id, err := q.Enqueue(fmt.Sprintf("doc-%d", i), content)
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		jobIDs[i] = id
	}

	for i, jobID := range jobIDs {
		status := waitJob(t, q, jobID)
		if status.State != StateSuccess {
			t.Fatalf("doc-%d state = %q, error %q", i, status.State, status.Error)
		}

		mf, err := store.GetManifest(context.Background(), fmt.Sprintf("doc-%d", i))
		if err != nil {
			t.Fatalf("doc-%d manifest not stored: %v", i, err)
		}
		if mf.RootID != status.RootID {
			t.Errorf("doc-%d manifest root %q, job reported %q", i, mf.RootID, status.RootID)
		}
		store.mu.Lock()
		_, ok := store.nodes[mf.RootID]
		store.mu.Unlock()
		if !ok {
			t.Errorf("doc-%d root %q not reachable in the store", i, mf.RootID)
		}
	}
}
