// ABOUTME: Tests for the LRU node cache
// ABOUTME: Verifies hit/miss accounting and access-order eviction replay

package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/nainya/treenav/pkg/tree"
)

type countingLoader struct {
	nodes map[string]*tree.Node
	loads int
}

func (l *countingLoader) GetNode(_ context.Context, id string) (*tree.Node, error) {
	l.loads++
	n, ok := l.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q: not stored", id)
	}
	return n, nil
}

type countingRecorder struct {
	hits, misses, diskLoads int
}

func (r *countingRecorder) RecordCacheHit()  { r.hits++ }
func (r *countingRecorder) RecordCacheMiss() { r.misses++ }
func (r *countingRecorder) RecordDiskLoad()  { r.diskLoads++ }

func loaderWith(ids ...string) *countingLoader {
	l := &countingLoader{nodes: make(map[string]*tree.Node)}
	for _, id := range ids {
		l.nodes[id] = &tree.Node{ID: id, Title: "node " + id}
	}
	return l
}

func TestGetHitAfterFirstAccess(t *testing.T) {
	loader := loaderWith("a", "b", "c")
	rec := &countingRecorder{}
	c := New(loader, 10, rec)
	ctx := context.Background()

	// First access of each id is a miss, every subsequent one a hit
	for round := 0; round < 3; round++ {
		for _, id := range []string{"a", "b", "c"} {
			n, src, err := c.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get(%s) failed: %v", id, err)
			}
			if n.ID != id {
				t.Errorf("wrong node: %s", n.ID)
			}
			wantSrc := SourceCache
			if round == 0 {
				wantSrc = SourceDisk
			}
			if src != wantSrc {
				t.Errorf("round %d, id %s: source %s, want %s", round, id, src, wantSrc)
			}
		}
	}

	if rec.misses != 3 || rec.hits != 6 || rec.diskLoads != 3 {
		t.Errorf("counts: misses=%d hits=%d diskLoads=%d", rec.misses, rec.hits, rec.diskLoads)
	}
	if loader.loads != 3 {
		t.Errorf("store loaded %d times, want 3", loader.loads)
	}
}

func TestEvictionRemovesExactlyLRU(t *testing.T) {
	loader := loaderWith("a", "b", "c", "d")
	c := New(loader, 3, nil)
	ctx := context.Background()

	mustGet := func(id string) Source {
		t.Helper()
		_, src, err := c.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", id, err)
		}
		return src
	}

	mustGet("a")
	mustGet("b")
	mustGet("c")
	mustGet("a") // a is now most recent; b is LRU
	mustGet("d") // evicts b

	if c.Len() != 3 {
		t.Fatalf("expected 3 cached entries, got %d", c.Len())
	}
	if src := mustGet("a"); src != SourceCache {
		t.Error("a should have survived eviction")
	}
	if src := mustGet("c"); src != SourceCache {
		t.Error("c should have survived eviction")
	}
	if src := mustGet("b"); src != SourceDisk {
		t.Error("b was the LRU entry and should have been evicted")
	}
}

func TestGetPropagatesLoaderError(t *testing.T) {
	loader := loaderWith("a")
	c := New(loader, 3, nil)

	_, _, err := c.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown id")
	}
	if c.Len() != 0 {
		t.Error("failed load should not populate the cache")
	}
}

func TestPutWarmsCache(t *testing.T) {
	loader := loaderWith()
	rec := &countingRecorder{}
	c := New(loader, 3, rec)

	c.Put(&tree.Node{ID: "warm", Title: "warmed"})

	n, src, err := c.Get(context.Background(), "warm")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if src != SourceCache || n.Title != "warmed" {
		t.Errorf("expected warmed cache hit, got src=%s node=%+v", src, n)
	}
	if loader.loads != 0 {
		t.Error("warm get should not touch the store")
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	loader := loaderWith("a")
	c := New(loader, 10, nil)
	ctx := context.Background()

	if _, _, err := c.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	c.Remove("a")
	if c.Len() != 0 {
		t.Errorf("expected empty cache after Remove, got %d entries", c.Len())
	}

	// Next read falls through to the loader again
	if _, src, err := c.Get(ctx, "a"); err != nil || src != SourceDisk {
		t.Errorf("expected disk reload after Remove: src=%s err=%v", src, err)
	}

	// Removing an id the store deleted behind us is a no-op
	c.Remove("never-cached")
}

func TestEvictionNeverTouchesStore(t *testing.T) {
	loader := loaderWith("a", "b")
	c := New(loader, 1, nil)
	ctx := context.Background()

	if _, _, err := c.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Get(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	// a was evicted from memory but remains loadable from the store
	if _, ok := loader.nodes["a"]; !ok {
		t.Fatal("durable copy must never be removed by eviction")
	}
	if _, src, err := c.Get(ctx, "a"); err != nil || src != SourceDisk {
		t.Errorf("expected disk reload of evicted entry: src=%s err=%v", src, err)
	}
}
