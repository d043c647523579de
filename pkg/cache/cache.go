// ABOUTME: Bounded LRU node cache fronting the lazy node store
// ABOUTME: The single place hit/miss/disk-load counts are recorded

package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/nainya/treenav/pkg/tree"
)

// Source reports where a node was served from
type Source string

const (
	SourceCache Source = "cache"
	SourceDisk  Source = "disk"
)

// DefaultCapacity is the default number of cached nodes
const DefaultCapacity = 5000

// Loader hydrates nodes from durable storage
type Loader interface {
	GetNode(ctx context.Context, id string) (*tree.Node, error)
}

// Recorder receives cache activity counts
type Recorder interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordDiskLoad()
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheHit()  {}
func (nopRecorder) RecordCacheMiss() {}
func (nopRecorder) RecordDiskLoad()  {}

type entry struct {
	id   string
	node *tree.Node
}

// Cache is a bounded-capacity LRU keyed by node id. Eviction removes only
// the in-memory copy; the durable record is untouched.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // Front = most recent, Back = least recent
	loader   Loader
	recorder Recorder
}

// New creates a cache over the given loader. A nil recorder disables
// activity counting.
func New(loader Loader, capacity int, recorder Recorder) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		loader:   loader,
		recorder: recorder,
	}
}

// Get returns the node for id, promoting recency on a hit and loading
// through the store on a miss.
func (c *Cache) Get(ctx context.Context, id string) (*tree.Node, Source, error) {
	c.mu.Lock()
	if elem, ok := c.items[id]; ok {
		c.order.MoveToFront(elem)
		n := elem.Value.(*entry).node
		c.mu.Unlock()
		c.recorder.RecordCacheHit()
		return n, SourceCache, nil
	}
	c.mu.Unlock()
	c.recorder.RecordCacheMiss()

	// Load outside the lock so cache contention never gates disk latency
	n, err := c.loader.GetNode(ctx, id)
	if err != nil {
		return nil, SourceDisk, err
	}
	c.recorder.RecordDiskLoad()
	c.insert(id, n)
	return n, SourceDisk, nil
}

// Put warms the cache with a freshly built node
func (c *Cache) Put(n *tree.Node) {
	c.insert(n.ID, n)
}

// Remove drops the in-memory copy of a node that was deleted from the
// store, so reads of the id fall through to the loader.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[id]; ok {
		c.order.Remove(elem)
		delete(c.items, id)
	}
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) insert(id string, n *tree.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[id]; ok {
		elem.Value.(*entry).node = n
		c.order.MoveToFront(elem)
		return
	}
	c.items[id] = c.order.PushFront(&entry{id: id, node: n})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).id)
	}
}
