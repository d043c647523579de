// Package metrics provides the observability collector for treenav
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Snapshot is an immutable point-in-time view of collector state.
// Counters are monotonically increasing; the hit rate and average are
// recomputed per snapshot.
type Snapshot struct {
	CacheHits              int64   `json:"cacheHits"`
	CacheMisses            int64   `json:"cacheMisses"`
	CacheHitRate           float64 `json:"cacheHitRate"`
	NodesLoadedFromDisk    int64   `json:"nodesLoadedFromDisk"`
	NodesEvaluated         int64   `json:"nodesEvaluated"`
	MaxTreeDepthSeen       int     `json:"maxTreeDepthSeen"`
	RetrievalCount         int64   `json:"retrievalCount"`
	LastRetrievalLatencyMs int64   `json:"lastRetrievalLatencyMs"`
	AvgRetrievalLatencyMs  float64 `json:"avgRetrievalLatencyMs"`
	LastUpdatedEpochMs     int64   `json:"lastUpdatedEpochMs"`
}

// Collector accumulates process-lifetime counters for the node cache and
// traversal engine. It is an explicit, constructed instance injected into
// both, never package-global state.
type Collector struct {
	mu                     sync.Mutex
	cacheHits              int64
	cacheMisses            int64
	diskLoads              int64
	nodesEvaluated         int64
	maxTreeDepthSeen       int
	retrievalCount         int64
	lastRetrievalLatencyMs int64
	avgRetrievalLatencyMs  float64
	lastUpdated            time.Time

	registry *prometheus.Registry

	promCacheHits        prometheus.Counter
	promCacheMisses      prometheus.Counter
	promDiskLoads        prometheus.Counter
	promNodesEvaluated   prometheus.Counter
	promMaxTreeDepth     prometheus.Gauge
	promRetrievalLatency prometheus.Histogram
}

// NewCollector creates a collector with its own Prometheus registry
func NewCollector() *Collector {
	c := &Collector{lastUpdated: time.Now()}
	c.initInstruments()
	return c
}

func (c *Collector) initInstruments() {
	c.registry = prometheus.NewRegistry()
	factory := promauto.With(c.registry)

	c.promCacheHits = factory.NewCounter(prometheus.CounterOpts{
		Name: "treenav_cache_hits_total",
		Help: "Total node cache hits",
	})
	c.promCacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Name: "treenav_cache_misses_total",
		Help: "Total node cache misses",
	})
	c.promDiskLoads = factory.NewCounter(prometheus.CounterOpts{
		Name: "treenav_disk_loads_total",
		Help: "Total nodes hydrated from durable storage",
	})
	c.promNodesEvaluated = factory.NewCounter(prometheus.CounterOpts{
		Name: "treenav_nodes_evaluated_total",
		Help: "Total nodes evaluated during traversals",
	})
	c.promMaxTreeDepth = factory.NewGauge(prometheus.GaugeOpts{
		Name: "treenav_max_tree_depth_seen",
		Help: "Deepest tree level reached by any traversal",
	})
	c.promRetrievalLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "treenav_retrieval_latency_seconds",
		Help:    "Retrieval latency in seconds",
		Buckets: prometheus.DefBuckets,
	})
}

// Registry exposes the Prometheus registry for scrape wiring
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCacheHit counts one node cache hit
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.lastUpdated = time.Now()
	c.mu.Unlock()
	c.promCacheHits.Inc()
}

// RecordCacheMiss counts one node cache miss
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.lastUpdated = time.Now()
	c.mu.Unlock()
	c.promCacheMisses.Inc()
}

// RecordDiskLoad counts one node hydration from durable storage
func (c *Collector) RecordDiskLoad() {
	c.mu.Lock()
	c.diskLoads++
	c.lastUpdated = time.Now()
	c.mu.Unlock()
	c.promDiskLoads.Inc()
}

// RecordNodeEvaluated counts one traversal child evaluation
func (c *Collector) RecordNodeEvaluated() {
	c.mu.Lock()
	c.nodesEvaluated++
	c.lastUpdated = time.Now()
	c.mu.Unlock()
	c.promNodesEvaluated.Inc()
}

// RecordTreeDepth tracks the deepest level reached by any traversal
func (c *Collector) RecordTreeDepth(depth int) {
	c.mu.Lock()
	if depth > c.maxTreeDepthSeen {
		c.maxTreeDepthSeen = depth
		c.promMaxTreeDepth.Set(float64(depth))
	}
	c.lastUpdated = time.Now()
	c.mu.Unlock()
}

// RecordRetrievalLatency records one completed retrieval and updates the
// running average.
func (c *Collector) RecordRetrievalLatency(ms int64) {
	c.mu.Lock()
	c.retrievalCount++
	c.lastRetrievalLatencyMs = ms
	prev := c.avgRetrievalLatencyMs
	count := float64(c.retrievalCount)
	c.avgRetrievalLatencyMs = (prev*(count-1) + float64(ms)) / count
	c.lastUpdated = time.Now()
	c.mu.Unlock()
	c.promRetrievalLatency.Observe(float64(ms) / 1000)
}

// Snapshot returns the current counter values, with the hit rate derived
// from hits and misses.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.cacheHits + c.cacheMisses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.cacheHits) / float64(total)
	}
	return Snapshot{
		CacheHits:              c.cacheHits,
		CacheMisses:            c.cacheMisses,
		CacheHitRate:           hitRate,
		NodesLoadedFromDisk:    c.diskLoads,
		NodesEvaluated:         c.nodesEvaluated,
		MaxTreeDepthSeen:       c.maxTreeDepthSeen,
		RetrievalCount:         c.retrievalCount,
		LastRetrievalLatencyMs: c.lastRetrievalLatencyMs,
		AvgRetrievalLatencyMs:  c.avgRetrievalLatencyMs,
		LastUpdatedEpochMs:     c.lastUpdated.UnixMilli(),
	}
}

// Reset zeroes all counters and replaces the Prometheus instruments.
// Intended for tests.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits = 0
	c.cacheMisses = 0
	c.diskLoads = 0
	c.nodesEvaluated = 0
	c.maxTreeDepthSeen = 0
	c.retrievalCount = 0
	c.lastRetrievalLatencyMs = 0
	c.avgRetrievalLatencyMs = 0
	c.lastUpdated = time.Now()
	c.initInstruments()
}
