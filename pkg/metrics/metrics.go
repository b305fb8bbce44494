// Package metrics is a small atomic-counter/gauge/histogram registry
// covering query/row/chunk/stream counters, cache hit/miss/invalidation
// counters, observer/action counters, job queue depth and DLQ size
// gauges, and circuit-breaker transition counts.
//
// It is built directly on sync/atomic rather than a metrics client
// library: nothing in this service's process talks to a metrics
// backend over the wire, so a registry whose Snapshot serializes
// straight to JSON over the ops endpoints is all the surface needed.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Well-known series names, collected here so callers across packages
// share one spelling.
const (
	QueriesSubmitted      = "queries_submitted"
	QueriesCompleted       = "queries_completed"
	RowsProduced           = "rows_produced"
	RowsDelivered          = "rows_delivered"
	ChunkResizes           = "chunk_resizes"
	StreamPauses           = "stream_pauses"
	MemoryPressureWarnings = "memory_pressure_warnings"
	CacheHits              = "cache_hits"
	CacheMisses            = "cache_misses"
	CacheInvalidations     = "cache_invalidations"
	ObserverMatches        = "observer_matches"
	ActionExecutions       = "action_executions"
	ActionFailures         = "action_failures"
	ActionRetries          = "action_retries"
	CircuitBreakerTransitions = "circuit_breaker_transitions"

	JobQueueDepth = "job_queue_depth"
	DLQSize       = "dlq_size"
)

// Counter is a monotonically increasing series.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()          { c.v.Add(1) }
func (c *Counter) Add(n int64)   { c.v.Add(n) }
func (c *Counter) Value() int64  { return c.v.Load() }

// Gauge is a series that can move in either direction, for point-in-time
// sizes like queue depth.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)    { g.v.Store(n) }
func (g *Gauge) Add(n int64)    { g.v.Add(n) }
func (g *Gauge) Value() int64   { return g.v.Load() }

// Histogram buckets observed values into a fixed set of upper bounds,
// tracking per-bucket counts plus sum/count for an approximate
// distribution without external dependencies.
type Histogram struct {
	bounds []float64 // ascending, +Inf implied as the last bucket

	mu     sync.Mutex
	counts []int64
	sum    float64
	count  int64
}

// NewHistogram returns a Histogram with the given bucket upper bounds,
// which are sorted ascending; observations above the largest bound
// fall into an implicit +Inf bucket.
func NewHistogram(bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{bounds: sorted, counts: make([]int64, len(sorted)+1)}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.counts)-1]++
}

// HistogramSnapshot is a point-in-time copy of a Histogram's state.
type HistogramSnapshot struct {
	Bounds []float64
	Counts []int64 // len(Bounds)+1, last entry is the +Inf bucket
	Sum    float64
	Count  int64
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HistogramSnapshot{
		Bounds: append([]float64(nil), h.bounds...),
		Counts: append([]int64(nil), h.counts...),
		Sum:    h.sum,
		Count:  h.count,
	}
}

// Registry is a get-or-create store of named counters, gauges, and
// histograms.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Counter returns the named counter, creating it on first use.
func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c = &Counter{}
	r.counters[name] = c
	return c
}

// Gauge returns the named gauge, creating it on first use.
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g = &Gauge{}
	r.gauges[name] = g
	return g
}

// Histogram returns the named histogram, creating it with bounds on
// first use. Subsequent calls ignore bounds and return the existing
// histogram.
func (r *Registry) Histogram(name string, bounds []float64) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(bounds)
	r.histograms[name] = h
	return h
}

// Snapshot returns the current value of every counter and gauge,
// keyed by series name. Histograms are omitted since their shape
// doesn't flatten to a single value; callers needing histogram data
// should call Histogram(name, nil).Snapshot() directly.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters)+len(r.gauges))
	for name, c := range r.counters {
		out[name] = c.Value()
	}
	for name, g := range r.gauges {
		out[name] = g.Value()
	}
	return out
}
