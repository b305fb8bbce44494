// Package invalidate implements the cascade invalidator (C6): a
// directed dependency graph between views, with BFS-driven cascade
// invalidation feeding pkg/cache's InvalidateViews.
package invalidate

import (
	"fmt"
	"sync"

	"github.com/dataview/dataview/pkg/dataerr"
)

// Stats aggregates cascade-invalidation activity across the graph's
// lifetime.
type Stats struct {
	CascadeCount       int64
	TotalInvalidated   int64
	MaxFanOut          int
	averageAccumulator float64
}

// AverageFanOut returns the running average fan-out per cascade.
func (s Stats) AverageFanOut() float64 { return s.averageAccumulator }

// Graph maintains forward (view -> its dependencies) and reverse
// (dependency -> its dependents) indices, kept as mutual inverses at
// all times.
type Graph struct {
	mu      sync.RWMutex
	forward map[string]map[string]struct{}
	reverse map[string]map[string]struct{}

	statsMu sync.Mutex
	stats   Stats
}

// New constructs an empty Graph.
func New() *Graph {
	return &Graph{
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

// AddDependency records that view depends on dependency, rejecting
// self-edges. Acyclicity is not enforced — BFS uses a visited set so
// CascadeInvalidate and HasDependencyPath terminate regardless.
func (g *Graph) AddDependency(view, dependency string) error {
	if view == dependency {
		return &dataerr.ConfigError{
			Error: dataerr.Error{Op: "invalidate.Graph.AddDependency", Kind: dataerr.KindConfig,
				Err: fmt.Errorf("self-edge rejected: %s", view)},
			Field: "dependency", Value: dependency,
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.forward[view] == nil {
		g.forward[view] = make(map[string]struct{})
	}
	g.forward[view][dependency] = struct{}{}

	if g.reverse[dependency] == nil {
		g.reverse[dependency] = make(map[string]struct{})
	}
	g.reverse[dependency][view] = struct{}{}

	return nil
}

// RemoveDependency undoes a prior AddDependency, keeping both indices
// mutual inverses.
func (g *Graph) RemoveDependency(view, dependency string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if deps, ok := g.forward[view]; ok {
		delete(deps, dependency)
		if len(deps) == 0 {
			delete(g.forward, view)
		}
	}
	if dependents, ok := g.reverse[dependency]; ok {
		delete(dependents, view)
		if len(dependents) == 0 {
			delete(g.reverse, dependency)
		}
	}
}

// CascadeInvalidate performs BFS on the reverse graph starting at root,
// returning the inclusive set of transitively affected views (root
// plus every transitive dependent).
func (g *Graph) CascadeInvalidate(root string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]struct{}{root: {}}
	queue := []string{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for dependent := range g.reverse[current] {
			if _, seen := visited[dependent]; seen {
				continue
			}
			visited[dependent] = struct{}{}
			queue = append(queue, dependent)
		}
	}

	result := make([]string, 0, len(visited))
	for v := range visited {
		result = append(result, v)
	}

	g.recordCascade(len(result))
	return result
}

func (g *Graph) recordCascade(fanOut int) {
	// Separate lock since this mutates shared counters while the caller
	// still holds g.mu as a read lock.
	g.statsMu.Lock()
	defer g.statsMu.Unlock()

	g.stats.CascadeCount++
	g.stats.TotalInvalidated += int64(fanOut)
	if fanOut > g.stats.MaxFanOut {
		g.stats.MaxFanOut = fanOut
	}
	n := float64(g.stats.CascadeCount)
	g.stats.averageAccumulator += (float64(fanOut) - g.stats.averageAccumulator) / n
}

// HasDependencyPath performs a forward-graph BFS from d to s, returning
// true if s is reachable. Termination is guaranteed by the visited set
// even if the graph contains a cycle.
func (g *Graph) HasDependencyPath(d, s string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if d == s {
		return true
	}
	visited := map[string]struct{}{d: {}}
	queue := []string{d}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for dep := range g.forward[current] {
			if dep == s {
				return true
			}
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
	return false
}

// Snapshot exports a point-in-time copy of both indices, for
// diagnostics and the ops HTTP server's /dependencies/stats route.
type Snapshot struct {
	Forward map[string][]string
	Reverse map[string][]string
	Stats   Stats
}

func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{
		Forward: make(map[string][]string, len(g.forward)),
		Reverse: make(map[string][]string, len(g.reverse)),
	}
	for k, set := range g.forward {
		snap.Forward[k] = keysOf(set)
	}
	for k, set := range g.reverse {
		snap.Reverse[k] = keysOf(set)
	}

	g.statsMu.Lock()
	snap.Stats = g.stats
	g.statsMu.Unlock()

	return snap
}

func keysOf(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
