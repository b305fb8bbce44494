// Package stream implements the streaming pipeline (C4): a
// backpressured producer task that reads rows off a conn.Connection,
// coalesces them into chunks, applies adaptive sizing and memory
// accounting, and delivers parsed JSON documents to a consumer.
package stream

// ChunkingStrategy is immutable configuration for how the producer
// sizes RowChunks. It holds no mutable state; adaptive resizing tracks
// its own target outside this struct.
type ChunkingStrategy struct {
	TargetSize int
	MinSize    int
	MaxSize    int
	Adaptive   bool
}

// defaultAdaptiveMin/Max are the floor/ceiling adaptive chunking clamps
// to when the caller hasn't overridden them.
const (
	defaultAdaptiveMin = 16
	defaultAdaptiveMax = 1024
)

// DefaultChunkingStrategy returns the strategy used when a caller
// doesn't specify one: adaptive sizing on, starting at 128 rows.
func DefaultChunkingStrategy() ChunkingStrategy {
	return ChunkingStrategy{
		TargetSize: 128,
		MinSize:    defaultAdaptiveMin,
		MaxSize:    defaultAdaptiveMax,
		Adaptive:   true,
	}
}

func (s ChunkingStrategy) clampedMin() int {
	if s.MinSize > 0 {
		return s.MinSize
	}
	return defaultAdaptiveMin
}

func (s ChunkingStrategy) clampedMax() int {
	if s.MaxSize > 0 {
		return s.MaxSize
	}
	return defaultAdaptiveMax
}

// RowChunk is an ordered sequence of JSON document byte slices. It is
// created empty by the producer, appended to as rows arrive, and
// discarded once drained.
type RowChunk struct {
	Rows [][]byte
}

func newRowChunk(capacity int) *RowChunk {
	return &RowChunk{Rows: make([][]byte, 0, capacity)}
}

func (c *RowChunk) append(row []byte) {
	c.Rows = append(c.Rows, row)
}

func (c *RowChunk) len() int { return len(c.Rows) }

// chunkSizer tracks the producer's current adaptive target, growing and
// shrinking it in response to channel occupancy observed before each
// flush.
type chunkSizer struct {
	strategy ChunkingStrategy
	current  int
}

func newChunkSizer(strategy ChunkingStrategy) *chunkSizer {
	target := strategy.TargetSize
	if target <= 0 {
		target = DefaultChunkingStrategy().TargetSize
	}
	return &chunkSizer{strategy: strategy, current: target}
}

// observe samples occupancy (0..1) and returns the possibly-adjusted
// target along with whether a resize happened, so the caller can
// increment StreamStats.ChunkResizes.
func (s *chunkSizer) observe(occupancy float64) (target int, resized bool) {
	if !s.strategy.Adaptive {
		return s.current, false
	}
	prev := s.current
	switch {
	case occupancy > 0.8:
		s.current = max(s.current/2, s.strategy.clampedMin())
	case occupancy < 0.2:
		s.current = min(s.current*2, s.strategy.clampedMax())
	}
	return s.current, s.current != prev
}

