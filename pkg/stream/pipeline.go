package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataview/dataview/pkg/conn"
	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/logging"
	"github.com/dataview/dataview/pkg/wire"
)

// resizeHistoryCap bounds how many adaptive resize decisions
// StreamStats retains for diagnostics; older entries fall off the
// front of the ring as new ones arrive.
const resizeHistoryCap = 16

// ResizeEvent records one adaptive chunk-size adjustment: the occupancy
// sample that triggered it and the size it moved from/to.
type ResizeEvent struct {
	At        time.Time
	OldSize   int
	NewSize   int
	Occupancy float64
}

// StreamStats are the counters a JsonStream exposes read-only to the
// consumer, updated by the producer task.
type StreamStats struct {
	RowsProduced   atomic.Int64
	RowsDelivered  atomic.Int64
	BytesBuffered  atomic.Int64
	ChunkResizes   atomic.Int64
	Pauses         atomic.Int64
	TimePaused     atomic.Int64 // nanoseconds
	MemoryWarnings atomic.Int64

	mu            sync.Mutex
	pauseTag      string
	resizeHistory []ResizeEvent
}

// Snapshot returns a point-in-time copy of the counters, safe to read
// concurrently with producer updates.
type StatsSnapshot struct {
	RowsProduced   int64
	RowsDelivered  int64
	BytesBuffered  int64
	ChunkResizes   int64
	Pauses         int64
	TimePaused     time.Duration
	MemoryWarnings int64
	PauseTag       string
	ResizeHistory  []ResizeEvent
}

func (s *StreamStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	tag := s.pauseTag
	history := make([]ResizeEvent, len(s.resizeHistory))
	copy(history, s.resizeHistory)
	s.mu.Unlock()
	return StatsSnapshot{
		RowsProduced:   s.RowsProduced.Load(),
		RowsDelivered:  s.RowsDelivered.Load(),
		BytesBuffered:  s.BytesBuffered.Load(),
		ChunkResizes:   s.ChunkResizes.Load(),
		Pauses:         s.Pauses.Load(),
		TimePaused:     time.Duration(s.TimePaused.Load()),
		MemoryWarnings: s.MemoryWarnings.Load(),
		PauseTag:       tag,
		ResizeHistory:  history,
	}
}

// recordResize appends a resize decision to the ring buffer, dropping
// the oldest entry once resizeHistoryCap is reached.
func (s *StreamStats) recordResize(ev ResizeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizeHistory = append(s.resizeHistory, ev)
	if len(s.resizeHistory) > resizeHistoryCap {
		s.resizeHistory = s.resizeHistory[len(s.resizeHistory)-resizeHistoryCap:]
	}
}

// StreamItem is one delivered element: either a parsed JSON document or
// a terminal error (backend ErrorResponse, protocol violation, memory
// limit, or socket loss).
type StreamItem struct {
	Doc json.RawMessage
	Err error
}

// Options configures a streaming_query call.
type Options struct {
	Strategy   ChunkingStrategy
	MaxMemory  int64
	SoftWarn   float64
	SoftFail   float64
	Logger     logging.Logger
}

// JsonStream is a lazy, non-restartable sequence of parsed JSON
// documents delivered over a bounded channel, with pause/resume and a
// cancel signal tied to Close.
type JsonStream struct {
	items  chan StreamItem
	cancel chan struct{}
	once   sync.Once

	paused atomic.Bool
	stats  StreamStats

	closeConn func() error
}

// Items returns the channel of delivered rows. Ranging over it
// terminates when the producer finishes or a terminal error item has
// been delivered.
func (s *JsonStream) Items() <-chan StreamItem { return s.items }

// Stats returns a snapshot of the stream's counters.
func (s *JsonStream) Stats() StatsSnapshot { return s.stats.Snapshot() }

// Pause flips the shared pause flag observed by the producer before its
// next chunk flush.
func (s *JsonStream) Pause() { s.PauseWithReason("") }

// PauseWithReason is Pause plus a human-readable tag recorded in
// StreamStats for diagnostics.
func (s *JsonStream) PauseWithReason(reason string) {
	if s.paused.CompareAndSwap(false, true) {
		s.stats.Pauses.Add(1)
		s.stats.mu.Lock()
		s.stats.pauseTag = reason
		s.stats.mu.Unlock()
	}
}

// Resume clears the pause flag, letting the producer resume sending to
// the channel.
func (s *JsonStream) Resume() {
	s.paused.Store(false)
}

// PausedOccupancy reports whether the stream is currently paused.
func (s *JsonStream) PausedOccupancy() bool { return s.paused.Load() }

// Close signals the producer's cancel channel and closes the underlying
// connection. Safe to call multiple times.
func (s *JsonStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.cancel)
		if s.closeConn != nil {
			err = s.closeConn()
		}
	})
	return err
}

// maxSafetyCapRows bounds how many extra rows the producer will drain
// into the current chunk while paused, regardless of max_memory, so a
// paused consumer can't stall the producer into draining the whole
// result set into memory.
const maxSafetyCapRows = 4096

// StreamingQuery consumes c, validates the RowDescription for the
// single-"data"-column invariant, issues sql, and returns a JsonStream
// delivering parsed JSON documents.
func StreamingQuery(ctx context.Context, c *conn.Connection, sql string, opts Options) (*JsonStream, error) {
	if opts.Strategy == (ChunkingStrategy{}) {
		opts.Strategy = DefaultChunkingStrategy()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}

	if err := c.BeginQuery(sql); err != nil {
		return nil, err
	}

	rd, err := awaitRowDescription(c)
	if err != nil {
		return nil, err
	}
	if len(rd.Fields) != 1 || rd.Fields[0].Name != "data" {
		return nil, &dataerr.ProtocolError{
			Error: dataerr.Error{Op: "stream.StreamingQuery", Kind: dataerr.KindProtocol,
				Err: fmt.Errorf("expected exactly one column named \"data\", got %d fields", len(rd.Fields))},
		}
	}

	capacity := opts.Strategy.TargetSize
	if capacity <= 0 {
		capacity = DefaultChunkingStrategy().TargetSize
	}

	s := &JsonStream{
		items:  make(chan StreamItem, capacity),
		cancel: make(chan struct{}),
		closeConn: func() error {
			return c.Close()
		},
	}

	budget := newMemoryBudget(opts.MaxMemory, opts.SoftWarn, opts.SoftFail, log)
	sizer := newChunkSizer(opts.Strategy)

	go s.run(ctx, c, budget, sizer, log)

	return s, nil
}

// awaitRowDescription reads backend messages until RowDescription (or a
// fatal error) arrives; NoticeResponse and ParameterStatus are ignored
// at this point since they carry no information the read path needs.
func awaitRowDescription(c *conn.Connection) (wire.RowDescription, error) {
	for {
		msg, err := c.NextMessage()
		if err != nil {
			return wire.RowDescription{}, err
		}
		switch m := msg.(type) {
		case wire.RowDescription:
			return m, nil
		case wire.ErrorResponse:
			return wire.RowDescription{}, &dataerr.SQLError{
				Error:    dataerr.Error{Op: "stream.awaitRowDescription", Kind: dataerr.KindSQL, Err: fmt.Errorf("%s", m.Message())},
				Severity: m.Severity(), Code: m.Code(), Message: m.Message(),
			}
		case wire.NoticeResponse, wire.ParameterStatus:
			continue
		default:
			return wire.RowDescription{}, &dataerr.ProtocolError{
				Error: dataerr.Error{Op: "stream.awaitRowDescription", Kind: dataerr.KindProtocol,
					Err: fmt.Errorf("unexpected message before RowDescription")},
			}
		}
	}
}

// run is the producer task: it owns the Connection exclusively from
// here on, reading DataRow/CommandComplete/ReadyForQuery messages,
// coalescing rows into chunks, and flushing them to the consumer
// channel under backpressure.
func (s *JsonStream) run(ctx context.Context, c *conn.Connection, budget *memoryBudget, sizer *chunkSizer, log logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("stream producer panic recovered: %v", r)
			s.deliver(ctx, StreamItem{Err: &dataerr.InternalError{
				Error: dataerr.Error{Op: "stream.JsonStream.run", Kind: dataerr.KindInternal, Err: fmt.Errorf("%v", r)},
			}})
		}
		close(s.items)
	}()

	chunk := newRowChunk(sizer.current)
	pausedSince := time.Time{}

	for {
		select {
		case <-s.cancel:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := c.NextMessage()
		if err != nil {
			s.deliver(ctx, StreamItem{Err: err})
			return
		}

		switch m := msg.(type) {
		case wire.DataRow:
			if len(m.Values) != 1 || m.Values[0] == nil {
				s.deliver(ctx, StreamItem{Err: &dataerr.ProtocolError{
					Error: dataerr.Error{Op: "stream.JsonStream.run", Kind: dataerr.KindProtocol,
						Err: fmt.Errorf("null or malformed data field")},
				}})
				return
			}
			s.stats.RowsProduced.Add(1)
			crossed, err := budget.charge(len(m.Values[0]))
			if err != nil {
				s.deliver(ctx, StreamItem{Err: err})
				return
			}
			if crossed {
				s.stats.MemoryWarnings.Add(1)
			}
			s.stats.BytesBuffered.Store(budget.usedBytes())
			chunk.append(m.Values[0])

			if s.paused.Load() {
				if pausedSince.IsZero() {
					pausedSince = time.Now()
				}
				if chunk.len() < maxSafetyCapRows {
					continue
				}
			} else if !pausedSince.IsZero() {
				s.stats.TimePaused.Add(int64(time.Since(pausedSince)))
				pausedSince = time.Time{}
			}

			if chunk.len() >= sizer.current {
				if !s.flush(ctx, chunk, budget) {
					return
				}
				chunk = newRowChunk(sizer.current)
				s.resize(sizer)
			}

		case wire.CommandComplete:
			if chunk.len() > 0 {
				if !s.flush(ctx, chunk, budget) {
					return
				}
				chunk = newRowChunk(sizer.current)
			}

		case wire.ReadyForQuery:
			if err := c.EndQuery(); err != nil {
				s.deliver(ctx, StreamItem{Err: err})
			}
			return

		case wire.ErrorResponse:
			s.deliver(ctx, StreamItem{Err: &dataerr.SQLError{
				Error:    dataerr.Error{Op: "stream.JsonStream.run", Kind: dataerr.KindSQL, Err: fmt.Errorf("%s", m.Message())},
				Severity: m.Severity(), Code: m.Code(), Message: m.Message(),
			}})
			return

		case wire.NoticeResponse, wire.ParameterStatus:
			continue

		default:
			s.deliver(ctx, StreamItem{Err: &dataerr.ProtocolError{
				Error: dataerr.Error{Op: "stream.JsonStream.run", Kind: dataerr.KindProtocol, Err: fmt.Errorf("unexpected message during streaming")},
			}})
			return
		}
	}
}

// flush drains chunk into the consumer channel one row at a time,
// respecting cancellation. Returns false if the stream was cancelled
// mid-flush.
func (s *JsonStream) flush(ctx context.Context, chunk *RowChunk, budget *memoryBudget) bool {
	for _, row := range chunk.Rows {
		if !s.deliver(ctx, StreamItem{Doc: json.RawMessage(row)}) {
			return false
		}
		s.stats.RowsDelivered.Add(1)
		budget.release(len(row))
		s.stats.BytesBuffered.Store(budget.usedBytes())
	}
	return true
}

// resize samples current channel occupancy and adjusts the chunk sizer,
// incrementing ChunkResizes and recording the decision on change.
func (s *JsonStream) resize(sizer *chunkSizer) {
	occupancy := float64(len(s.items)) / float64(cap(s.items))
	oldSize := sizer.current
	if target, resized := sizer.observe(occupancy); resized {
		s.stats.ChunkResizes.Add(1)
		s.stats.recordResize(ResizeEvent{At: time.Now(), OldSize: oldSize, NewSize: target, Occupancy: occupancy})
	}
}

// deliver sends item to the consumer, honoring cancellation and the
// caller's context. Returns false if the send didn't happen because the
// stream was cancelled.
func (s *JsonStream) deliver(ctx context.Context, item StreamItem) bool {
	select {
	case s.items <- item:
		return true
	case <-s.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}
