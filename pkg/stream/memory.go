package stream

import (
	"sync/atomic"

	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/logging"
)

// perRowFixedEstimate is the conservative per-row charge applied
// regardless of actual payload size, covering slice headers, channel
// buffering, and JSON parse-tree overhead.
const perRowFixedEstimate = 2048

// memoryBudget tracks buffered-row memory against an optional hard cap,
// emitting a once-per-crossing warning at softWarn and a terminal error
// at softFail. When maxBytes is zero, only a debug-level gauge is kept.
type memoryBudget struct {
	maxBytes int64
	softWarn float64
	softFail float64

	used    atomic.Int64
	warned  atomic.Bool
	log     logging.Logger
}

func newMemoryBudget(maxBytes int64, softWarn, softFail float64, log logging.Logger) *memoryBudget {
	if softFail <= 0 {
		softFail = 1.0
	}
	if log == nil {
		log = logging.Noop()
	}
	return &memoryBudget{maxBytes: maxBytes, softWarn: softWarn, softFail: softFail, log: log}
}

// charge adds the cost of one buffered row and returns an error if the
// hard cap has now been exceeded. The caller must stop the producer
// task when this returns a non-nil error. crossed reports whether this
// call is the one that pushed usage over softWarn, so the caller can
// bump StreamStats.MemoryWarnings exactly once per crossing.
func (m *memoryBudget) charge(rowBytes int) (crossed bool, err error) {
	cost := int64(perRowFixedEstimate + rowBytes)
	used := m.used.Add(cost)

	if m.maxBytes <= 0 {
		m.log.Debug("stream memory gauge: %d bytes buffered (unbounded)", used)
		return false, nil
	}

	fraction := float64(used) / float64(m.maxBytes)
	if fraction >= m.softFail {
		return false, &dataerr.MemoryLimitExceededError{
			Error:      dataerr.Error{Op: "stream.memoryBudget.charge", Kind: dataerr.KindMemoryLimitExceeded},
			UsedBytes:  used,
			LimitBytes: m.maxBytes,
		}
	}
	if m.softWarn > 0 && fraction >= m.softWarn && m.warned.CompareAndSwap(false, true) {
		m.log.Warn("stream buffered memory at %.1f%% of max_memory (%d/%d bytes)", fraction*100, used, m.maxBytes)
		return true, nil
	}
	return false, nil
}

// release subtracts the cost of a row once it has been delivered and
// dropped from the buffer. Dropping back below the warn threshold
// re-arms the warning so the next crossing is reported too, rather than
// only ever firing once for the life of the stream.
func (m *memoryBudget) release(rowBytes int) {
	used := m.used.Add(-int64(perRowFixedEstimate + rowBytes))
	if m.maxBytes > 0 && m.softWarn > 0 {
		if float64(used)/float64(m.maxBytes) < m.softWarn {
			m.warned.Store(false)
		}
	}
}

// usedBytes reports the current accounted usage, read-only from the
// consumer side via StreamStats.
func (m *memoryBudget) usedBytes() int64 { return m.used.Load() }
