package observer

import (
	"fmt"
	"sync"
	"time"

	"github.com/dataview/dataview/pkg/eventbus"
)

// DedupStore suppresses duplicate dispatch of the same logical event
// within a configurable window, keyed by (entity_type, entity_id,
// event_type).
type DedupStore struct {
	window time.Duration

	mu      sync.Mutex
	seen    map[string]time.Time
	skipped int64
}

const defaultDedupWindow = 5 * time.Minute

// NewDedupStore returns a DedupStore with the given window; a
// non-positive window falls back to the 5-minute default.
func NewDedupStore(window time.Duration) *DedupStore {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &DedupStore{window: window, seen: make(map[string]time.Time)}
}

func dedupKey(event eventbus.EntityEvent) string {
	return fmt.Sprintf("%s|%s|%s", event.EntityType, event.EntityID, event.EventType)
}

// CheckAndMark reports whether event is a duplicate within the window.
// A fresh (or expired) key is marked seen and CheckAndMark returns
// false; a key still within the window returns true and bumps the
// skip counter without updating the timestamp.
func (d *DedupStore) CheckAndMark(event eventbus.EntityEvent, now time.Time) bool {
	key := dedupKey(event)

	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.seen[key]
	if ok && now.Sub(last) < d.window {
		d.skipped++
		return true
	}
	d.seen[key] = now
	return false
}

// SkippedCount returns the number of events suppressed as duplicates.
func (d *DedupStore) SkippedCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.skipped
}

// Sweep removes entries older than the window, bounding the store's
// memory use for long-running processes. Callers typically invoke this
// from a periodic ticker.
func (d *DedupStore) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for k, t := range d.seen {
		if now.Sub(t) >= d.window {
			delete(d.seen, k)
			removed++
		}
	}
	return removed
}
