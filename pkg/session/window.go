package session

import (
	"sort"
	"sync"
	"time"

	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/trend"
)

// ReadingWindow is the rolling retention buffer of recent readings.
// Entries are kept in ascending timestamp order and deduplicated by
// timestamp: overlapping trend and history rings redeliver the same
// readings across batches, and the first arrival wins.
//
// The window is mutated only on the orchestrator's serialized path but is
// safe to snapshot concurrently.
type ReadingWindow struct {
	mu        sync.Mutex
	retention time.Duration
	readings  []model.GlucoseReading
}

// NewReadingWindow creates a window with the given retention horizon.
func NewReadingWindow(retention time.Duration) *ReadingWindow {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &ReadingWindow{retention: retention}
}

// Add merges a batch into the window, prunes entries older than the
// retention horizon behind the newest retained reading, and returns the
// readings that were actually inserted, time-ordered and annotated with a
// trend computed over the window prefix ending at each one.
func (w *ReadingWindow) Add(batch []model.GlucoseReading) []model.GlucoseReading {
	if len(batch) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[time.Time]struct{}, len(w.readings))
	for _, r := range w.readings {
		seen[r.Timestamp] = struct{}{}
	}

	var added []model.GlucoseReading
	for _, r := range batch {
		if _, dup := seen[r.Timestamp]; dup {
			continue
		}
		seen[r.Timestamp] = struct{}{}
		w.readings = append(w.readings, r)
		added = append(added, r)
	}
	if len(added) == 0 {
		return nil
	}

	sort.Slice(w.readings, func(i, j int) bool {
		return w.readings[i].Timestamp.Before(w.readings[j].Timestamp)
	})
	w.pruneLocked(w.readings[len(w.readings)-1].Timestamp)

	// Causal trend per inserted reading: the arrow at time t sees only
	// the window prefix up to t.
	annotated := trend.AnnotateTrends(w.readings)
	w.readings = annotated

	byTime := make(map[time.Time]model.GlucoseReading, len(annotated))
	for _, r := range annotated {
		byTime[r.Timestamp] = r
	}

	sort.Slice(added, func(i, j int) bool {
		return added[i].Timestamp.Before(added[j].Timestamp)
	})
	for i := range added {
		if r, ok := byTime[added[i].Timestamp]; ok {
			added[i] = r
		}
	}
	return added
}

// Prune drops entries older than the retention horizon behind now.
func (w *ReadingWindow) Prune(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
}

// pruneLocked drops entries with timestamps before anchor minus the
// retention horizon. Caller holds the lock.
func (w *ReadingWindow) pruneLocked(anchor time.Time) {
	horizon := anchor.Add(-w.retention)
	i := 0
	for i < len(w.readings) && w.readings[i].Timestamp.Before(horizon) {
		i++
	}
	if i > 0 {
		w.readings = append([]model.GlucoseReading(nil), w.readings[i:]...)
	}
}

// Snapshot returns a copy of the retained readings in ascending order.
func (w *ReadingWindow) Snapshot() []model.GlucoseReading {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.GlucoseReading(nil), w.readings...)
}

// Latest returns the newest retained reading.
func (w *ReadingWindow) Latest() (model.GlucoseReading, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.readings) == 0 {
		return model.GlucoseReading{}, false
	}
	return w.readings[len(w.readings)-1], true
}

// Len returns the number of retained readings.
func (w *ReadingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.readings)
}

// Clear drops all retained readings.
func (w *ReadingWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readings = nil
}
