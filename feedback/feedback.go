// Package feedback holds the per-run history of scored snapshots.
//
// A Store is append-only for the duration of a refinement run. Collect
// creates the snapshot for an iteration with empty metric fields; the
// caller fills them in before anything else reads the snapshot, and never
// touches it again afterwards.
package feedback

import (
	"sync"
	"time"

	"github.com/hazyhaar/uirefine/analysis"
	"github.com/hazyhaar/uirefine/element"
)

// Snapshot is one iteration's scored feedback record.
type Snapshot struct {
	Timestamp     time.Time                      `json:"timestamp"`
	Iteration     int                            `json:"iteration"`
	Elements      []element.Element              `json:"elements"`
	Layout        *analysis.LayoutMetrics        `json:"layout_metrics,omitempty"`
	Accessibility *analysis.AccessibilityMetrics `json:"accessibility_metrics,omitempty"`
	QualityScore  float64                        `json:"quality_score"`
	Issues        []string                       `json:"issues"`
	Suggestions   []string                       `json:"suggestions"`
	ScreenshotRef string                         `json:"screenshot_ref,omitempty"`
	Metadata      map[string]any                 `json:"metadata,omitempty"`
}

// Store is an append-only list of snapshots.
type Store struct {
	mu    sync.RWMutex
	snaps []*Snapshot
	now   func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Collect appends and returns a new snapshot for iteration. Metric fields
// are left empty for the caller to fill.
func (s *Store) Collect(iteration int, elements []element.Element, screenshotRef string, metadata map[string]any) *Snapshot {
	if metadata == nil {
		metadata = map[string]any{}
	}
	snap := &Snapshot{
		Timestamp:     s.now(),
		Iteration:     iteration,
		Elements:      elements,
		ScreenshotRef: screenshotRef,
		Metadata:      metadata,
		Issues:        []string{},
		Suggestions:   []string{},
	}
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
	return snap
}

// History returns the last limit snapshots, oldest first. limit <= 0
// returns all of them. The returned slice is a copy.
func (s *Store) History(limit int) []*Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(s.snaps) {
		start = len(s.snaps) - limit
	}
	out := make([]*Snapshot, len(s.snaps)-start)
	copy(out, s.snaps[start:])
	return out
}

// Len reports how many snapshots have been collected.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

// Clear drops every snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	s.snaps = nil
	s.mu.Unlock()
}
