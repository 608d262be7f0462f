// Package pattern counts recurring good-quality signals across the
// snapshots of a run and turns them into recommendations.
//
// Counters live in memory only and survive until Clear.
package pattern

import (
	"sync"

	"github.com/hazyhaar/uirefine/feedback"
)

// Counter names.
const (
	HighSpacingConsistency = "high_spacing_consistency"
	HighAlignment          = "high_alignment"
	GoodContrast           = "good_contrast"
	KeyboardNavigable      = "keyboard_navigable"
)

const (
	highScore           = 0.8
	reinforceAfter      = 5
	keyboardMinExamples = 3
)

// Learner accumulates pattern counters from snapshots.
type Learner struct {
	mu      sync.Mutex
	counts  map[string]int
	history []*feedback.Snapshot
}

// NewLearner returns an empty Learner.
func NewLearner() *Learner {
	return &Learner{counts: make(map[string]int)}
}

// Learn records the patterns present in snap.
func (l *Learner) Learn(snap *feedback.Snapshot) {
	if snap == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, snap)
	if lm := snap.Layout; lm != nil {
		if lm.SpacingConsistency > highScore {
			l.counts[HighSpacingConsistency]++
		}
		if lm.AlignmentScore > highScore {
			l.counts[HighAlignment]++
		}
	}
	if am := snap.Accessibility; am != nil {
		if am.ColorContrastScore > highScore {
			l.counts[GoodContrast]++
		}
		if am.KeyboardNavigable {
			l.counts[KeyboardNavigable]++
		}
	}
}

// Recommendations returns advice derived from the counters: reinforcement
// for patterns seen more than five times, and a correction when keyboard
// navigation has been seen fewer than three times.
func (l *Learner) Recommendations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := []string{}
	if l.counts[HighSpacingConsistency] > reinforceAfter {
		recs = append(recs, "Consistent spacing is working well; keep the current spacing scale")
	}
	if l.counts[HighAlignment] > reinforceAfter {
		recs = append(recs, "Strong alignment detected repeatedly; preserve the alignment grid")
	}
	if l.counts[GoodContrast] > reinforceAfter {
		recs = append(recs, "Good color contrast is consistent; keep the current palette")
	}
	if l.counts[KeyboardNavigable] < keyboardMinExamples {
		recs = append(recs, "Ensure every interactive element is reachable by keyboard")
	}
	return recs
}

// Counts returns a copy of the counters.
func (l *Learner) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// Seen reports how many snapshots have been learned from.
func (l *Learner) Seen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// Clear resets the counters and the stored snapshots.
func (l *Learner) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = make(map[string]int)
	l.history = nil
}
