// Package compare diffs consecutive feedback snapshots and classifies the
// quality trend of a run.
package compare

import (
	"fmt"

	"github.com/hazyhaar/uirefine/feedback"
)

// TrendThreshold is the average per-iteration delta beyond which a run is
// considered improving or declining.
const TrendThreshold = 0.05

// TrendKind classifies a run's quality trajectory.
type TrendKind string

const (
	TrendImproving        TrendKind = "improving"
	TrendDeclining        TrendKind = "declining"
	TrendStable           TrendKind = "stable"
	TrendInsufficientData TrendKind = "insufficient_data"
	TrendNoData           TrendKind = "no_data"
)

// Comparison is the outcome of comparing two snapshots.
type Comparison struct {
	Improvements   []string `json:"improvements"`
	Regressions    []string `json:"regressions"`
	Unchanged      []string `json:"unchanged"`
	QualityDelta   float64  `json:"quality_delta"`
	IterationDelta int      `json:"iteration_delta"`
}

// Compare reports per-metric movements from prev to curr. Only strict
// increases count as improvements and strict decreases as regressions;
// ties land in Unchanged. Layout and accessibility metrics are compared
// only when both snapshots carry them.
func Compare(prev, curr *feedback.Snapshot) Comparison {
	c := Comparison{
		Improvements: []string{},
		Regressions:  []string{},
		Unchanged:    []string{},
	}
	if prev == nil || curr == nil {
		return c
	}
	c.QualityDelta = curr.QualityScore - prev.QualityScore
	c.IterationDelta = curr.Iteration - prev.Iteration

	c.score("Quality score", prev.QualityScore, curr.QualityScore)

	if prev.Layout != nil && curr.Layout != nil {
		c.score("Spacing consistency", prev.Layout.SpacingConsistency, curr.Layout.SpacingConsistency)
		c.score("Alignment", prev.Layout.AlignmentScore, curr.Layout.AlignmentScore)
		c.score("Visual hierarchy", prev.Layout.VisualHierarchy, curr.Layout.VisualHierarchy)
		c.score("Whitespace balance", prev.Layout.WhitespaceBalance, curr.Layout.WhitespaceBalance)
		c.score("Grid consistency", prev.Layout.GridConsistency, curr.Layout.GridConsistency)
	}

	if prev.Accessibility != nil && curr.Accessibility != nil {
		pa, ca := prev.Accessibility, curr.Accessibility
		c.score("Color contrast", pa.ColorContrastScore, ca.ColorContrastScore)
		c.flag("keyboard navigation", pa.KeyboardNavigable, ca.KeyboardNavigable)
		c.flag("screen reader compatibility", pa.ScreenReaderCompatible, ca.ScreenReaderCompatible)
		c.flag("ARIA labels", pa.AriaLabelsPresent, ca.AriaLabelsPresent)
		c.flag("focus indicators", pa.FocusIndicatorsPresent, ca.FocusIndicatorsPresent)
	}

	before, after := len(prev.Issues), len(curr.Issues)
	switch {
	case after < before:
		c.Improvements = append(c.Improvements, fmt.Sprintf("Issue count reduced by %d (%d -> %d)", before-after, before, after))
	case after > before:
		c.Regressions = append(c.Regressions, fmt.Sprintf("Issue count increased by %d (%d -> %d)", after-before, before, after))
	default:
		c.Unchanged = append(c.Unchanged, fmt.Sprintf("Issue count unchanged (%d)", after))
	}
	return c
}

func (c *Comparison) score(name string, before, after float64) {
	switch {
	case after > before:
		c.Improvements = append(c.Improvements, fmt.Sprintf("%s improved: %.3f -> %.3f", name, before, after))
	case after < before:
		c.Regressions = append(c.Regressions, fmt.Sprintf("%s decreased: %.3f -> %.3f", name, before, after))
	default:
		c.Unchanged = append(c.Unchanged, fmt.Sprintf("%s unchanged: %.3f", name, after))
	}
}

func (c *Comparison) flag(name string, before, after bool) {
	switch {
	case after && !before:
		c.Improvements = append(c.Improvements, "Gained "+name)
	case before && !after:
		c.Regressions = append(c.Regressions, "Lost "+name)
	default:
		c.Unchanged = append(c.Unchanged, "No change in "+name)
	}
}

// TrendReport summarises the quality trajectory of a run.
type TrendReport struct {
	Trend              TrendKind `json:"trend"`
	AverageImprovement float64   `json:"average_improvement"`
	Iterations         int       `json:"iterations"`
	QualityScores      []float64 `json:"quality_scores"`
	FinalQuality       float64   `json:"final_quality"`
}

// Trend averages the successive score deltas of history. Fewer than two
// snapshots yield TrendInsufficientData.
func Trend(history []*feedback.Snapshot) TrendReport {
	scores := make([]float64, 0, len(history))
	for _, s := range history {
		if s != nil {
			scores = append(scores, s.QualityScore)
		}
	}
	r := TrendReport{
		Iterations:    len(scores),
		QualityScores: scores,
	}
	if len(scores) > 0 {
		r.FinalQuality = scores[len(scores)-1]
	}
	if len(scores) < 2 {
		r.Trend = TrendInsufficientData
		return r
	}

	var sum float64
	for i := 1; i < len(scores); i++ {
		sum += scores[i] - scores[i-1]
	}
	r.AverageImprovement = sum / float64(len(scores)-1)

	switch {
	case r.AverageImprovement > TrendThreshold:
		r.Trend = TrendImproving
	case r.AverageImprovement < -TrendThreshold:
		r.Trend = TrendDeclining
	default:
		r.Trend = TrendStable
	}
	return r
}
