// Package quality folds layout and accessibility metrics into one score.
package quality

import "github.com/hazyhaar/uirefine/analysis"

// Weights balance the two metric groups. They are normalised by their sum
// when both groups are present.
type Weights struct {
	Layout        float64 `json:"layout" yaml:"layout"`
	Accessibility float64 `json:"accessibility" yaml:"accessibility"`
}

// DefaultWeights favours layout 60/40.
var DefaultWeights = Weights{Layout: 0.6, Accessibility: 0.4}

// LayoutComposite is the unweighted mean of the five layout scores.
func LayoutComposite(m *analysis.LayoutMetrics) float64 {
	if m == nil {
		return 0
	}
	return 0.2 * (m.SpacingConsistency + m.AlignmentScore + m.VisualHierarchy +
		m.WhitespaceBalance + m.GridConsistency)
}

// AccessibilityComposite weighs contrast 0.3, keyboard and screen reader
// support 0.2 each, ARIA labels and focus indicators 0.15 each.
func AccessibilityComposite(m *analysis.AccessibilityMetrics) float64 {
	if m == nil {
		return 0
	}
	return 0.3*m.ColorContrastScore +
		0.2*b2f(m.KeyboardNavigable) +
		0.2*b2f(m.ScreenReaderCompatible) +
		0.15*b2f(m.AriaLabelsPresent) +
		0.15*b2f(m.FocusIndicatorsPresent)
}

// Score returns the combined quality in [0,1]. A missing group is dropped
// and the remaining composite stands alone; with neither group the score
// is 0.
func Score(layout *analysis.LayoutMetrics, access *analysis.AccessibilityMetrics, w Weights) float64 {
	switch {
	case layout == nil && access == nil:
		return 0
	case access == nil:
		return clamp(LayoutComposite(layout))
	case layout == nil:
		return clamp(AccessibilityComposite(access))
	}

	if w.Layout < 0 || w.Accessibility < 0 || w.Layout+w.Accessibility <= 0 {
		w = DefaultWeights
	}
	sum := w.Layout + w.Accessibility
	v := (LayoutComposite(layout)*w.Layout + AccessibilityComposite(access)*w.Accessibility) / sum
	return clamp(v)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
