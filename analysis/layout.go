package analysis

import (
	"fmt"

	"github.com/hazyhaar/uirefine/element"
)

// MaxLayoutIssues caps LayoutMetrics.Issues.
const MaxLayoutIssues = 10

const (
	columnTolerance = 10  // |dx| below which two elements share a column
	minGap          = 5   // vertical gap below which elements are too close
	maxGap          = 100 // vertical gap above which spacing is excessive
	alignmentSpan   = 1000.0
	whitespaceArea  = 100000.0
)

// LayoutMetrics are the five layout scores, each in [0,1].
type LayoutMetrics struct {
	SpacingConsistency float64  `json:"spacing_consistency"`
	AlignmentScore     float64  `json:"alignment_score"`
	VisualHierarchy    float64  `json:"visual_hierarchy"`
	WhitespaceBalance  float64  `json:"whitespace_balance"`
	GridConsistency    float64  `json:"grid_consistency"`
	Issues             []string `json:"issues"`
}

// Values returns the five scores in declaration order.
func (m *LayoutMetrics) Values() [5]float64 {
	return [5]float64{
		m.SpacingConsistency, m.AlignmentScore, m.VisualHierarchy,
		m.WhitespaceBalance, m.GridConsistency,
	}
}

// AnalyzeLayout scores elements in the given mode. designSpec is accepted
// for target comparison but not interpreted yet.
func AnalyzeLayout(elements []element.Element, mode Mode, designSpec any) *LayoutMetrics {
	_ = designSpec

	if len(elements) == 0 {
		return &LayoutMetrics{Issues: []string{"No visual elements found"}}
	}

	var m *LayoutMetrics
	if mode == Lightweight {
		m = analyzeLayoutLight(elements)
	} else {
		m = analyzeLayoutDetailed(elements)
	}

	m.SpacingConsistency = clamp01(m.SpacingConsistency)
	m.AlignmentScore = clamp01(m.AlignmentScore)
	m.VisualHierarchy = clamp01(m.VisualHierarchy)
	m.WhitespaceBalance = clamp01(m.WhitespaceBalance)
	m.GridConsistency = clamp01(m.GridConsistency)
	if len(m.Issues) > MaxLayoutIssues {
		m.Issues = m.Issues[:MaxLayoutIssues]
	}
	if m.Issues == nil {
		m.Issues = []string{}
	}
	return m
}

func analyzeLayoutLight(elements []element.Element) *LayoutMetrics {
	if len(elements) < 2 {
		return &LayoutMetrics{
			SpacingConsistency: 0.5,
			AlignmentScore:     0.5,
			VisualHierarchy:    0.5,
			WhitespaceBalance:  0.5,
			GridConsistency:    0.5,
			Issues:             []string{"Insufficient elements for analysis"},
		}
	}

	var distinct int
	for i := 1; i < len(elements); i++ {
		if elements[i].Y != elements[i-1].Y {
			distinct++
		}
	}
	return &LayoutMetrics{
		SpacingConsistency: float64(distinct) / float64(len(elements)-1),
		AlignmentScore:     0.7,
		VisualHierarchy:    0.6,
		WhitespaceBalance:  0.65,
		GridConsistency:    0.7,
	}
}

func analyzeLayoutDetailed(elements []element.Element) *LayoutMetrics {
	m := &LayoutMetrics{}
	m.SpacingConsistency = spacingConsistency(elements, &m.Issues)
	m.AlignmentScore = alignmentScore(elements)
	m.VisualHierarchy = visualHierarchy(elements)
	m.WhitespaceBalance = whitespaceBalance(elements)
	m.GridConsistency = gridConsistency(elements)
	return m
}

// spacingConsistency scores each adjacent pair that shares a column by its
// vertical gap, measured from the bottom of the upper element to the top
// of the lower one.
func spacingConsistency(elements []element.Element, issues *[]string) float64 {
	var sum float64
	var n int
	for i := 1; i < len(elements); i++ {
		a, b := elements[i-1], elements[i]
		if abs(b.X-a.X) >= columnTolerance {
			continue
		}
		upper, lower := a, b
		if lower.Y < upper.Y {
			upper, lower = lower, upper
		}
		gap := lower.Y - upper.Bottom()

		switch {
		case gap < minGap:
			*issues = append(*issues, fmt.Sprintf("Elements too close: %s and %s (gap %dpx)", a.Kind, b.Kind, gap))
		case gap > maxGap:
			*issues = append(*issues, fmt.Sprintf("Excessive spacing between %s and %s (gap %dpx)", a.Kind, b.Kind, gap))
			sum += 0.5
		default:
			sum += 1.0
		}
		n++
	}
	if n == 0 {
		return 0.7
	}
	return sum / float64(n)
}

func alignmentScore(elements []element.Element) float64 {
	minX, maxX := elements[0].X, elements[0].X
	minY, maxY := elements[0].Y, elements[0].Y
	for _, e := range elements[1:] {
		minX, maxX = min(minX, e.X), max(maxX, e.X)
		minY, maxY = min(minY, e.Y), max(maxY, e.Y)
	}
	xs := clamp01(1 - float64(maxX-minX)/alignmentSpan)
	ys := clamp01(1 - float64(maxY-minY)/alignmentSpan)
	return (xs + ys) / 2
}

func visualHierarchy(elements []element.Element) float64 {
	var maxArea int
	for _, e := range elements {
		maxArea = max(maxArea, e.Area())
	}
	if maxArea == 0 {
		return 0.5
	}
	var sum float64
	for _, e := range elements {
		sum += float64(e.Area()) / float64(maxArea)
	}
	return sum / float64(len(elements))
}

func whitespaceBalance(elements []element.Element) float64 {
	var total int
	for _, e := range elements {
		total += e.Area()
	}
	return min(1, float64(total)/whitespaceArea)
}

func gridConsistency(elements []element.Element) float64 {
	var sum float64
	var n int
	for i := 0; i < len(elements); i++ {
		for j := i + 1; j < len(elements); j++ {
			if abs(elements[i].X-elements[j].X) < columnTolerance || abs(elements[i].Y-elements[j].Y) < columnTolerance {
				sum += 1.0
			} else {
				sum += 0.5
			}
			n++
		}
	}
	if n == 0 {
		return 0.7
	}
	return sum / float64(n)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
