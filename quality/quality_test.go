package quality

import (
	"math"
	"math/rand"
	"testing"

	"github.com/hazyhaar/uirefine/analysis"
	"github.com/hazyhaar/uirefine/element"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func uniformLayout(v float64) *analysis.LayoutMetrics {
	return &analysis.LayoutMetrics{
		SpacingConsistency: v, AlignmentScore: v, VisualHierarchy: v,
		WhitespaceBalance: v, GridConsistency: v,
	}
}

func TestScore_Composites(t *testing.T) {
	layout := uniformLayout(0.5)
	access := &analysis.AccessibilityMetrics{
		ColorContrastScore: 0.8, KeyboardNavigable: true, ScreenReaderCompatible: true,
	}
	// layout 0.5, accessibility 0.24+0.4 = 0.64.
	want := 0.5*0.6 + 0.64*0.4
	if got := Score(layout, access, DefaultWeights); !approx(got, want) {
		t.Errorf("Score = %v, want %v", got, want)
	}
}

func TestScore_MissingGroups(t *testing.T) {
	layout := uniformLayout(0.4)
	access := &analysis.AccessibilityMetrics{ColorContrastScore: 1, KeyboardNavigable: true,
		ScreenReaderCompatible: true, AriaLabelsPresent: true, FocusIndicatorsPresent: true}

	if got := Score(layout, nil, DefaultWeights); !approx(got, 0.4) {
		t.Errorf("layout only = %v, want 0.4", got)
	}
	if got := Score(nil, access, DefaultWeights); !approx(got, 1) {
		t.Errorf("accessibility only = %v, want 1", got)
	}
	if got := Score(nil, nil, DefaultWeights); got != 0 {
		t.Errorf("neither = %v, want 0", got)
	}
}

func TestScore_NormalisesWeights(t *testing.T) {
	layout := uniformLayout(1)
	access := &analysis.AccessibilityMetrics{}
	if got := Score(layout, access, Weights{Layout: 3, Accessibility: 1}); !approx(got, 0.75) {
		t.Errorf("Score = %v, want 0.75", got)
	}
	if got := Score(layout, access, Weights{}); !approx(got, 0.6) {
		t.Errorf("zero weights fall back to defaults: got %v, want 0.6", got)
	}
}

func TestScore_AlwaysInUnitRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		var els []element.Element
		for j := rng.Intn(12); j > 0; j-- {
			els = append(els, element.Element{
				X: rng.Intn(2000) - 500, Y: rng.Intn(3000) - 500,
				Width: rng.Intn(800), Height: rng.Intn(800),
			})
		}
		mode := analysis.Mode(rng.Intn(2))
		layout := analysis.AnalyzeLayout(els, mode, nil)
		access := analysis.AnalyzeAccessibility(els, "<p aria-label=x>", mode)
		w := Weights{Layout: rng.Float64() * 2, Accessibility: rng.Float64() * 2}

		for _, s := range []float64{
			Score(layout, access, w), Score(layout, nil, w), Score(nil, access, w),
		} {
			if s < 0 || s > 1 {
				t.Fatalf("iteration %d: score %v outside [0,1]", i, s)
			}
		}
	}
}
