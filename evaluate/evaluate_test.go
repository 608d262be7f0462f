package evaluate

import (
	"testing"

	"github.com/hazyhaar/uirefine/analysis"
)

const page = `<html><head><style>button:focus{outline:2px solid}</style></head><body>
<h1>Sign up</h1>
<input type="email" aria-label="Email">
<button>Join</button>
</body></html>`

func TestEvaluate_Detailed(t *testing.T) {
	e, err := New(DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	r := e.Evaluate(page, nil)

	if len(r.Elements) != 3 {
		t.Fatalf("elements = %d, want 3", len(r.Elements))
	}
	if r.Layout == nil || r.Accessibility == nil {
		t.Fatal("both metric groups expected")
	}
	if !r.Accessibility.AriaLabelsPresent || !r.Accessibility.FocusIndicatorsPresent {
		t.Errorf("accessibility: %+v", r.Accessibility)
	}
	if r.QualityScore <= 0 || r.QualityScore > 1 {
		t.Errorf("score = %v", r.QualityScore)
	}
	for _, s := range r.Suggestions {
		if s == SuggestAria || s == SuggestFocus {
			t.Errorf("unexpected suggestion %q", s)
		}
	}
}

func TestEvaluate_TogglesDropGroups(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableAccessibility = false
	e, _ := New(opts)
	r := e.Evaluate(page, nil)
	if r.Accessibility != nil {
		t.Fatal("accessibility must be skipped")
	}
	if r.Layout == nil {
		t.Fatal("layout expected")
	}

	opts = DefaultOptions()
	opts.EnableLayout = false
	e, _ = New(opts)
	r = e.Evaluate(`<button>x</button>`, nil)
	if r.Layout != nil {
		t.Fatal("layout must be skipped")
	}
	want := []string{SuggestAria, SuggestFocus}
	if len(r.Suggestions) != len(want) {
		t.Fatalf("suggestions = %v, want %v", r.Suggestions, want)
	}
}

func TestSuggestions_Thresholds(t *testing.T) {
	layout := &analysis.LayoutMetrics{SpacingConsistency: 0.69, AlignmentScore: 0.7, VisualHierarchy: 0.2}
	access := &analysis.AccessibilityMetrics{ColorContrastScore: 0.5, AriaLabelsPresent: true}
	got := Suggestions(layout, access)
	want := []string{SuggestSpacing, SuggestHierarchy, SuggestFocus, SuggestContrast}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("suggestion %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIssues_Order(t *testing.T) {
	got := Issues(&analysis.LayoutMetrics{Issues: []string{"l"}}, &analysis.AccessibilityMetrics{Issues: []string{"a"}})
	if len(got) != 2 || got[0] != "l" || got[1] != "a" {
		t.Fatalf("issues = %v", got)
	}
	if got := Issues(nil, nil); got == nil || len(got) != 0 {
		t.Fatalf("empty issues = %v", got)
	}
}

func TestEvaluate_Cache(t *testing.T) {
	e, err := New(DefaultOptions(), WithCacheSize(4))
	if err != nil {
		t.Fatal(err)
	}
	a := e.Evaluate(page, nil)
	b := e.Evaluate(page, nil)
	if a != b {
		t.Fatal("identical markup should hit the cache")
	}
	if c := e.Evaluate(page+" ", nil); c == a {
		t.Fatal("different markup must not share a report")
	}
	if d := e.Evaluate(page, map[string]any{"grid": 12}); d == a {
		t.Fatal("a design spec bypasses the cache")
	}
}
