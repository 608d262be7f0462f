// Package evaluate runs the scoring pipeline on one markup artifact:
// element extraction, layout and accessibility analysis, quality score,
// issues and improvement suggestions.
package evaluate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hazyhaar/uirefine/analysis"
	"github.com/hazyhaar/uirefine/element"
	"github.com/hazyhaar/uirefine/quality"
)

// SuggestionThreshold is the score below which a metric triggers a
// suggestion.
const SuggestionThreshold = 0.7

// Suggestion texts.
const (
	SuggestSpacing   = "Improve spacing consistency"
	SuggestAlignment = "Improve element alignment"
	SuggestHierarchy = "Enhance visual hierarchy"
	SuggestAria      = "Add ARIA labels for screen readers"
	SuggestFocus     = "Add focus indicators for keyboard navigation"
	SuggestContrast  = "Improve color contrast"
)

// Options select which analyses run and how they are weighed.
type Options struct {
	Mode                analysis.Mode
	EnableLayout        bool
	EnableAccessibility bool
	Weights             quality.Weights
}

// DefaultOptions runs both analyses in detailed mode with default weights.
func DefaultOptions() Options {
	return Options{
		Mode:                analysis.Detailed,
		EnableLayout:        true,
		EnableAccessibility: true,
		Weights:             quality.DefaultWeights,
	}
}

// Report is the outcome of one evaluation. Reports may be shared through
// the cache and must be treated as read-only.
type Report struct {
	Elements      []element.Element              `json:"elements"`
	Layout        *analysis.LayoutMetrics        `json:"layout_metrics,omitempty"`
	Accessibility *analysis.AccessibilityMetrics `json:"accessibility_metrics,omitempty"`
	QualityScore  float64                        `json:"quality_score"`
	Issues        []string                       `json:"issues"`
	Suggestions   []string                       `json:"suggestions"`
}

// Evaluator scores markup. It is safe for concurrent use.
type Evaluator struct {
	opts  Options
	cache *lru.Cache[string, *Report]
}

// Option configures an Evaluator.
type Option func(*Evaluator) error

// WithCacheSize memoises up to n reports keyed by markup digest.
func WithCacheSize(n int) Option {
	return func(e *Evaluator) error {
		if n <= 0 {
			return nil
		}
		c, err := lru.New[string, *Report](n)
		if err != nil {
			return fmt.Errorf("evaluate: cache: %w", err)
		}
		e.cache = c
		return nil
	}
}

// New creates an Evaluator.
func New(opts Options, options ...Option) (*Evaluator, error) {
	e := &Evaluator{opts: opts}
	for _, o := range options {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Options returns the evaluator's configuration.
func (e *Evaluator) Options() Options { return e.opts }

// Evaluate scores markup. designSpec is forwarded to layout analysis.
func (e *Evaluator) Evaluate(markup string, designSpec any) *Report {
	var key string
	if e.cache != nil && designSpec == nil {
		key = e.key(markup)
		if r, ok := e.cache.Get(key); ok {
			return r
		}
	}

	r := &Report{Elements: element.Extract(markup)}
	if e.opts.EnableLayout {
		r.Layout = analysis.AnalyzeLayout(r.Elements, e.opts.Mode, designSpec)
	}
	if e.opts.EnableAccessibility {
		r.Accessibility = analysis.AnalyzeAccessibility(r.Elements, markup, e.opts.Mode)
	}
	r.QualityScore = quality.Score(r.Layout, r.Accessibility, e.opts.Weights)
	r.Issues = Issues(r.Layout, r.Accessibility)
	r.Suggestions = Suggestions(r.Layout, r.Accessibility)

	if key != "" {
		e.cache.Add(key, r)
	}
	return r
}

func (e *Evaluator) key(markup string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%t|%t|%g|%g|", e.opts.Mode, e.opts.EnableLayout, e.opts.EnableAccessibility,
		e.opts.Weights.Layout, e.opts.Weights.Accessibility)
	h.Write([]byte(markup))
	return hex.EncodeToString(h.Sum(nil))
}

// Issues concatenates layout then accessibility issues.
func Issues(layout *analysis.LayoutMetrics, access *analysis.AccessibilityMetrics) []string {
	out := []string{}
	if layout != nil {
		out = append(out, layout.Issues...)
	}
	if access != nil {
		out = append(out, access.Issues...)
	}
	return out
}

// Suggestions applies the threshold rules to whichever metric groups are
// present.
func Suggestions(layout *analysis.LayoutMetrics, access *analysis.AccessibilityMetrics) []string {
	out := []string{}
	if layout != nil {
		if layout.SpacingConsistency < SuggestionThreshold {
			out = append(out, SuggestSpacing)
		}
		if layout.AlignmentScore < SuggestionThreshold {
			out = append(out, SuggestAlignment)
		}
		if layout.VisualHierarchy < SuggestionThreshold {
			out = append(out, SuggestHierarchy)
		}
	}
	if access != nil {
		if !access.AriaLabelsPresent {
			out = append(out, SuggestAria)
		}
		if !access.FocusIndicatorsPresent {
			out = append(out, SuggestFocus)
		}
		if access.ColorContrastScore < SuggestionThreshold {
			out = append(out, SuggestContrast)
		}
	}
	return out
}
