package analysis

import (
	"strings"

	"github.com/hazyhaar/uirefine/element"
)

// AccessibilityMetrics summarises accessibility findings. The contrast
// score is a placeholder: no colour computation is performed.
type AccessibilityMetrics struct {
	ColorContrastScore     float64  `json:"color_contrast_score"`
	KeyboardNavigable      bool     `json:"keyboard_navigable"`
	ScreenReaderCompatible bool     `json:"screen_reader_compatible"`
	AriaLabelsPresent      bool     `json:"aria_labels_present"`
	FocusIndicatorsPresent bool     `json:"focus_indicators_present"`
	Issues                 []string `json:"issues"`
}

// AnalyzeAccessibility inspects the raw markup for ARIA labelling and
// focus styling. Matching is case-sensitive.
func AnalyzeAccessibility(elements []element.Element, markup string, mode Mode) *AccessibilityMetrics {
	_ = elements

	if mode == Lightweight {
		return &AccessibilityMetrics{
			ColorContrastScore:     0.7,
			KeyboardNavigable:      true,
			ScreenReaderCompatible: true,
			Issues:                 []string{"Limited accessibility analysis in lightweight mode"},
		}
	}

	m := &AccessibilityMetrics{
		ColorContrastScore:     0.8,
		KeyboardNavigable:      true,
		ScreenReaderCompatible: true,
		AriaLabelsPresent:      strings.Contains(markup, "aria-label") || strings.Contains(markup, "aria-labelledby"),
		FocusIndicatorsPresent: strings.Contains(markup, ":focus") || strings.Contains(markup, "focus-visible"),
		Issues:                 []string{},
	}
	if !m.AriaLabelsPresent {
		m.Issues = append(m.Issues, "Missing ARIA labels for interactive elements")
	}
	if !m.FocusIndicatorsPresent {
		m.Issues = append(m.Issues, "Missing visible focus indicators for keyboard users")
	}
	return m
}
