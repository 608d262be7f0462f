package refine

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/uirefine/analysis"
	"github.com/hazyhaar/uirefine/evaluate"
	"github.com/hazyhaar/uirefine/quality"
)

// Config bounds a refinement run. A Loop copies its Config at
// construction, so changes made afterwards have no effect on it.
type Config struct {
	// MaxIterations bounds the total number of evaluations.
	MaxIterations int `json:"max_iterations"`
	// QualityThreshold is the early-success exit.
	QualityThreshold float64 `json:"quality_threshold"`
	// MinImprovement is the diminishing-returns exit.
	MinImprovement float64 `json:"min_improvement"`

	EnableLayoutAnalysis     bool `json:"enable_layout_analysis"`
	EnableAccessibilityCheck bool `json:"enable_accessibility_check"`

	// ScreenshotDir enables a per-iteration screenshot when non-empty.
	ScreenshotDir string `json:"screenshot_dir,omitempty"`

	Mode    analysis.Mode   `json:"mode"`
	Weights quality.Weights `json:"weights"`
}

// DefaultConfig returns the stock run configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:            5,
		QualityThreshold:         0.8,
		MinImprovement:           0.05,
		EnableLayoutAnalysis:     true,
		EnableAccessibilityCheck: true,
		Mode:                     analysis.Detailed,
		Weights:                  quality.DefaultWeights,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("refine: max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("refine: quality_threshold must be in [0,1], got %v", c.QualityThreshold)
	}
	if c.MinImprovement < 0 || c.MinImprovement > 1 {
		return fmt.Errorf("refine: min_improvement must be in [0,1], got %v", c.MinImprovement)
	}
	if c.Weights.Layout < 0 || c.Weights.Accessibility < 0 {
		return errors.New("refine: weights must not be negative")
	}
	return nil
}

// EvaluateOptions maps the config onto evaluator options.
func (c Config) EvaluateOptions() evaluate.Options {
	return evaluate.Options{
		Mode:                c.Mode,
		EnableLayout:        c.EnableLayoutAnalysis,
		EnableAccessibility: c.EnableAccessibilityCheck,
		Weights:             c.Weights,
	}
}
