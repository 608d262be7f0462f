// Package refine drives the iterative evaluate/refine loop.
//
// A Loop renders the current markup, scores it, compares it with the
// previous iteration, and either stops or asks a Refiner for a better
// version. The Renderer and the Refiner are collaborators supplied by the
// caller; the loop never starts or stops the Renderer itself.
package refine

import (
	"context"

	"github.com/hazyhaar/uirefine/compare"
	"github.com/hazyhaar/uirefine/feedback"
)

// Renderer loads markup into a rendering surface. Load must be safe to
// call repeatedly.
type Renderer interface {
	Start(ctx context.Context) error
	Stop() error
	Load(ctx context.Context, markup string) error
	CaptureScreenshot(ctx context.Context, path string) error
}

// Refiner proposes improved markup from the feedback of one iteration. It
// must not retain or modify snap. A reply that is empty or whitespace only
// ends the run with StopRefinerEmpty, as an error does with
// StopRefinerFailed.
type Refiner interface {
	Refine(ctx context.Context, markup string, snap *feedback.Snapshot, suggestions []string, reqs Requirements) (string, error)
}

// RefinerFunc adapts a function to the Refiner interface.
type RefinerFunc func(ctx context.Context, markup string, snap *feedback.Snapshot, suggestions []string, reqs Requirements) (string, error)

// Refine calls f.
func (f RefinerFunc) Refine(ctx context.Context, markup string, snap *feedback.Snapshot, suggestions []string, reqs Requirements) (string, error) {
	return f(ctx, markup, snap, suggestions, reqs)
}

// Requirements is an opaque bag handed to the Refiner. Only the
// design_spec key is read by the loop.
type Requirements map[string]any

// DesignSpecKey is the requirements key forwarded to layout analysis.
const DesignSpecKey = "design_spec"

// DesignSpec returns the design_spec entry, or nil.
func (r Requirements) DesignSpec() any {
	if r == nil {
		return nil
	}
	return r[DesignSpecKey]
}

// Observer is notified as a run progresses. Errors are logged by the loop
// and never abort a run.
type Observer interface {
	OnIteration(ctx context.Context, runID string, res IterationResult) error
	OnComplete(ctx context.Context, runID string, sum Summary) error
}

// ScreenshotPublisher moves a captured screenshot somewhere durable and
// returns the reference to store in the snapshot.
type ScreenshotPublisher interface {
	Publish(ctx context.Context, runID, path string) (string, error)
}

// StopReason explains why a run ended at a given iteration.
type StopReason string

const (
	StopMaxIterations      StopReason = "max_iterations"
	StopQualityThreshold   StopReason = "quality_threshold"
	StopDiminishingReturns StopReason = "diminishing_returns"
	StopNoRefiner          StopReason = "no_refiner"
	StopRefinerFailed      StopReason = "refiner_failed"
	StopRefinerNoop        StopReason = "refiner_noop"
	StopRefinerEmpty       StopReason = "refiner_empty"
	StopRenderFailed       StopReason = "render_failed"
	StopCancelled          StopReason = "cancelled"
)

// IterationResult is the outcome of one iteration.
type IterationResult struct {
	Snapshot       *feedback.Snapshot `json:"snapshot"`
	Markup         string             `json:"html_content"`
	Improvements   []string           `json:"improvements"`
	Regressions    []string           `json:"regressions"`
	ShouldContinue bool               `json:"should_continue"`
	StopReason     StopReason         `json:"stop_reason,omitempty"`
}

// Iteration returns the 1-based iteration number, or 0 without a snapshot.
func (r *IterationResult) Iteration() int {
	if r == nil || r.Snapshot == nil {
		return 0
	}
	return r.Snapshot.Iteration
}

// Summary describes a finished (or empty) run.
type Summary struct {
	Iterations         int               `json:"iterations"`
	InitialQuality     float64           `json:"initial_quality"`
	FinalQuality       float64           `json:"final_quality"`
	QualityImprovement float64           `json:"quality_improvement"`
	ImprovementTrend   compare.TrendKind `json:"improvement_trend"`
	AverageImprovement float64           `json:"average_improvement"`
	Recommendations    []string          `json:"recommendations,omitempty"`
	StopReason         StopReason        `json:"stop_reason,omitempty"`
}

// Decide applies the stopping policy to iteration. prevScore is only
// consulted when hasPrev is true. A false result carries the reason.
func Decide(cfg Config, iteration int, score, prevScore float64, hasPrev bool, improvements []string) (bool, StopReason) {
	if iteration >= cfg.MaxIterations {
		return false, StopMaxIterations
	}
	if score >= cfg.QualityThreshold {
		return false, StopQualityThreshold
	}
	if iteration > 1 && hasPrev && len(improvements) == 0 && score-prevScore < cfg.MinImprovement {
		return false, StopDiminishingReturns
	}
	return true, ""
}
