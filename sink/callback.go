package sink

import (
	"context"

	"github.com/hazyhaar/uirefine/refine"
)

// IterationFunc is called for each iteration.
type IterationFunc func(ctx context.Context, runID string, res refine.IterationResult) error

// SummaryFunc is called when a run finishes.
type SummaryFunc func(ctx context.Context, runID string, sum refine.Summary) error

// Callback delivers events as in-process function calls. Either handler
// may be nil.
type Callback struct {
	onIteration IterationFunc
	onSummary   SummaryFunc
}

// NewCallback creates a Callback sink.
func NewCallback(onIteration IterationFunc, onSummary SummaryFunc) *Callback {
	return &Callback{onIteration: onIteration, onSummary: onSummary}
}

func (c *Callback) OnIteration(ctx context.Context, runID string, res refine.IterationResult) error {
	if c.onIteration != nil {
		return c.onIteration(ctx, runID, res)
	}
	return nil
}

func (c *Callback) OnComplete(ctx context.Context, runID string, sum refine.Summary) error {
	if c.onSummary != nil {
		return c.onSummary(ctx, runID, sum)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
