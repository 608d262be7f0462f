package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/uirefine/refine"
)

// Router fans events out to every sink. One failing sink does not block
// the others: errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink.
func (r *Router) Add(s Sink) {
	if s != nil {
		r.sinks = append(r.sinks, s)
	}
}

// Len reports the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) OnIteration(ctx context.Context, runID string, res refine.IterationResult) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.OnIteration(ctx, runID, res); err != nil {
			r.logger.Warn("sink: iteration delivery failed", "run_id", runID, "iteration", res.Iteration(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) OnComplete(ctx context.Context, runID string, sum refine.Summary) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.OnComplete(ctx, runID, sum); err != nil {
			r.logger.Warn("sink: summary delivery failed", "run_id", runID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
