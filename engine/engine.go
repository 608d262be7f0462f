// Package engine is the service facade over the refinement loop. It owns
// the shared evaluator, hands every run a fresh Loop and a fresh Renderer,
// and exposes scoring and refinement over MCP and HTTP.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/uirefine/archive"
	"github.com/hazyhaar/uirefine/evaluate"
	"github.com/hazyhaar/uirefine/guard"
	"github.com/hazyhaar/uirefine/jobs"
	"github.com/hazyhaar/uirefine/kit"
	"github.com/hazyhaar/uirefine/refine"
)

var (
	// ErrNoMarkup is returned when a request carries no markup.
	ErrNoMarkup = errors.New("engine: html is required")
	// ErrInvalidRunID is returned for a run ID unfit for file names and
	// object keys.
	ErrInvalidRunID = errors.New("engine: invalid run_id")
)

// RendererFactory creates the Renderer of one run.
type RendererFactory func() refine.Renderer

// loadCounter is implemented by renderers that count document loads.
type loadCounter interface {
	Loads() int
}

// Config configures an Engine.
type Config struct {
	Loop refine.Config

	// NewRenderer is called once per Refine. Required for Refine.
	NewRenderer RendererFactory
	// Refiner may be nil: runs then stop after the first evaluation.
	Refiner refine.Refiner

	Observers []refine.Observer
	Archive   *archive.Archive
	Publisher refine.ScreenshotPublisher
	// Jobs enables Submit and RunJobs.
	Jobs *jobs.Queue

	// CacheSize bounds the evaluator's report cache. Default: 256.
	CacheSize int
	// MaxConcurrentRuns bounds simultaneous Refine calls. Default: 2.
	MaxConcurrentRuns int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine runs scoring and refinement requests. It is safe for concurrent
// use.
type Engine struct {
	cfg    Config
	eval   *evaluate.Evaluator
	logger *slog.Logger
	slots  chan struct{}
}

// New validates the loop configuration and builds the shared evaluator.
func New(cfg Config) (*Engine, error) {
	cfg.defaults()
	if err := cfg.Loop.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	eval, err := evaluate.New(cfg.Loop.EvaluateOptions(), evaluate.WithCacheSize(cfg.CacheSize))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		eval:   eval,
		logger: cfg.Logger,
		slots:  make(chan struct{}, cfg.MaxConcurrentRuns),
	}, nil
}

// Archive returns the attached archive, or nil.
func (e *Engine) Archive() *archive.Archive { return e.cfg.Archive }

// ScoreRequest asks for one evaluation.
type ScoreRequest struct {
	Markup     string `json:"html"`
	DesignSpec any    `json:"design_spec,omitempty"`
}

// Score evaluates markup once, without rendering.
func (e *Engine) Score(_ context.Context, req ScoreRequest) (*evaluate.Report, error) {
	if strings.TrimSpace(req.Markup) == "" {
		return nil, ErrNoMarkup
	}
	return e.eval.Evaluate(req.Markup, req.DesignSpec), nil
}

// RefineRequest asks for one refinement run.
type RefineRequest struct {
	Markup       string              `json:"html"`
	Requirements refine.Requirements `json:"requirements,omitempty"`
	// MaxIterations overrides the configured bound when positive.
	MaxIterations int `json:"max_iterations,omitempty"`
	// RunID fixes the run ID; a run ID in the context is used otherwise.
	RunID string `json:"run_id,omitempty"`
}

// RefineResponse is the outcome of a run. Result is nil when the first
// render failed or the run was cancelled before it started.
type RefineResponse struct {
	RunID   string                  `json:"run_id"`
	Result  *refine.IterationResult `json:"result"`
	Summary refine.Summary          `json:"summary"`
}

// Refine runs the loop on req.Markup with a fresh Renderer, started before
// the run and stopped on every exit path.
func (e *Engine) Refine(ctx context.Context, req RefineRequest) (*RefineResponse, error) {
	if strings.TrimSpace(req.Markup) == "" {
		return nil, ErrNoMarkup
	}
	if e.cfg.NewRenderer == nil {
		return nil, errors.New("engine: no renderer configured")
	}
	cfg := e.cfg.Loop
	if req.MaxIterations > 0 {
		cfg.MaxIterations = req.MaxIterations
	}

	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-ctx.Done():
		return nil, fmt.Errorf("engine: waiting for a run slot: %w", ctx.Err())
	}

	runID := req.RunID
	if runID == "" {
		runID = kit.GetRunID(ctx)
	}
	if runID != "" {
		if err := guard.ValidateIdentifier(runID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRunID, err)
		}
	}
	opts := []refine.Option{
		refine.WithLogger(e.logger),
		refine.WithEvaluator(e.eval),
	}
	if runID != "" {
		opts = append(opts, refine.WithRunID(runID))
	}
	if e.cfg.Archive != nil {
		opts = append(opts, refine.WithObserver(e.cfg.Archive))
	}
	for _, o := range e.cfg.Observers {
		opts = append(opts, refine.WithObserver(o))
	}
	if e.cfg.Publisher != nil {
		opts = append(opts, refine.WithScreenshotPublisher(e.cfg.Publisher))
	}

	renderer := e.cfg.NewRenderer()
	loop, err := refine.New(cfg, renderer, e.cfg.Refiner, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	defer func() {
		if err := renderer.Stop(); err != nil {
			e.logger.Warn("engine: stop renderer", "run_id", loop.RunID(), "error", err)
		}
	}()
	if err := renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("engine: start renderer: %w", err)
	}

	res := loop.Run(ctx, req.Markup, req.Requirements)
	if lc, ok := renderer.(loadCounter); ok {
		e.logger.Info("engine: run finished", "run_id", loop.RunID(),
			"stop_reason", loop.Summary().StopReason, "loads", lc.Loads())
	}
	return &RefineResponse{
		RunID:   loop.RunID(),
		Result:  res,
		Summary: loop.Summary(),
	}, nil
}
