package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/uirefine/compare"
	"github.com/hazyhaar/uirefine/evaluate"
	"github.com/hazyhaar/uirefine/feedback"
	"github.com/hazyhaar/uirefine/idgen"
	"github.com/hazyhaar/uirefine/pattern"
)

var errNoRenderer = errors.New("refine: no renderer")

// Loop runs refinement. One Loop runs one run at a time; Run must not be
// called concurrently on the same Loop. History and Summary may be read
// from other goroutines.
type Loop struct {
	cfg       Config
	renderer  Renderer
	refiner   Refiner
	eval      *evaluate.Evaluator
	logger    *slog.Logger
	observers []Observer
	publisher ScreenshotPublisher
	runID     string
	ids       idgen.Generator

	mu         sync.Mutex
	store      *feedback.Store
	learner    *pattern.Learner
	history    []*IterationResult
	stopReason StopReason
	currentID  string
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithObserver adds an observer. May be given several times.
func WithObserver(o Observer) Option {
	return func(lp *Loop) {
		if o != nil {
			lp.observers = append(lp.observers, o)
		}
	}
}

// WithScreenshotPublisher publishes every captured screenshot.
func WithScreenshotPublisher(p ScreenshotPublisher) Option {
	return func(lp *Loop) { lp.publisher = p }
}

// WithEvaluator replaces the evaluator built from the config. Its options
// should agree with the config toggles.
func WithEvaluator(e *evaluate.Evaluator) Option {
	return func(lp *Loop) {
		if e != nil {
			lp.eval = e
		}
	}
}

// WithRunID fixes the run ID instead of generating one per run.
func WithRunID(id string) Option {
	return func(lp *Loop) { lp.runID = id }
}

// WithIDGenerator sets the generator for run IDs. Default: idgen.RunIDs.
func WithIDGenerator(g idgen.Generator) Option {
	return func(lp *Loop) {
		if g != nil {
			lp.ids = g
		}
	}
}

// New creates a Loop. refiner may be nil, in which case every run stops
// after its first evaluation.
func New(cfg Config, renderer Renderer, refiner Refiner, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{
		cfg:      cfg,
		renderer: renderer,
		refiner:  refiner,
		logger:   slog.Default(),
		ids:      idgen.RunIDs,
		store:    feedback.NewStore(),
		learner:  pattern.NewLearner(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.eval == nil {
		e, err := evaluate.New(cfg.EvaluateOptions())
		if err != nil {
			return nil, fmt.Errorf("refine: evaluator: %w", err)
		}
		l.eval = e
	}
	return l, nil
}

// Config returns the loop's configuration.
func (l *Loop) Config() Config { return l.cfg }

// RunID returns the ID of the current or last run.
func (l *Loop) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentID
}

// Run refines markup until the stopping policy, a refiner failure, a render
// failure or cancellation ends the run. It returns the last iteration's
// result, or nil when the first render fails or ctx is done before the
// first iteration. Run never panics on collaborator failures.
func (l *Loop) Run(ctx context.Context, markup string, reqs Requirements) *IterationResult {
	runID := l.reset()
	log := l.logger.With("run_id", runID)
	log.Info("refine: run started", "max_iterations", l.cfg.MaxIterations, "html_length", len(markup))

	var last *IterationResult
	current := markup
	for i := 1; i <= l.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			log.Warn("refine: cancelled", "iteration", i, "error", err)
			return l.finish(ctx, runID, terminal(last, StopCancelled), StopCancelled)
		}

		ref, err := l.render(ctx, log, runID, i, current)
		if err != nil {
			log.Error("refine: render failed", "iteration", i, "error", err)
			return l.finish(ctx, runID, terminal(last, StopRenderFailed), StopRenderFailed)
		}

		res := l.score(i, current, ref, reqs, last)
		var next string
		if res.ShouldContinue {
			next = l.refine(ctx, log, res, reqs)
		}
		l.mu.Lock()
		l.history = append(l.history, res)
		l.mu.Unlock()
		log.Info("refine: iteration done",
			"iteration", i,
			"quality", res.Snapshot.QualityScore,
			"issues", len(res.Snapshot.Issues),
			"continue", res.ShouldContinue,
			"stop_reason", res.StopReason,
		)
		l.notify(ctx, log, runID, res)
		if !res.ShouldContinue {
			return l.finish(ctx, runID, res, res.StopReason)
		}
		current = next
		last = res
	}
	// Unreachable while Decide stops at MaxIterations.
	return l.finish(ctx, runID, last, StopMaxIterations)
}

func (l *Loop) reset() string {
	id := l.runID
	if id == "" {
		id = l.ids()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store.Clear()
	l.learner.Clear()
	l.history = nil
	l.stopReason = ""
	l.currentID = id
	return id
}

// render loads markup and captures the optional screenshot. Only a load
// failure is an error; screenshot problems are logged.
func (l *Loop) render(ctx context.Context, log *slog.Logger, runID string, iteration int, markup string) (string, error) {
	if l.renderer == nil {
		return "", errNoRenderer
	}
	if err := l.renderer.Load(ctx, markup); err != nil {
		return "", err
	}
	if l.cfg.ScreenshotDir == "" {
		return "", nil
	}
	path := filepath.Join(l.cfg.ScreenshotDir, fmt.Sprintf("%s_iter_%02d.png", runID, iteration))
	if err := l.renderer.CaptureScreenshot(ctx, path); err != nil {
		log.Warn("refine: screenshot failed", "iteration", iteration, "path", path, "error", err)
		return "", nil
	}
	if l.publisher == nil {
		return path, nil
	}
	ref, err := l.publisher.Publish(ctx, runID, path)
	if err != nil {
		log.Warn("refine: screenshot publish failed", "iteration", iteration, "path", path, "error", err)
		return path, nil
	}
	return ref, nil
}

func (l *Loop) score(iteration int, markup, ref string, reqs Requirements, last *IterationResult) *IterationResult {
	report := l.eval.Evaluate(markup, reqs.DesignSpec())

	snap := l.store.Collect(iteration, report.Elements, ref, map[string]any{"html_length": len(markup)})
	snap.Layout = report.Layout
	snap.Accessibility = report.Accessibility
	snap.QualityScore = report.QualityScore
	snap.Issues = slices.Clone(report.Issues)
	snap.Suggestions = slices.Clone(report.Suggestions)

	res := &IterationResult{
		Snapshot:     snap,
		Markup:       markup,
		Improvements: []string{},
		Regressions:  []string{},
	}
	var prevScore float64
	if last != nil {
		cmp := compare.Compare(last.Snapshot, snap)
		res.Improvements = cmp.Improvements
		res.Regressions = cmp.Regressions
		prevScore = last.Snapshot.QualityScore
	}
	l.learner.Learn(snap)
	res.ShouldContinue, res.StopReason = Decide(l.cfg, iteration, snap.QualityScore, prevScore, last != nil, res.Improvements)
	return res
}

// refine asks the refiner for the next markup. On any failure res becomes
// terminal and the empty string is returned.
func (l *Loop) refine(ctx context.Context, log *slog.Logger, res *IterationResult, reqs Requirements) string {
	stop := func(reason StopReason) string {
		res.ShouldContinue = false
		res.StopReason = reason
		return ""
	}
	iteration := res.Snapshot.Iteration
	if l.refiner == nil {
		log.Warn("refine: no refiner configured, stopping", "iteration", iteration)
		return stop(StopNoRefiner)
	}

	out, err := l.callRefiner(ctx, res.Markup, res.Snapshot, reqs)
	switch {
	case err != nil && ctx.Err() != nil:
		log.Warn("refine: cancelled during refinement", "iteration", iteration, "error", err)
		return stop(StopCancelled)
	case err != nil:
		log.Warn("refine: refiner failed, stopping", "iteration", iteration, "error", err)
		return stop(StopRefinerFailed)
	case strings.TrimSpace(out) == "":
		log.Warn("refine: refiner returned empty markup, stopping", "iteration", iteration)
		return stop(StopRefinerEmpty)
	case out == res.Markup:
		log.Warn("refine: refiner returned unchanged markup, stopping", "iteration", iteration)
		return stop(StopRefinerNoop)
	}
	return out
}

func (l *Loop) callRefiner(ctx context.Context, markup string, snap *feedback.Snapshot, reqs Requirements) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refiner panic: %v", r)
		}
	}()
	return l.refiner.Refine(ctx, markup, snap, slices.Clone(snap.Suggestions), reqs)
}

func (l *Loop) notify(ctx context.Context, log *slog.Logger, runID string, res *IterationResult) {
	if len(l.observers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, o := range l.observers {
		if err := o.OnIteration(ctx, runID, *res); err != nil {
			log.Error("refine: observer failed", "iteration", res.Iteration(), "error", err)
		}
	}
}

func (l *Loop) finish(ctx context.Context, runID string, res *IterationResult, reason StopReason) *IterationResult {
	l.mu.Lock()
	l.stopReason = reason
	l.mu.Unlock()

	sum := l.Summary()
	l.logger.Info("refine: run finished",
		"run_id", runID,
		"iterations", sum.Iterations,
		"final_quality", sum.FinalQuality,
		"trend", sum.ImprovementTrend,
		"stop_reason", reason,
	)
	if len(l.observers) > 0 {
		ctx = context.WithoutCancel(ctx)
		for _, o := range l.observers {
			if err := o.OnComplete(ctx, runID, sum); err != nil {
				l.logger.Error("refine: observer failed", "run_id", runID, "error", err)
			}
		}
	}
	return res
}

// terminal returns a stopped copy of res, or nil.
func terminal(res *IterationResult, reason StopReason) *IterationResult {
	if res == nil {
		return nil
	}
	cp := *res
	cp.ShouldContinue = false
	cp.StopReason = reason
	return &cp
}

// History returns the results of the current or last run, oldest first.
func (l *Loop) History() []*IterationResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.history)
}

// Summary describes the current or last run. A loop that has not run
// reports zero iterations and the no_data trend.
func (l *Loop) Summary() Summary {
	l.mu.Lock()
	history := slices.Clone(l.history)
	reason := l.stopReason
	l.mu.Unlock()

	if len(history) == 0 {
		return Summary{ImprovementTrend: compare.TrendNoData, StopReason: reason}
	}
	snaps := make([]*feedback.Snapshot, len(history))
	for i, r := range history {
		snaps[i] = r.Snapshot
	}
	trend := compare.Trend(snaps)
	initial := snaps[0].QualityScore
	final := snaps[len(snaps)-1].QualityScore
	return Summary{
		Iterations:         len(history),
		InitialQuality:     initial,
		FinalQuality:       final,
		QualityImprovement: final - initial,
		ImprovementTrend:   trend.Trend,
		AverageImprovement: trend.AverageImprovement,
		Recommendations:    l.learner.Recommendations(),
		StopReason:         reason,
	}
}
