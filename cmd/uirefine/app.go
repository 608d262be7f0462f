package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/uirefine/archive"
	"github.com/hazyhaar/uirefine/browser"
	"github.com/hazyhaar/uirefine/config"
	"github.com/hazyhaar/uirefine/dbopen"
	"github.com/hazyhaar/uirefine/engine"
	"github.com/hazyhaar/uirefine/jobs"
	"github.com/hazyhaar/uirefine/refine"
	"github.com/hazyhaar/uirefine/refiner"
	"github.com/hazyhaar/uirefine/shots"
	"github.com/hazyhaar/uirefine/sink"
)

// app holds the components built from a Config for one command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *engine.Engine
	archive *archive.Archive
	jobs    *jobs.Queue
	sinks   *sink.Router

	closers []func() error
}

// newApp wires the engine. sinkOut receives the stdout sink's JSON lines.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, sinkOut io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	ref, err := buildRefiner(ctx, cfg.Refiner, logger)
	if err != nil {
		return nil, err
	}

	bcfg := cfg.Browser
	bcfg.Logger = logger
	mgr := browser.NewManager(bcfg)
	a.closers = append(a.closers, mgr.Close)

	ecfg := engine.Config{
		Loop:        cfg.LoopConfig(),
		NewRenderer: func() refine.Renderer { return browser.NewRendererWithManager(mgr) },
		Refiner:     ref,
		CacheSize:   cfg.Loop.CacheSize,
		Logger:      logger,
	}

	if cfg.Archive.Path != "" {
		db, err := dbopen.Open(cfg.Archive.Path, dbopen.WithMkdirAll())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if a.archive, err = openArchive(ctx, db, cfg.Archive, logger); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.archive.Close)
		ecfg.Archive = a.archive
		if a.jobs, err = openJobs(ctx, db, cfg.Jobs, logger); err != nil {
			return nil, err
		}
		ecfg.Jobs = a.jobs
	}

	if cfg.ShotsEnabled() {
		scfg := cfg.ShotsConfig()
		scfg.Logger = logger
		pub, err := shots.New(scfg)
		if err != nil {
			return nil, err
		}
		ecfg.Publisher = pub
	}

	a.sinks = sink.NewRouter(logger)
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			a.sinks.Add(sink.NewStdout(sinkOut))
		case "webhook":
			a.sinks.Add(sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookBackoff(sc.Backoff),
				sink.WithWebhookLogger(logger),
			))
		}
	}
	a.closers = append(a.closers, a.sinks.Close)
	if a.sinks.Len() > 0 {
		ecfg.Observers = append(ecfg.Observers, a.sinks)
	}

	if a.engine, err = engine.New(ecfg); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func openArchive(ctx context.Context, db *sql.DB, cfg config.ArchiveConfig, logger *slog.Logger) (*archive.Archive, error) {
	arch, err := archive.New(archive.Config{
		DB:            db,
		MetricsBuffer: cfg.MetricsBuffer,
		FlushInterval: cfg.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Retention > 0 {
		n, err := arch.Metrics().Cleanup(ctx, cfg.Retention)
		if err != nil {
			logger.Warn("uirefine: metrics cleanup", "error", err)
		} else if n > 0 {
			logger.Info("uirefine: metrics cleaned up", "deleted", n)
		}
	}
	return arch, nil
}

func openJobs(ctx context.Context, db *sql.DB, cfg config.JobsConfig, logger *slog.Logger) (*jobs.Queue, error) {
	q, err := jobs.New(db, jobs.Options{
		Visibility:   cfg.Visibility,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
		Workers:      cfg.Workers,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Retention > 0 {
		n, err := q.Cleanup(ctx, cfg.Retention)
		if err != nil {
			logger.Warn("uirefine: jobs cleanup", "error", err)
		} else if n > 0 {
			logger.Info("uirefine: finished jobs cleaned up", "deleted", n)
		}
	}
	return q, nil
}

// startJobs runs the job workers until ctx is done. The returned function
// waits for them to drain.
func (a *app) startJobs(ctx context.Context) (wait func()) {
	if a.jobs == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.engine.RunJobs(ctx)
	}()
	return func() { <-done }
}

func buildRefiner(ctx context.Context, cfg config.RefinerConfig, logger *slog.Logger) (refine.Refiner, error) {
	var model refiner.Model
	switch cfg.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderGemini:
		if cfg.APIKey == "" {
			return nil, errors.New("uirefine: GEMINI_API_KEY is required for the gemini refiner")
		}
		g, err := refiner.NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		model = g
	case config.ProviderOllama:
		model = refiner.NewOllama(cfg.Model, cfg.URL)
	default:
		return nil, fmt.Errorf("uirefine: unknown refiner provider %q", cfg.Provider)
	}

	opts := []refiner.Option{
		refiner.WithLogger(logger),
		refiner.WithMaxPromptBytes(cfg.MaxPromptBytes),
	}
	if cfg.Sanitize != nil && !*cfg.Sanitize {
		opts = append(opts, refiner.WithoutSanitize())
	}
	logger.Info("uirefine: refiner ready", "model", model.Name())
	return refiner.NewLLM(model, opts...), nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
