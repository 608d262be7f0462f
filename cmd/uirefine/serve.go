package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/uirefine/shield"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scoring and refinement HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := root.logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			jobsCtx, cancelJobs := context.WithCancel(ctx)
			waitJobs := a.startJobs(jobsCtx)
			defer func() {
				cancelJobs()
				waitJobs()
			}()

			var limiter *shield.RateLimiter
			if cfg.Server.RefinePerMinute > 0 {
				limiter = shield.NewRateLimiter(map[string]shield.Rule{
					"POST /refine": {Max: cfg.Server.RefinePerMinute, Window: time.Minute},
					"POST /jobs":   {Max: cfg.Server.RefinePerMinute, Window: time.Minute},
				}, logger)
				limiter.StartGC(5*time.Minute, ctx.Done())
			}

			r := chi.NewRouter()
			for _, mw := range shield.DefaultStack(logger, limiter) {
				r.Use(mw)
			}
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"ok"}`))
			})
			a.engine.Routes(r)

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				logger.Info("uirefine: listening", "addr", cfg.Server.Addr, "archive", a.archive != nil, "jobs", a.jobs != nil)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("uirefine: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
