package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/uirefine/engine"
	"github.com/hazyhaar/uirefine/kit"
)

type runOptions struct {
	out           string
	requirements  string
	maxIterations int
	runID         string
	screenshotDir string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file|->",
		Short: "Run the render/score/refine loop on an HTML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if opts.screenshotDir != "" {
				cfg.Loop.ScreenshotDir = opts.screenshotDir
			}
			markup, err := readInput(args[0])
			if err != nil {
				return err
			}
			reqs, err := readRequirements(opts.requirements)
			if err != nil {
				return err
			}

			logger := root.logger()
			ctx := kit.WithTransport(cmd.Context(), "cli")
			a, err := newApp(ctx, cfg, logger, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.engine.Refine(ctx, engine.RefineRequest{
				Markup:        markup,
				Requirements:  reqs,
				MaxIterations: opts.maxIterations,
				RunID:         opts.runID,
			})
			if err != nil {
				return err
			}
			if resp.Result == nil {
				return fmt.Errorf("run %s produced no result: %s", resp.RunID, resp.Summary.StopReason)
			}
			if opts.out != "" {
				if err := os.WriteFile(opts.out, []byte(resp.Result.Markup), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", opts.out, err)
				}
			}
			if root.jsonOut {
				return writeJSON(os.Stdout, resp)
			}
			fmt.Fprintln(os.Stdout, renderRun(resp))
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the final markup to this file")
	cmd.Flags().StringVarP(&opts.requirements, "requirements", "r", "", "JSON or YAML requirements for the refiner")
	cmd.Flags().IntVarP(&opts.maxIterations, "max-iterations", "n", 0, "override loop.max_iterations")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "fix the run ID")
	cmd.Flags().StringVar(&opts.screenshotDir, "screenshots", "", "capture a screenshot per iteration into this directory")
	return cmd
}
