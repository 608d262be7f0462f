package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/uirefine/engine"
	"github.com/hazyhaar/uirefine/kit"
)

func newScoreCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "score <file|->",
		Short: "Score HTML once without rendering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			markup, err := readInput(args[0])
			if err != nil {
				return err
			}
			eng, err := engine.New(engine.Config{
				Loop:   cfg.LoopConfig(),
				Logger: root.logger(),
			})
			if err != nil {
				return err
			}
			ctx := kit.WithTransport(cmd.Context(), "cli")
			rep, err := eng.Score(ctx, engine.ScoreRequest{Markup: markup})
			if err != nil {
				return err
			}
			if root.jsonOut {
				return writeJSON(os.Stdout, rep)
			}
			fmt.Fprintln(os.Stdout, renderReport(rep))
			return nil
		},
	}
}

