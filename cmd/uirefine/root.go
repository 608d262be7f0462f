package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/uirefine/config"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "uirefine",
		Short: "Iterative UI quality feedback and refinement",
		Long: `uirefine scores generated HTML against layout and accessibility heuristics,
renders it in Chrome, and asks a language model for improved versions until
the quality target is met or progress stalls.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to uirefine.yaml")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print machine-readable JSON")

	cmd.AddCommand(
		newScoreCmd(opts),
		newRunCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
	)
	return cmd
}

// loadConfig reads the dotenv file, the YAML config (defaults without one)
// and the secrets from the environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(o.configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// logger writes JSON logs to stderr; stdout is reserved for results and
// for the MCP stdio transport.
func (o *rootOptions) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(o.logLevel)}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
