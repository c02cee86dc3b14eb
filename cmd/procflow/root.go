package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	procflow "github.com/drblury/procflow"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "procflow",
	Short: "Run and inspect procflow process definitions",
	Long: `procflow executes declarative process definitions: graphs of task and
gateway nodes that the engine walks while dispatching registered handlers.

Definitions are plain YAML or JSON files. Run one against the built-in demo
handlers, validate a batch of files, or resume a suspended instance from a
snapshot. Engine settings come from an optional config file (procflow.yaml),
PROCFLOW_* environment variables and flags, in that order of precedence.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on any failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a procflow config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the engine logger. The CLI keeps the engine quiet by
// default so command output stays readable; --verbose turns everything on.
func newLogger(conf *cliConfig) procflow.Logger {
	level := slog.LevelWarn
	if conf.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return procflow.NewSlogLogger(slog.New(handler))
}
