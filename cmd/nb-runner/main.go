package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	logger     = slog.Default()
	rootCmd    = &cobra.Command{
		Use:   "nb-runner",
		Short: "Run parameterized Jupyter notebooks as an automation step",
		Long: `nb-runner executes a Jupyter notebook with papermill, optionally echoing
the tail of the progress log while it runs, and renders the executed
notebook to HTML on success. Inputs follow GitHub Actions conventions
(INPUT_NOTEBOOK, INPUT_PARAMS, ...) and can be overridden with flags.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
