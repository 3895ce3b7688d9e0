package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/nb-runner/internal/config"
	"github.com/hochfrequenz/nb-runner/internal/domain"
	"github.com/hochfrequenz/nb-runner/internal/observer"
	"github.com/hochfrequenz/nb-runner/internal/pipeline"
	"github.com/hochfrequenz/nb-runner/internal/publish"
	"github.com/hochfrequenz/nb-runner/internal/runstore"
	"github.com/hochfrequenz/nb-runner/internal/schedule"
	"github.com/hochfrequenz/nb-runner/internal/watcher"
	"github.com/hochfrequenz/nb-runner/web/api"
)

var (
	inputs    config.Inputs
	inputsErr error

	logsOutputPath string
	logsLines      int
	logsFollow     bool

	historyStatus string
	historyLimit  int

	scheduleCron string
)

func init() {
	inputs, inputsErr = config.InputsFromEnv(os.Getenv)

	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a notebook once",
		RunE:  runRun,
	}
	inputs.BindFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)

	// logs command
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the progress log of the latest run",
		RunE:  runLogs,
	}
	logsCmd.Flags().StringVar(&logsOutputPath, "output-path", inputs.OutputPath, "root the progress log lives in")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", watcher.DefaultLines, "number of lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream appended lines")
	rootCmd.AddCommand(logsCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (running, succeeded, failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to list")
	rootCmd.AddCommand(historyCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Execute a notebook on a cron schedule",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "five-field cron expression or descriptor such as @daily")
	scheduleCmd.MarkFlagRequired("cron")
	inputs.BindFlags(scheduleCmd.Flags())
	rootCmd.AddCommand(scheduleCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// buildPipeline wires the optional collaborators configured in cfg. The
// returned cleanup releases them.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, func(), error) {
	opts := pipeline.Options{Config: cfg, Logger: logger}
	var closers []func()

	store, err := runstore.New(cfg.Store.DatabasePath)
	if err != nil {
		logger.Warn("run history disabled", "path", cfg.Store.DatabasePath, "error", err)
	} else {
		opts.History = store
		closers = append(closers, func() { store.Close() })
	}

	opts.Notifier = buildNotifier(cfg.Notifications, os.Getenv)

	if cfg.Publish.Endpoint != "" {
		publisher, err := publish.New(publish.Config{
			Endpoint:  cfg.Publish.Endpoint,
			Bucket:    cfg.Publish.Bucket,
			Prefix:    cfg.Publish.Prefix,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Region:    cfg.Publish.Region,
			UseSSL:    cfg.Publish.UseSSL,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		opts.Uploader = publisher
	}

	if cfg.Progress.Listen != "" {
		server := api.NewServer(cfg.Progress.Listen, logger)
		serverCtx, cancel := context.WithCancel(ctx)
		go func() {
			if err := server.Start(serverCtx); err != nil {
				logger.Warn("progress server stopped", "error", err)
			}
		}()
		opts.Progress = server
		closers = append(closers, cancel)
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return pipeline.New(opts), cleanup, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	if inputsErr != nil {
		return inputsErr
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, cleanup, err := buildPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := p.Run(cmd.Context(), inputs)
	if err != nil {
		reportFailure(os.Stdout, os.Getenv, err)
		return err
	}

	if err := writeOutputs(os.Getenv, report); err != nil {
		return err
	}
	fmt.Printf("Artifact: %s\n", report.ArtifactPath)
	if report.RenderedPath != "" {
		fmt.Printf("Rendered: %s\n", report.RenderedPath)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := domain.Layout{OutputPath: logsOutputPath}.ProgressLogPath()

	lines, err := watcher.Tail(path, logsLines)
	if err != nil {
		return err
	}
	if lines == nil && !logsFollow {
		fmt.Printf("No progress log at %s\n", path)
		return nil
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	if !logsFollow {
		return nil
	}

	follower, err := observer.NewFollower(observer.FollowConfig{
		Path:    path,
		FromEnd: true,
		OnLines: func(lines []string) {
			for _, line := range lines {
				fmt.Println(line)
			}
		},
	}, logger)
	if err != nil {
		return err
	}
	return follower.Follow(cmd.Context())
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runstore.ListOptions{
		Status: domain.RunStatus(historyStatus),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNOTEBOOK\tSTATUS\tSTARTED\tDURATION")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(run.ID),
			run.NotebookPath,
			run.Status,
			humanize.Time(run.StartedAt),
			run.Duration().Round(time.Second),
		)
	}
	return w.Flush()
}

func runSchedule(cmd *cobra.Command, args []string) error {
	if inputsErr != nil {
		return inputsErr
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sched, err := schedule.New(scheduleCron, logger)
	if err != nil {
		return err
	}

	p, cleanup, err := buildPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("Scheduling %s (%s), next run %s\n",
		inputs.Notebook, scheduleCron, humanize.Time(sched.NextRun(time.Now())))

	return sched.Run(cmd.Context(), func(ctx context.Context) error {
		_, err := p.Run(ctx, inputs)
		return err
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
