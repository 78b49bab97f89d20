package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/laserpointlabs/ODRAS-sub000/internal/output"
	"github.com/laserpointlabs/ODRAS-sub000/internal/watch"
	"github.com/laserpointlabs/ODRAS-sub000/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var dropDir string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the reindexing worker",
		Long: `Run the reindexing worker: poll the event log for entity changes and
keep the index synchronized. With a drop directory configured, a
filesystem watcher feeds file events into the log.

Stops cleanly on SIGINT or SIGTERM; the vector index is saved on
shutdown and can always be rebuilt from the relational store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), cmd, dropDir)
		},
	}

	cmd.Flags().StringVar(&dropDir, "drop-dir", "", "Watch this directory for dropped files (overrides config)")
	return cmd
}

func runWorker(ctx context.Context, cmd *cobra.Command, dropDir string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dropDir != "" {
		cfg.Watch.Enabled = true
		cfg.Watch.Dir = dropDir
	}
	if !cfg.Watch.Enabled || cfg.Watch.Dir == "" {
		return fmt.Errorf("no drop directory configured: set watch.dir or pass --drop-dir")
	}

	logger, logCleanup := setupLogging(cfg)
	defer logCleanup()

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := watch.NewDirProvider(cfg.Watch.Dir)
	w := worker.New(eng.events, eng.indexer, provider, worker.Config{
		PollInterval: cfg.Worker.PollInterval(),
		SafetyWindow: cfg.Worker.SafetyWindow(),
		BatchSize:    cfg.Worker.BatchSize,
		Concurrency:  cfg.Worker.Concurrency,
	}, logger)

	watcher, err := watch.New(cfg.Watch.Dir, cfg.ProjectID, eng.events, logger)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("👀", "Watching %s (poll every %s)", cfg.Watch.Dir, cfg.Worker.PollInterval())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return w.Run(ctx) })
	group.Go(func() error { return watcher.Run(ctx) })

	err = group.Wait()
	if saveErr := eng.saveVectors(); saveErr != nil {
		logger.Error("vector_save_failed", "error", saveErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	out.Success("Worker stopped")
	return nil
}
