package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/laserpointlabs/ODRAS-sub000/internal/output"
)

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the relational store",
		Long: `Drop the vector index and regenerate every embedding from the stored
chunk content. The relational store is the source of truth, so a
rebuild recovers from vector index loss or corruption, and re-embeds
with the configured model after a model change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runRebuild(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCleanup := setupLogging(cfg)
	defer logCleanup()

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	out := output.New(cmd.OutOrStdout())
	out.Statusf("🔄", "Rebuilding vector index with model %s", eng.embedder.ModelName())

	count, err := eng.index.Rebuild(ctx, eng.embedder)
	if err != nil {
		return err
	}
	if err := eng.saveVectors(); err != nil {
		return err
	}

	out.Successf("Rebuilt %d vectors", count)
	return nil
}
