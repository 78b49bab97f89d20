package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laserpointlabs/ODRAS-sub000/internal/output"
)

func newCheckCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify relational and vector store consistency",
		Long: `Cross-check chunk rows against vector points. Reports chunks missing
their vector and stray vectors with no chunk row. With --repair, an
inconsistent index is rebuilt from the relational store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd, repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Rebuild the vector index if inconsistent")
	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, repair bool) error {
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
	report, err := eng.index.VerifyConsistency(ctx)
	if err != nil {
		return err
	}

	out.Statusf("🔎", "Chunk rows: %d, vector points: %d", report.ChunkRows, report.VectorPoints)
	if report.Consistent() {
		out.Success("Index is consistent")
		return nil
	}

	if len(report.MissingVectors) > 0 {
		out.Warning(fmt.Sprintf("%d chunks missing their vector point", len(report.MissingVectors)))
	}
	if len(report.OrphanVectors) > 0 {
		out.Warning(fmt.Sprintf("%d vector points without a chunk row", len(report.OrphanVectors)))
	}

	if !repair {
		return fmt.Errorf("index is inconsistent: run 'odras check --repair' or 'odras rebuild'")
	}

	count, err := eng.index.Rebuild(ctx, eng.embedder)
	if err != nil {
		return err
	}
	if err := eng.saveVectors(); err != nil {
		return err
	}
	out.Successf("Repaired: rebuilt %d vectors", count)
	return nil
}
