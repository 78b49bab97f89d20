package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laserpointlabs/ODRAS-sub000/internal/output"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <entity-type> <entity-id>",
		Short: "Remove an entity from the index",
		Long: `Remove an indexed entity, its chunks, and its vectors. Deleting an
entity that was never indexed is a no-op.

Example:
  odras delete file requirements.md`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, store.EntityType(args[0]), args[1])
		},
	}
	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, entityType store.EntityType, entityID string) error {
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

	if err := eng.indexer.DeleteIndex(ctx, entityType, entityID); err != nil {
		return err
	}
	if err := eng.saveVectors(); err != nil {
		return err
	}

	output.New(cmd.OutOrStdout()).Successf("Removed %s", fmt.Sprintf("%s/%s", entityType, entityID))
	return nil
}
