package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/laserpointlabs/ODRAS-sub000/internal/output"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

type entitiesOptions struct {
	project    string
	entityType string
	domain     string
	tags       []string
	limit      int
	format     string
}

func newEntitiesCmd() *cobra.Command {
	var opts entitiesOptions

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List indexed entities",
		Long: `List indexed entities with optional filters. Multiple --tag flags
require all given tags (conjunctive).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntities(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "Restrict to one project")
	cmd.Flags().StringVarP(&opts.entityType, "type", "t", "", "Restrict to one entity type")
	cmd.Flags().StringVarP(&opts.domain, "domain", "d", "", "Restrict to one domain")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Require tag (repeatable, all must match)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", store.DefaultListLimit, "Maximum number of entities")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runEntities(ctx context.Context, cmd *cobra.Command, opts entitiesOptions) error {
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

	entries, err := eng.indexer.ListIndexed(ctx, store.EntryFilter{
		EntityType: store.EntityType(opts.entityType),
		ProjectID:  opts.project,
		Domain:     opts.domain,
		Tags:       opts.tags,
		Limit:      opts.limit,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	out := output.New(cmd.OutOrStdout())
	if len(entries) == 0 {
		out.Status("", "No indexed entities match")
		return nil
	}

	out.Statusf("📚", "%d indexed entities:", len(entries))
	for _, e := range entries {
		chunks, err := eng.indexer.ChunkCount(ctx, e.IndexID)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s/%s", e.EntityType, e.EntityID)
		if e.Domain != "" {
			line += " [" + e.Domain + "]"
		}
		line += fmt.Sprintf(" (%d chunks, updated %s)", chunks, e.UpdatedAt.Format("2006-01-02 15:04"))
		if len(e.Tags) > 0 {
			line += " tags: " + strings.Join(e.Tags, ", ")
		}
		out.Status("", line)
	}
	return nil
}
