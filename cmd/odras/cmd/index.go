package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/laserpointlabs/ODRAS-sub000/internal/index"
	"github.com/laserpointlabs/ODRAS-sub000/internal/output"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

type indexOptions struct {
	project    string
	domain     string
	entityType string
	entityID   string
	tags       []string
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index files into the knowledge store",
		Long: `Index one or more text files. Each file becomes an indexed entity
whose content is chunked, embedded, and made retrievable.

Re-indexing the same file is an upsert: unchanged content is a no-op,
changed content replaces the previous chunks.

Examples:
  odras index requirements.md
  odras index --project mission-a --domain requirements docs/*.md
  odras index --type knowledge_asset --id ka-42 summary.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "Project id (default from config)")
	cmd.Flags().StringVarP(&opts.domain, "domain", "d", "files", "Knowledge domain")
	cmd.Flags().StringVarP(&opts.entityType, "type", "t", string(store.EntityTypeFile), "Entity type")
	cmd.Flags().StringVar(&opts.entityID, "id", "", "Entity id (single file only, default: file name)")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Tag to attach (repeatable)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, paths []string, opts indexOptions) error {
	if opts.entityID != "" && len(paths) > 1 {
		return fmt.Errorf("--id can only be used with a single file")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.project == "" {
		opts.project = cfg.ProjectID
	}
	logger, logCleanup := setupLogging(cfg)
	defer logCleanup()

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	out := output.New(cmd.OutOrStdout())
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !utf8.Valid(data) {
			out.Warning(fmt.Sprintf("skipping %s: not valid text", path))
			continue
		}

		entityID := opts.entityID
		if entityID == "" {
			entityID = filepath.Base(path)
		}
		uri, err := filepath.Abs(path)
		if err != nil {
			uri = path
		}

		indexID, err := eng.indexer.IndexEntity(ctx, index.IndexRequest{
			EntityType:     store.EntityType(opts.entityType),
			EntityID:       entityID,
			ContentSummary: string(data),
			ProjectID:      opts.project,
			EntityURI:      uri,
			Domain:         opts.domain,
			Tags:           opts.tags,
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}

		chunks, err := eng.indexer.ChunkCount(ctx, indexID)
		if err != nil {
			return err
		}
		out.Successf("Indexed %s (%d chunks)", entityID, chunks)
	}

	return eng.saveVectors()
}
