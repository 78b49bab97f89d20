package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/laserpointlabs/ODRAS-sub000/internal/output"
	"github.com/laserpointlabs/ODRAS-sub000/internal/retrieve"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

type searchOptions struct {
	project    string
	entityType string
	domains    []string
	limit      int
	threshold  float32
	format     string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve indexed knowledge semantically",
		Long: `Search the knowledge index by meaning. Results carry source
attribution (entity, project, domain) and are ranked by similarity.

Examples:
  odras search "attitude control requirements"
  odras search "thermal margins" --domain requirements --domain analysis
  odras search "interface definitions" --project mission-a -n 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "Restrict to one project")
	cmd.Flags().StringVarP(&opts.entityType, "type", "t", "", "Restrict to one entity type")
	cmd.Flags().StringSliceVarP(&opts.domains, "domain", "d", nil, "Restrict to domains (repeatable)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", retrieve.DefaultTopK, "Maximum number of results")
	cmd.Flags().Float32Var(&opts.threshold, "threshold", retrieve.DefaultScoreThreshold, "Minimum similarity score")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
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

	retrieveOpts := retrieve.Options{
		ProjectID:  opts.project,
		EntityType: store.EntityType(opts.entityType),
		Domains:    opts.domains,
		TopK:       opts.limit,
	}.WithThreshold(opts.threshold)
	if !cmd.Flags().Changed("threshold") {
		retrieveOpts = retrieveOpts.WithThreshold(cfg.Retrieval.ScoreThreshold)
	}
	if !cmd.Flags().Changed("limit") && cfg.Retrieval.TopK > 0 {
		retrieveOpts.TopK = cfg.Retrieval.TopK
	}

	result, err := retrieve.New(eng.index, eng.embedder, logger).Retrieve(ctx, query, retrieveOpts)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return formatResults(cmd, result)
}

func formatResults(cmd *cobra.Command, result *retrieve.Context) error {
	out := output.New(cmd.OutOrStdout())
	if len(result.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", result.Query))
		return nil
	}

	out.Statusf("🔍", "Found %d results for %q:", len(result.Results), result.Query)
	out.Newline()
	for i, r := range result.Results {
		source := fmt.Sprintf("%s/%s", r.EntityType, r.EntityID)
		if r.Domain != "" {
			source += " [" + r.Domain + "]"
		}
		out.Statusf("", "%d. %s (score: %.2f)", i+1, source, r.Score)
		for _, line := range snippet(r.Content, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}
	return nil
}

// snippet returns the first n non-empty-trailing lines of content.
func snippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
