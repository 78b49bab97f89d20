// Package cmd provides the CLI commands for the odras engine.
package cmd

import (
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/laserpointlabs/ODRAS-sub000/internal/config"
	"github.com/laserpointlabs/ODRAS-sub000/internal/logging"
	"github.com/laserpointlabs/ODRAS-sub000/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the odras CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "odras",
		Short: "Knowledge indexing and retrieval engine",
		Long: `odras indexes project knowledge (files, ontologies, knowledge assets,
conversations) into a dual relational and vector store and answers
semantic retrieval queries with source attribution.

Run 'odras worker' to process entity change events continuously, or
'odras index' and 'odras search' for one-shot operations.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("odras version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.odras/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging mirrored to stderr")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newEntitiesCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads the effective configuration for this invocation.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// setupLogging initializes slog per config, defaulting the log file into the
// data directory. Logging failures fall back to the default logger rather
// than blocking the command.
func setupLogging(cfg *config.Config) (*slog.Logger, func()) {
	logCfg := cfg.Logging
	if logCfg.FilePath == "" {
		logCfg.FilePath = filepath.Join(cfg.DataDir, "logs", "engine.log")
	}
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return slog.Default(), func() {}
	}
	return logger, cleanup
}
