// Package cmd provides the CLI commands for docindex.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/logging"
	"github.com/Aman-CERP/docindex/internal/profiling"
	"github.com/Aman-CERP/docindex/pkg/version"
)

// Persistent flags.
var (
	debugMode      bool
	configDir      string
	profileOpts    profiling.Options
	profileSession *profiling.Session
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docindex",
		Short: "Extract tables, images and labels from documents into a searchable store",
		Long: `docindex renders documents (PDF, office files, images) into page images,
asks a vision model for the tables, image regions and text labels on each
page, and stores them with their page number and bounding box.

Stored elements can be searched by keyword, by vector similarity or both,
from the CLI, over MCP or through the HTTP API.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("docindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.docindex/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory holding .docindex.yaml and .env")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Mem, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCollectionsCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts requested profiles and, with --debug,
// the debug file logger. Without --debug, commands install a stderr logger
// once their config is loaded.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profileSession = s
	}

	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug_logging_enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// configureLogging applies the configured level once config is known.
// stdio serving logs to file only; stdout belongs to JSON-RPC.
func configureLogging(level string, stdio bool) {
	if debugMode {
		return
	}
	cfg := logging.DefaultConfig()
	if level != "" {
		cfg.Level = level
	}
	if stdio {
		cfg = logging.StdioConfig(cfg.Level)
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		slog.Warn("logging_setup_failed", slog.String("error", err.Error()))
		return
	}
	if loggingCleanup != nil {
		loggingCleanup()
	}
	loggingCleanup = cleanup
}

// Execute runs the root command and prints failures with their hint.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, docerrors.FormatForCLI(err))
	}
	return err
}
