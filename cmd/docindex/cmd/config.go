package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/docindex/configs"
	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage docindex configuration.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/docindex/config.yaml)
  3. Project config (.docindex.yaml in --config-dir)
  4. .env in --config-dir, then DOCINDEX_* environment variables`,
		Example: `  docindex config init
  docindex config init --project
  docindex config show --json`,
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		project bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the configuration template",
		Long: `Write the commented configuration template to the user config path, or
with --project to .docindex.yaml in --config-dir.

An existing file is kept unless --force is given, in which case it is
backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if project {
				path = filepath.Join(configDir, config.ProjectConfigFile)
			}
			return runConfigInit(cmd, path, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&project, "project", false, "Write .docindex.yaml in --config-dir instead of the user config")
	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.KeyValue("location", path)
			out.Status("", "Use --force to replace it (a backup is kept)")
			return nil
		}
		backup, err := config.BackupFile(path)
		if err != nil {
			return err
		}
		out.KeyValue("backup", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created configuration")
	out.KeyValue("location", path)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = cfg.Redacted()
			w := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = w.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
