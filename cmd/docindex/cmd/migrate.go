package cmd

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Re-index the store if its backend or embedding model changed",
		Long: `Compare the stored fingerprint (backend and embedding model) with the
current configuration. When they differ, every collection is backed up,
recreated and restored, which re-embeds all elements, and the new
fingerprint is saved.

Every command that opens the store does this check; migrate runs it on its
own and prints what happened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.report)
			}
			printMigrationReport(output.New(cmd.OutOrStdout()), a.report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func printMigrationReport(out *output.Writer, r *store.MigrationReport) {
	if r == nil {
		out.Status("", "Migration check disabled")
		return
	}
	if !r.Migrated {
		out.Successf("Store is up to date (%s)", r.Current)
		return
	}

	out.Successf("Migrated %s -> %s", r.Previous, r.Current)
	names := make([]string, 0, len(r.BackedUp))
	for name := range r.BackedUp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.KeyValue("backed up "+name, r.BackedUp[name])
	}
	out.KeyValue("restored", r.Restored)
	out.KeyValue("duration", r.Duration.Round(time.Millisecond))
	if r.RestoreFailures > 0 {
		out.Warningf("%d elements could not be restored", r.RestoreFailures)
	}
}
