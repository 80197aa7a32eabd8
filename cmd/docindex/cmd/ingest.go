package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/ui"
)

func newIngestCmd() *cobra.Command {
	var (
		jsonOutput bool
		noTUI      bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Extract and store the elements of one or more documents",
		Long: `Render each document into page images, extract tables, image regions and
text labels from every page and insert them into the knowledge store.

Pages whose extraction keeps failing are reported and skipped; the rest of
the document is still stored. Progress is shown as a terminal UI on
interactive terminals and as plain lines otherwise (or with --no-tui).`,
		Example: `  docindex ingest report.pdf
  docindex ingest slides.pptx scan.png --json
  docindex ingest *.pdf --no-tui`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if err := a.enableIngest(ctx); err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			orchestrator := a.orchestrator

			// JSON output stays machine readable, so no progress is drawn.
			var renderer ui.Renderer
			if !jsonOutput {
				renderer = ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
					ui.WithForcePlain(noTUI),
					ui.WithNoColor(output.NoColor())))
				if err := renderer.Start(ctx); err != nil {
					return err
				}
				defer func() { _ = renderer.Stop() }()
				orchestrator = orchestrator.WithProgress(ui.IngestObserver(renderer))
			}

			start := time.Now()
			results, failures := ingestAll(ctx, orchestrator, renderer, args)

			if renderer != nil {
				renderer.Complete(completionStats(results, len(failures), time.Since(start)))
				_ = renderer.Stop()
				for _, res := range results {
					printIngestResult(out, res)
				}
			}
			for _, f := range failures {
				out.Errorf("%s: %v", f.File, f.Err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d of %d documents failed", len(failures), len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Print plain progress lines instead of the terminal UI")
	return cmd
}

// ingestAll runs every path through the orchestrator, reporting each
// document's start to renderer when one is set. Failed documents are
// returned for printing once the renderer has stopped.
func ingestAll(ctx context.Context, o *ingest.Orchestrator, renderer ui.Renderer, paths []string) ([]*ingest.Result, []ui.ErrorEvent) {
	results := make([]*ingest.Result, 0, len(paths))
	var failures []ui.ErrorEvent
	for i, path := range paths {
		if renderer != nil {
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageRendering,
				Current:     i,
				Total:       len(paths),
				CurrentFile: path,
				Message:     "rendering " + filepath.Base(path),
			})
		}
		res, err := o.Invoke(ctx, path)
		if err != nil {
			failures = append(failures, ui.ErrorEvent{File: path, Err: err})
			continue
		}
		results = append(results, res)
	}
	return results, failures
}

func completionStats(results []*ingest.Result, failed int, elapsed time.Duration) ui.CompletionStats {
	stats := ui.CompletionStats{Documents: len(results), Errors: failed, Duration: elapsed}
	for _, res := range results {
		stats.Pages += res.Pages
		stats.FailedPages += len(res.FailedPages)
		stats.InsertFailures += res.InsertFailures
		for _, n := range res.Inserted {
			stats.Elements += n
		}
	}
	stats.Warnings = stats.FailedPages
	if stats.InsertFailures > 0 {
		stats.Warnings++
	}
	return stats
}

func printIngestResult(out *output.Writer, res *ingest.Result) {
	out.Successf("Ingested %s", res.Path)
	out.KeyValue("doc id", res.DocID)
	out.KeyValue("pages", res.Pages)

	names := make([]string, 0, len(res.Inserted))
	for name := range res.Inserted {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.KeyValue(name, res.Inserted[name])
	}
	out.KeyValue("duration", res.Duration.Round(time.Millisecond))

	if len(res.FailedPages) > 0 {
		pages := make([]int, len(res.FailedPages))
		for i, p := range res.FailedPages {
			pages[i] = p + 1
		}
		out.Warningf("extraction failed on pages %v", pages)
	}
	if res.InsertFailures > 0 {
		out.Warningf("%d elements could not be stored", res.InsertFailures)
	}
}
