package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/render"
	"github.com/Aman-CERP/docindex/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest supported documents as they appear in a directory",
		Long: `Watch a directory and ingest every supported document that is created
or modified there. Files are ingested one at a time once they have been
quiet for the configured debounce window (ingest.watch_debounce).

Removing a file does not remove its elements from the store.`,
		Example: `  docindex watch ./inbox
  docindex watch ./archive --recursive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if err := a.enableIngest(ctx); err != nil {
				return err
			}

			opts := watcher.DefaultOptions()
			opts.Debounce = a.cfg.Ingest.WatchDebounce
			opts.Filter = render.Supported
			opts.Recursive = recursive
			w, err := watcher.New(opts)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			feeder := watcher.NewFeeder(a.orchestrator, func(ev watcher.FileEvent, res *ingest.Result, err error) {
				if err != nil {
					out.Errorf("%s: %v", ev.Path, err)
					return
				}
				printIngestResult(out, res)
			})

			out.Statusf("", "Watching %s (Ctrl+C to stop)", args[0])
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Start(gctx, args[0]) })
			g.Go(func() error { return feeder.Run(gctx, w.Events()) })

			err = g.Wait()
			_ = w.Stop()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Also watch subdirectories")
	return cmd
}
