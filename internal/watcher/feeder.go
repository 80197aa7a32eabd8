package watcher

import (
	"context"
	"log/slog"
	"os"

	"github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/ingest"
)

// Ingestor is the part of ingest.Orchestrator the feeder needs.
type Ingestor interface {
	Invoke(ctx context.Context, path string) (*ingest.Result, error)
}

// ResultFunc observes the outcome of each ingested file.
type ResultFunc func(ev FileEvent, res *ingest.Result, err error)

// Feeder ingests watched files sequentially.
type Feeder struct {
	ingestor Ingestor
	onResult ResultFunc
}

// NewFeeder creates a feeder. onResult may be nil.
func NewFeeder(ingestor Ingestor, onResult ResultFunc) *Feeder {
	return &Feeder{ingestor: ingestor, onResult: onResult}
}

// Run consumes batches until events is closed or ctx ends. Deleted files
// are skipped; stored elements are not removed.
func (f *Feeder) Run(ctx context.Context, events <-chan []FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			for _, ev := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}
				f.handle(ctx, ev)
			}
		}
	}
}

func (f *Feeder) handle(ctx context.Context, ev FileEvent) {
	if ev.Operation == OpDelete {
		slog.Debug("watch_file_removed", slog.String("path", ev.Path))
		return
	}
	if _, err := os.Stat(ev.Path); err != nil {
		slog.Debug("watch_file_vanished", slog.String("path", ev.Path))
		return
	}

	res, err := f.ingestor.Invoke(ctx, ev.Path)
	if err != nil {
		attrs := append(errors.LogAttrs(err), slog.String("path", ev.Path))
		slog.LogAttrs(ctx, slog.LevelWarn, "watch_ingest_failed", attrs...)
	}
	if f.onResult != nil {
		f.onResult(ev, res, err)
	}
}
