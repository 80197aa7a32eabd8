package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/extract"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/render"
	"github.com/Aman-CERP/docindex/internal/store"
)

// loadConfig loads configuration from --config-dir. A relative store path
// is resolved against that directory.
func loadConfig() (*config.Config, error) {
	dir := configDir
	if dir == "" {
		dir = "."
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(dir, cfg.Store.Path)
	}
	if cfg.Store.FingerprintPath != "" && !filepath.IsAbs(cfg.Store.FingerprintPath) {
		cfg.Store.FingerprintPath = filepath.Join(dir, cfg.Store.FingerprintPath)
	}
	return cfg, nil
}

// app holds the components a command needs. Ingestion parts are nil until
// enableIngest.
type app struct {
	cfg      *config.Config
	embedder embed.Embedder
	store    store.KnowledgeStore
	report   *store.MigrationReport

	vision       extract.Vision
	extractor    *extract.Extractor
	orchestrator *ingest.Orchestrator
}

// openApp loads config, sets up logging and opens the store. Opening runs
// the migration check.
func openApp(ctx context.Context, stdio bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	configureLogging(cfg.Server.LogLevel, stdio)

	embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	st, report, err := store.Open(ctx, cfg.Store, embedder)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	if report != nil && report.Migrated {
		slog.Info("store_migrated",
			slog.String("from", report.Previous.String()),
			slog.String("to", report.Current.String()),
			slog.Int("restored", report.Restored))
	}
	return &app{cfg: cfg, embedder: embedder, store: st, report: report}, nil
}

// enableIngest builds the renderer, vision capability, extractor and
// orchestrator.
func (a *app) enableIngest(ctx context.Context) error {
	vision, err := extract.NewVision(ctx, a.cfg.Vision)
	if err != nil {
		return fmt.Errorf("vision: %w", err)
	}
	a.vision = vision
	a.extractor = extract.NewExtractor(vision, extract.ConfigFrom(a.cfg.Vision))
	a.orchestrator = ingest.New(render.New(a.cfg.Render), a.extractor, a.store, ingest.Config{
		Workers: a.cfg.Ingest.Workers,
	})
	return nil
}

// Close releases everything openApp and enableIngest acquired.
func (a *app) Close() error {
	var errs []error
	if a.vision != nil {
		errs = append(errs, a.vision.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
