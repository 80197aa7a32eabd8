package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/errors"
)

// New builds an unconnected store for backend. dir empty keeps the store in
// memory.
func New(backend, dir string, names CollectionNames, embedder embed.Embedder) (KnowledgeStore, error) {
	if embedder == nil {
		return nil, errors.ValidationError("store requires an embedder", nil)
	}
	switch backend {
	case BackendBleve, "":
		return NewBleveStore(dir, names, embedder), nil
	case BackendHNSW:
		return NewHNSWStore(dir, names, embedder), nil
	case BackendSQLite:
		return NewSQLiteStore(dir, names, embedder), nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown store backend %q", backend), nil).
			WithSuggestion(fmt.Sprintf("Set store.backend to one of %v.", Backends()))
	}
}

type openOptions struct {
	names        CollectionNames
	fingerprints FingerprintStore
	migrate      bool
}

// OpenOption customises Open.
type OpenOption func(*openOptions)

// WithCollectionNames overrides the managed collection names.
func WithCollectionNames(names CollectionNames) OpenOption {
	return func(o *openOptions) { o.names = names }
}

// WithFingerprintStore replaces the fingerprint file derived from the config.
func WithFingerprintStore(fps FingerprintStore) OpenOption {
	return func(o *openOptions) { o.fingerprints = fps }
}

// WithoutMigration skips the fingerprint check.
func WithoutMigration() OpenOption {
	return func(o *openOptions) { o.migrate = false }
}

// Open builds, connects and migrates a store, then makes sure every managed
// collection exists. The returned report is nil when migration was skipped.
func Open(ctx context.Context, cfg config.StoreConfig, embedder embed.Embedder, opts ...OpenOption) (KnowledgeStore, *MigrationReport, error) {
	o := openOptions{names: DefaultCollectionNames(), migrate: true}
	for _, opt := range opts {
		opt(&o)
	}
	o.names = o.names.withDefaults()

	st, err := New(cfg.Backend, cfg.Path, o.names, embedder)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Connect(ctx); err != nil {
		return nil, nil, err
	}

	var report *MigrationReport
	if o.migrate {
		fps := o.fingerprints
		if fps == nil {
			fps = fingerprintStoreFor(cfg)
		}
		current := Fingerprint{Backend: st.Backend(), EmbeddingModel: embedder.ModelName()}
		report, err = NewMigrator(st, fps, current, o.names).Run(ctx)
		if err != nil {
			_ = st.Close()
			return nil, nil, err
		}
	}

	for _, name := range o.names.All() {
		if err := st.CreateCollection(ctx, name, true); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
	}

	slog.Debug("store_opened",
		slog.String("backend", st.Backend()),
		slog.String("path", cfg.Path),
		slog.Bool("migrated", report != nil && report.Migrated))
	return st, report, nil
}

// fingerprintStoreFor resolves the fingerprint location for cfg. An
// in-memory store with no explicit path gets an in-memory fingerprint.
func fingerprintStoreFor(cfg config.StoreConfig) FingerprintStore {
	resolved := config.Config{Store: cfg}
	if path := resolved.FingerprintFile(); path != "" {
		return NewFingerprintFile(path)
	}
	return NewMemoryFingerprint()
}
