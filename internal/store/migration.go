package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/docindex/internal/errors"
)

// backupPageSize is the Scroll page size used while backing up.
const backupPageSize = 1000

// MigrationReport describes one Migrator.Run.
type MigrationReport struct {
	Migrated bool
	Previous Fingerprint // zero when no fingerprint was stored
	Current  Fingerprint

	BackedUp        map[string]int // elements read per collection
	Restored        int
	RestoreFailures int
	Duration        time.Duration
}

// BackedUpTotal sums BackedUp.
func (r *MigrationReport) BackedUpTotal() int {
	total := 0
	for _, n := range r.BackedUp {
		total += n
	}
	return total
}

// Migrator re-indexes a store when its fingerprint changes. It compares the
// persisted fingerprint with the live one and, on a difference, backs up
// every managed collection, recreates them, restores the elements (which
// re-embeds them) and only then saves the new fingerprint. A crash before
// the save makes the next run repeat the whole migration.
type Migrator struct {
	store        KnowledgeStore
	fingerprints FingerprintStore
	current      Fingerprint
	names        CollectionNames
}

// NewMigrator binds a connected store to its fingerprint.
func NewMigrator(store KnowledgeStore, fingerprints FingerprintStore, current Fingerprint, names CollectionNames) *Migrator {
	return &Migrator{
		store:        store,
		fingerprints: fingerprints,
		current:      current,
		names:        names.withDefaults(),
	}
}

// Run executes the migration if needed. It must finish before any
// concurrent ingestion starts.
func (m *Migrator) Run(ctx context.Context) (*MigrationReport, error) {
	start := time.Now()
	report := &MigrationReport{
		Current:  m.current,
		BackedUp: make(map[string]int),
	}

	unlock, err := m.fingerprints.Lock(ctx)
	if err != nil {
		return nil, errors.New(errors.ErrCodeMigrationFailed, "failed to lock fingerprint", err)
	}
	defer unlock()

	previous, found, err := m.fingerprints.Load(ctx)
	if err != nil {
		// An unreadable record is treated like a missing one; migrating is safe.
		slog.Warn("fingerprint_unreadable", slog.String("error", err.Error()))
		found = false
	}
	if found {
		report.Previous = previous
	}
	if found && previous == m.current {
		report.Duration = time.Since(start)
		slog.Debug("migration_not_needed", slog.String("fingerprint", m.current.String()))
		return report, nil
	}

	slog.Info("migration_started",
		slog.String("previous", previous.String()),
		slog.String("current", m.current.String()),
		slog.Bool("first_run", !found))

	backup := m.backup(ctx, report)

	if err := m.recreate(ctx); err != nil {
		return nil, err
	}

	m.restore(ctx, backup, report)

	// The fingerprint marks the store initialised, so the restored data
	// must be on disk first.
	if err := m.store.Flush(ctx); err != nil {
		return nil, errors.New(errors.ErrCodeMigrationFailed, "failed to persist restored collections", err)
	}
	if err := m.fingerprints.Save(ctx, m.current); err != nil {
		return nil, errors.New(errors.ErrCodeMigrationFailed, "failed to save fingerprint", err)
	}

	report.Migrated = true
	report.Duration = time.Since(start)
	slog.Info("migration_completed",
		slog.Int("backed_up", report.BackedUpTotal()),
		slog.Int("restored", report.Restored),
		slog.Int("restore_failures", report.RestoreFailures),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// backup reads every managed collection. A missing or failing collection
// contributes an empty list.
func (m *Migrator) backup(ctx context.Context, report *MigrationReport) map[string][]Element {
	snapshot := make(map[string][]Element, 3)
	for _, name := range m.names.All() {
		elements, err := m.readAll(ctx, name)
		if err != nil {
			if !errors.IsNotFound(err) {
				slog.Warn("migration_backup_failed",
					slog.String("collection", name),
					slog.String("error", err.Error()))
			}
			elements = nil
		}
		snapshot[name] = elements
		report.BackedUp[name] = len(elements)
	}
	return snapshot
}

func (m *Migrator) readAll(ctx context.Context, name string) ([]Element, error) {
	var all []Element
	offset := 0
	for offset >= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, next, err := m.store.Scroll(ctx, name, offset, backupPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next >= 0 && next <= offset {
			return nil, fmt.Errorf("scroll of %s did not advance past offset %d", name, offset)
		}
		offset = next
	}
	return all, nil
}

// recreate drops and creates every managed collection.
func (m *Migrator) recreate(ctx context.Context) error {
	for _, name := range m.names.All() {
		if err := m.store.DeleteCollection(ctx, name); err != nil && !errors.IsNotFound(err) {
			return errors.New(errors.ErrCodeMigrationFailed, "failed to delete collection", err).
				WithDetail("collection", name)
		}
		if err := m.store.CreateCollection(ctx, name, true); err != nil {
			return errors.New(errors.ErrCodeMigrationFailed, "failed to create collection", err).
				WithDetail("collection", name)
		}
	}
	return nil
}

// restore re-inserts the snapshot. Failures are counted per element.
func (m *Migrator) restore(ctx context.Context, backup map[string][]Element, report *MigrationReport) {
	for _, name := range m.names.All() {
		for _, el := range backup[name] {
			if _, err := m.store.Insert(ctx, el, name); err != nil {
				report.RestoreFailures++
				slog.Warn("migration_restore_failed",
					slog.String("collection", name),
					slog.String("id", el.ID),
					slog.String("error", err.Error()))
				continue
			}
			report.Restored++
		}
	}
}
