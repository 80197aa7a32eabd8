// Package ingest runs a document through rendering, page extraction and
// storage.
//
// Pages are extracted by a bounded pool of workers. Bundles are inserted in
// the order pages finish, not page order, and a page whose extraction
// failed contributes nothing. Insertion across the three collections is not
// atomic: a failed insert is logged and counted and the remaining elements
// are still written. The store is flushed once every page is handled.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/extract"
	"github.com/Aman-CERP/docindex/internal/render"
	"github.com/Aman-CERP/docindex/internal/store"
)

// DefaultWorkers is the number of pages extracted concurrently.
const DefaultWorkers = 3

// PageExtractor turns one page image into a bundle of elements.
type PageExtractor interface {
	Extract(ctx context.Context, page render.Page) (extract.Result, error)
}

// Config tunes an Orchestrator.
type Config struct {
	Workers int
	Names   store.CollectionNames

	// Progress, when set, receives an Event after rendering and after each
	// page. It is called from one goroutine at a time.
	Progress func(Event)
}

// EventKind distinguishes progress events.
type EventKind int

const (
	// EventRendered fires once the document is split into Total pages.
	EventRendered EventKind = iota
	// EventPage fires when a page's elements have been stored, or its
	// extraction gave up.
	EventPage
)

// Event reports ingestion progress for one document.
type Event struct {
	Kind  EventKind
	DocID string
	Path  string
	Total int

	// Page events only.
	Page           int
	Done           int // pages finished, this one included
	Failed         bool
	Inserted       int
	InsertFailures int
}

// Result summarises one ingested document.
type Result struct {
	DocID string `json:"doc_id"`
	Path  string `json:"path"`
	Pages int    `json:"pages"`

	// Inserted counts stored elements per collection.
	Inserted map[string]int `json:"inserted"`

	// FailedPages lists, sorted, the pages whose extraction gave up.
	FailedPages []int `json:"failed_pages,omitempty"`

	InsertFailures int           `json:"insert_failures,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Total is the number of elements stored.
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Inserted {
		n += c
	}
	return n
}

// Orchestrator ingests documents into a knowledge store.
type Orchestrator struct {
	renderer  render.Renderer
	extractor PageExtractor
	store     store.KnowledgeStore
	names     store.CollectionNames
	workers   int
	progress  func(Event)
}

// New creates an orchestrator.
func New(renderer render.Renderer, extractor PageExtractor, st store.KnowledgeStore, cfg Config) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	names := cfg.Names
	if names.Table == "" && names.Image == "" && names.Label == "" {
		names = store.DefaultCollectionNames()
	}
	return &Orchestrator{
		renderer:  renderer,
		extractor: extractor,
		store:     st,
		names:     names,
		workers:   cfg.Workers,
		progress:  cfg.Progress,
	}
}

// WithProgress returns a copy of o that reports to fn.
func (o *Orchestrator) WithProgress(fn func(Event)) *Orchestrator {
	c := *o
	c.progress = fn
	return &c
}

func (o *Orchestrator) emit(ev Event) {
	if o.progress != nil {
		o.progress(ev)
	}
}

// Invoke ingests the file at path under a freshly minted document id.
// Rendering failures, including unsupported formats, abort before any
// extraction. Extraction and insert failures do not.
func (o *Orchestrator) Invoke(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	res := &Result{
		DocID:    uuid.NewString(),
		Path:     path,
		Inserted: make(map[string]int, 3),
	}
	for _, name := range o.names.All() {
		res.Inserted[name] = 0
	}

	pages, err := o.renderer.Render(ctx, path)
	if err != nil {
		return nil, err
	}
	res.Pages = len(pages)

	slog.Info("ingest_started",
		slog.String("doc_id", res.DocID),
		slog.String("path", path),
		slog.Int("pages", len(pages)),
		slog.Int("workers", o.workers))
	o.emit(Event{Kind: EventRendered, DocID: res.DocID, Path: path, Total: len(pages)})

	// Buffered so no worker ever blocks on the consumer.
	results := make(chan extract.Result, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	go func() {
		for _, p := range pages {
			g.Go(func() error {
				r, err := o.extractor.Extract(gctx, p)
				if err != nil {
					return err
				}
				results <- r
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	done := 0
	for r := range results {
		done++
		ev := Event{Kind: EventPage, DocID: res.DocID, Path: path, Total: len(pages), Page: r.Page, Done: done}
		if r.Failed {
			res.FailedPages = append(res.FailedPages, r.Page)
			ev.Failed = true
		} else {
			ev.Inserted, ev.InsertFailures = o.insertBundle(ctx, res, r)
		}
		o.emit(ev)
	}

	// Whatever was inserted is persisted, even when a worker failed.
	flushErr := o.store.Flush(context.WithoutCancel(ctx))

	// The results channel is closed only after Wait returned, so this is
	// immediate and yields the first worker error.
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("ingest %s: %w", filepath.Base(path), err)
	}
	if flushErr != nil {
		return res, errors.InternalError("failed to persist ingested elements", flushErr).
			WithDetail("doc_id", res.DocID)
	}

	sort.Ints(res.FailedPages)
	res.Duration = time.Since(start)

	slog.Info("ingest_completed",
		slog.String("doc_id", res.DocID),
		slog.Int("elements", res.Total()),
		slog.Int("failed_pages", len(res.FailedPages)),
		slog.Int("insert_failures", res.InsertFailures),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// insertBundle stores one page's elements and returns how many were
// stored and how many failed.
func (o *Orchestrator) insertBundle(ctx context.Context, res *Result, r extract.Result) (inserted, failed int) {
	for _, kind := range store.Kinds() {
		collection := o.names.For(kind)
		for _, el := range r.Bundle.ByKind(kind) {
			el.DocID = res.DocID
			if _, err := o.store.Insert(ctx, el, collection); err != nil {
				res.InsertFailures++
				failed++
				perr := errors.New(errors.ErrCodePartialInsert, "element insert failed", err).
					WithDetail("collection", collection).
					WithDetail("doc_id", res.DocID)
				attrs := append(errors.LogAttrs(perr),
					slog.Int("page", r.Page),
					slog.String("element", el.Name))
				slog.LogAttrs(ctx, slog.LevelWarn, "partial_insert_failure", attrs...)
				continue
			}
			res.Inserted[collection]++
			inserted++
		}
	}
	return inserted, failed
}

// InvokeBytes ingests in-memory document data. name supplies the file
// extension used to pick the renderer.
func (o *Orchestrator) InvokeBytes(ctx context.Context, name string, data []byte) (*Result, error) {
	ext := filepath.Ext(name)
	if !render.Supported(name) {
		return nil, errors.UnsupportedFormat(ext)
	}

	dir, err := os.MkdirTemp("", "docindex-ingest-*")
	if err != nil {
		return nil, errors.InternalError("failed to create temp dir", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "document"+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, errors.InternalError("failed to write document", err)
	}

	res, err := o.Invoke(ctx, path)
	if res != nil {
		res.Path = name
	}
	return res, err
}
