package store

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/embed"
)

// namedEmbedder reports a different model name for the static embedder, so
// tests can change the fingerprint without a network model.
type namedEmbedder struct {
	embed.Embedder
	name string
}

func (n namedEmbedder) ModelName() string { return n.name }

// failingEmbedder fails for any text containing marker.
type failingEmbedder struct {
	embed.Embedder
	marker string
}

func (f failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, f.marker) {
		return nil, fmt.Errorf("embedding refused for %q", f.marker)
	}
	return f.Embedder.Embed(ctx, text)
}

// fixedEmbedder returns a constant vector of dims ones.
type fixedEmbedder struct {
	embed.Embedder
	dims int
}

func (f *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	v := make([]float32, f.dims)
	for i := range v {
		v[i] = 1
	}
	return v, nil
}

func (f *fixedEmbedder) Dimensions() int { return f.dims }

// countingStore records the mutating calls a migration makes.
type countingStore struct {
	KnowledgeStore
	creates atomic.Int64
	deletes atomic.Int64
	inserts atomic.Int64
	scrolls atomic.Int64
	flushes atomic.Int64

	failScroll string // Scroll on this collection returns an error
	failFlush  bool
}

func (c *countingStore) CreateCollection(ctx context.Context, name string, existOK bool) error {
	c.creates.Add(1)
	return c.KnowledgeStore.CreateCollection(ctx, name, existOK)
}

func (c *countingStore) DeleteCollection(ctx context.Context, name string) error {
	c.deletes.Add(1)
	return c.KnowledgeStore.DeleteCollection(ctx, name)
}

func (c *countingStore) Insert(ctx context.Context, el Element, collection string) (Element, error) {
	c.inserts.Add(1)
	return c.KnowledgeStore.Insert(ctx, el, collection)
}

func (c *countingStore) Scroll(ctx context.Context, collection string, offset, limit int) ([]Element, int, error) {
	c.scrolls.Add(1)
	if collection == c.failScroll {
		return nil, -1, fmt.Errorf("scroll of %s unavailable", collection)
	}
	return c.KnowledgeStore.Scroll(ctx, collection, offset, limit)
}

func (c *countingStore) Flush(ctx context.Context) error {
	c.flushes.Add(1)
	if c.failFlush {
		return fmt.Errorf("disk full")
	}
	return c.KnowledgeStore.Flush(ctx)
}

// newConnected returns a connected store with every managed collection created.
func newConnected(t *testing.T, backend, dir string, embedder embed.Embedder) KnowledgeStore {
	t.Helper()
	st, err := New(backend, dir, DefaultCollectionNames(), embedder)
	require.NoError(t, err)
	require.NoError(t, st.Connect(t.Context()))
	for _, name := range Collections() {
		require.NoError(t, st.CreateCollection(t.Context(), name, true))
	}
	return st
}

// forEachBackend runs fn against every backend, in memory and on disk.
func forEachBackend(t *testing.T, fn func(t *testing.T, backend, dir string)) {
	for _, backend := range Backends() {
		t.Run(backend+"/memory", func(t *testing.T) {
			fn(t, backend, "")
		})
		t.Run(backend+"/disk", func(t *testing.T) {
			fn(t, backend, t.TempDir())
		})
	}
}

func sampleElement(id, name, content string) Element {
	return Element{
		ID:      id,
		DocID:   "doc-1",
		Name:    name,
		Page:    0,
		Content: content,
		Box:     BoundingBox{10, 20, 300, 400},
	}
}

// scrollAll reads a whole collection through Scroll.
func scrollAll(t *testing.T, st KnowledgeStore, collection string, pageSize int) []Element {
	t.Helper()
	var all []Element
	for offset := 0; offset >= 0; {
		page, next, err := st.Scroll(t.Context(), collection, offset, pageSize)
		require.NoError(t, err)
		all = append(all, page...)
		offset = next
	}
	return all
}

func elementIDs(els []Element) []string {
	ids := make([]string, len(els))
	for i, el := range els {
		ids[i] = el.ID
	}
	return ids
}

// crash releases st's handles without saving anything, leaving its
// directory the way a killed process would.
func crash(t *testing.T, st KnowledgeStore) {
	t.Helper()
	switch s := st.(type) {
	case *BleveStore:
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, coll := range s.collections {
			require.NoError(t, coll.index.Close())
		}
		s.collections = make(map[string]*bleveCollection)
		s.connected = false
	case *HNSWStore:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.collections = make(map[string]*hnswCollection)
		s.connected = false
	case *SQLiteStore:
		s.mu.Lock()
		defer s.mu.Unlock()
		require.NoError(t, s.db.Close())
		s.connected = false
	default:
		t.Fatalf("crash: unsupported store %T", st)
	}
}
