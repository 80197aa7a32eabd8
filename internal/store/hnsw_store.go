package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/errors"
)

// HNSWStore is the schemaless backend. Each collection declares a fixed
// vector size at creation; the store embeds content itself before writing
// (client-side embedding) and rejects vectors of any other size. Keyword
// search is emulated by term overlap since there is no text index.
//
// Each collection is persisted as one gob snapshot, written by Flush and
// Close; the HNSW graph is rebuilt from the stored vectors on Connect.
type HNSWStore struct {
	mu          sync.RWMutex
	dir         string // empty keeps everything in memory
	names       CollectionNames
	embedder    embed.Embedder
	collections map[string]*hnswCollection
	connected   bool
}

type hnswCollection struct {
	dims     int
	elements map[string]Element
	vectors  map[string][]float32
	order    []string // insertion order, for Scroll
	index    *VectorIndex
	dirty    bool
}

// hnswSnapshot is the on-disk form of one collection.
type hnswSnapshot struct {
	Dims     int
	Elements []Element
	Vectors  [][]float32
}

var _ KnowledgeStore = (*HNSWStore)(nil)

// NewHNSWStore creates an unconnected store rooted at dir.
func NewHNSWStore(dir string, names CollectionNames, embedder embed.Embedder) *HNSWStore {
	return &HNSWStore{
		dir:         dir,
		names:       names.withDefaults(),
		embedder:    embedder,
		collections: make(map[string]*hnswCollection),
	}
}

func newHNSWCollection(dims int) *hnswCollection {
	return &hnswCollection{
		dims:     dims,
		elements: make(map[string]Element),
		vectors:  make(map[string][]float32),
		index:    NewVectorIndex(VectorIndexConfig{Dimensions: dims}),
	}
}

// Backend returns "hnsw".
func (s *HNSWStore) Backend() string { return BackendHNSW }

// Connect creates the data directory and loads existing snapshots.
func (s *HNSWStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return errors.ConnectionError(BackendHNSW, err).WithDetail("path", s.dir)
		}
		for _, name := range s.names.All() {
			coll, err := s.loadSnapshot(name)
			if err != nil {
				return err
			}
			if coll != nil {
				s.collections[name] = coll
			}
		}
	}
	s.connected = true
	slog.Debug("store_connected",
		slog.String("backend", BackendHNSW),
		slog.String("path", s.dir),
		slog.Int("collections", len(s.collections)))
	return nil
}

func (s *HNSWStore) snapshotPath(name string) string {
	return filepath.Join(s.dir, name+".gob")
}

func (s *HNSWStore) loadSnapshot(name string) (*hnswCollection, error) {
	file, err := os.Open(s.snapshotPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ConnectionError(BackendHNSW, err).WithDetail("collection", name)
	}
	defer func() { _ = file.Close() }()

	var snap hnswSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "cannot decode collection snapshot", err).
			WithDetail("collection", name).
			WithDetail("path", s.snapshotPath(name))
	}
	if len(snap.Vectors) != len(snap.Elements) {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "snapshot has mismatched vectors", nil).
			WithDetail("collection", name)
	}

	coll := newHNSWCollection(snap.Dims)
	for i, el := range snap.Elements {
		coll.elements[el.ID] = el
		coll.vectors[el.ID] = snap.Vectors[i]
		coll.order = append(coll.order, el.ID)
		if err := coll.index.Add(el.ID, snap.Vectors[i]); err != nil {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "snapshot vector rejected", err).
				WithDetail("collection", name)
		}
	}
	return coll, nil
}

func (s *HNSWStore) saveSnapshot(name string, coll *hnswCollection) error {
	snap := hnswSnapshot{
		Dims:     coll.dims,
		Elements: make([]Element, 0, len(coll.order)),
		Vectors:  make([][]float32, 0, len(coll.order)),
	}
	for _, id := range coll.order {
		snap.Elements = append(snap.Elements, coll.elements[id])
		snap.Vectors = append(snap.Vectors, coll.vectors[id])
	}

	path := s.snapshotPath(name)
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	coll.dirty = false
	return nil
}

// notFound builds the not-found error; the caller holds s.mu.
func (s *HNSWStore) notFound(name string) error {
	return errors.CollectionNotFound(name, sortedKeys(s.collections))
}

// collection returns the named collection; the caller holds s.mu.
func (s *HNSWStore) collection(name string) (*hnswCollection, error) {
	if !s.connected {
		return nil, errNotConnected(BackendHNSW)
	}
	coll, ok := s.collections[name]
	if !ok {
		return nil, s.notFound(name)
	}
	return coll, nil
}

// CreateCollection declares a collection sized to the embedder's dimension.
func (s *HNSWStore) CreateCollection(ctx context.Context, name string, existOK bool) error {
	if err := checkManaged(s.names, name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return errNotConnected(BackendHNSW)
	}
	if _, ok := s.collections[name]; ok {
		if existOK {
			return nil
		}
		return errors.CollectionExists(name)
	}

	coll := newHNSWCollection(s.embedder.Dimensions())
	if s.dir != "" {
		if err := s.saveSnapshot(name, coll); err != nil {
			return errors.InternalError("failed to persist new collection", err).WithDetail("collection", name)
		}
	}
	s.collections[name] = coll
	slog.Debug("collection_created",
		slog.String("backend", BackendHNSW),
		slog.String("collection", name),
		slog.Int("dimensions", coll.dims))
	return nil
}

// DeleteCollection drops a collection and its snapshot.
func (s *HNSWStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(name)
	if err != nil {
		return err
	}
	if s.dir != "" {
		if err := os.Remove(s.snapshotPath(name)); err != nil && !os.IsNotExist(err) {
			return errors.InternalError("failed to remove collection snapshot", err).WithDetail("collection", name)
		}
	}
	_ = coll.index.Close()
	delete(s.collections, name)
	return nil
}

// ListCollections returns existing collection names, sorted.
func (s *HNSWStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errNotConnected(BackendHNSW)
	}
	return sortedKeys(s.collections), nil
}

// Insert embeds the element and upserts it.
func (s *HNSWStore) Insert(ctx context.Context, el Element, collection string) (Element, error) {
	s.mu.RLock()
	coll, err := s.collection(collection)
	s.mu.RUnlock()
	if err != nil {
		return Element{}, err
	}

	el, err = prepareElement(el)
	if err != nil {
		return Element{}, err
	}

	vec, err := s.embedder.Embed(ctx, el.Text())
	if err != nil {
		return Element{}, errors.New(errors.ErrCodeEmbeddingFailed, "failed to embed element", err).
			WithDetail("collection", collection).
			WithDetail("id", el.ID)
	}
	if len(vec) != coll.dims {
		return Element{}, errDimensionMismatch(collection, coll.dims, len(vec))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The collection may have been dropped while embedding.
	if current, ok := s.collections[collection]; !ok || current != coll {
		return Element{}, s.notFound(collection)
	}
	if err := coll.index.Add(el.ID, vec); err != nil {
		return Element{}, errors.InternalError("failed to index vector", err)
	}
	if _, exists := coll.elements[el.ID]; !exists {
		coll.order = append(coll.order, el.ID)
	}
	coll.elements[el.ID] = el
	coll.vectors[el.ID] = vec
	coll.dirty = true
	return el, nil
}

// Update is Insert.
func (s *HNSWStore) Update(ctx context.Context, el Element, collection string) (Element, error) {
	return s.Insert(ctx, el, collection)
}

// Delete removes one element.
func (s *HNSWStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, ok := coll.elements[id]; !ok {
		return errors.ElementNotFound(collection, id)
	}

	delete(coll.elements, id)
	delete(coll.vectors, id)
	coll.index.Delete(id)
	for i, existing := range coll.order {
		if existing == id {
			coll.order = append(coll.order[:i], coll.order[i+1:]...)
			break
		}
	}
	coll.dirty = true
	return nil
}

// Search runs keyword, vector or hybrid search.
func (s *HNSWStore) Search(ctx context.Context, query, collection string, mode SearchMode, limit int) ([]Element, error) {
	s.mu.RLock()
	coll, err := s.collection(collection)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := checkQuery(query); err != nil {
		return nil, err
	}

	keyword := func(_ context.Context, limit int) ([]Element, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return termOverlapSearch(query, coll.order, coll.elements, limit), nil
	}

	vector := func(ctx context.Context, limit int) ([]Element, error) {
		q, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed, "failed to embed query", err)
		}
		if len(q) != coll.dims {
			return nil, errDimensionMismatch(collection, coll.dims, len(q))
		}

		s.mu.RLock()
		defer s.mu.RUnlock()
		hits, err := coll.index.Search(q, limit)
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "vector search failed", err)
		}
		results := make([]Element, 0, len(hits))
		for _, hit := range hits {
			if el, ok := coll.elements[hit.ID]; ok {
				results = append(results, el)
			}
		}
		return results, nil
	}

	return runSearch(ctx, mode, limit, keyword, vector)
}

// Scroll pages through a collection in insertion order.
func (s *HNSWStore) Scroll(ctx context.Context, collection string, offset, limit int) ([]Element, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, err := s.collection(collection)
	if err != nil {
		return nil, -1, err
	}

	start, end, next := scrollWindow(len(coll.order), offset, limit)
	page := make([]Element, 0, end-start)
	for _, id := range coll.order[start:end] {
		page = append(page, coll.elements[id])
	}
	return page, next, nil
}

// Flush writes the snapshot of every collection changed since the last
// write.
func (s *HNSWStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return errNotConnected(BackendHNSW)
	}
	if err := s.saveDirty(); err != nil {
		return errors.InternalError("failed to persist collections", err)
	}
	return nil
}

// saveDirty writes dirty snapshots; the caller holds s.mu.
func (s *HNSWStore) saveDirty() error {
	if s.dir == "" {
		return nil
	}
	var firstErr error
	for _, name := range sortedKeys(s.collections) {
		coll := s.collections[name]
		if !coll.dirty {
			continue
		}
		if err := s.saveSnapshot(name, coll); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("save collection %s: %w", name, err)
		}
	}
	return firstErr
}

// Close writes dirty snapshots.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false

	err := s.saveDirty()
	for _, coll := range s.collections {
		_ = coll.index.Close()
	}
	s.collections = make(map[string]*hnswCollection)
	return err
}

// termOverlapSearch ranks elements by how many distinct query terms they
// contain, then by total term occurrences, then by insertion order.
func termOverlapSearch(query string, order []string, elements map[string]Element, limit int) []Element {
	queryTerms := make(map[string]struct{})
	for _, t := range KeywordTerms(query) {
		queryTerms[t] = struct{}{}
	}
	if len(queryTerms) == 0 {
		return []Element{}
	}

	type scored struct {
		el       Element
		distinct int
		total    int
	}
	var matches []scored
	for _, id := range order {
		el := elements[id]
		seen := make(map[string]struct{})
		total := 0
		for _, t := range KeywordTerms(el.Text()) {
			if _, ok := queryTerms[t]; ok {
				seen[t] = struct{}{}
				total++
			}
		}
		if len(seen) > 0 {
			matches = append(matches, scored{el: el, distinct: len(seen), total: total})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].distinct != matches[j].distinct {
			return matches[i].distinct > matches[j].distinct
		}
		return matches[i].total > matches[j].total
	})

	results := make([]Element, 0, min(limit, len(matches)))
	for _, m := range matches[:min(limit, len(matches))] {
		results = append(results, m.el)
	}
	return results
}
