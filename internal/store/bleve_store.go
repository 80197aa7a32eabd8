package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/errors"
)

const (
	// ElementTokenizerName is the bleve tokenizer backed by TokenizeText.
	ElementTokenizerName = "element_tokenizer"

	// ElementStopFilterName drops DefaultStopWords.
	ElementStopFilterName = "element_stop"

	// ElementAnalyzerName combines the tokenizer, lowercase and stop filters.
	ElementAnalyzerName = "element_analyzer"
)

// Indexed field names of the typed element mapping.
const (
	fieldName    = "name"
	fieldContent = "content"
	fieldDocID   = "doc_id"
	fieldDocPage = "doc_page"
	fieldPayload = "payload"
)

func init() {
	_ = registry.RegisterTokenizer(ElementTokenizerName, elementTokenizerConstructor)
	_ = registry.RegisterTokenFilter(ElementStopFilterName, elementStopFilterConstructor)
}

// BleveStore is the typed backend. Every collection is a bleve index with an
// explicit element mapping plus an HNSW graph. Embedding is store-side: each
// collection owns the vectorizer bound to it at creation and vectorises
// content on write and queries on search.
type BleveStore struct {
	mu          sync.RWMutex
	dir         string // empty keeps indexes in memory
	names       CollectionNames
	embedder    embed.Embedder
	collections map[string]*bleveCollection
	connected   bool
}

type bleveCollection struct {
	index      bleve.Index
	vectors    *VectorIndex
	vectorizer embed.Embedder

	// vectorsStale is set when the graph file was missing or out of date at
	// open; the graph is rebuilt from stored payloads before the next
	// vector search.
	vectorsStale bool
	rebuild      sync.Mutex

	// Writers hold persist for reading; Flush holds it for writing so a
	// saved graph never misses a write whose marker it clears.
	persist sync.RWMutex
	dirtyMu sync.Mutex
	dirty   bool
}

var _ KnowledgeStore = (*BleveStore)(nil)

// NewBleveStore creates an unconnected store rooted at dir.
func NewBleveStore(dir string, names CollectionNames, embedder embed.Embedder) *BleveStore {
	return &BleveStore{
		dir:         dir,
		names:       names.withDefaults(),
		embedder:    embedder,
		collections: make(map[string]*bleveCollection),
	}
}

// Backend returns "bleve".
func (s *BleveStore) Backend() string { return BackendBleve }

func (s *BleveStore) indexPath(name string) string {
	return filepath.Join(s.dir, name+".bleve")
}

func (s *BleveStore) graphPath(name string) string {
	return filepath.Join(s.dir, name+".graph")
}

// dirtyPath marks a graph that is behind its index. It exists from the
// first write after a save until the next save.
func (s *BleveStore) dirtyPath(name string) string {
	return s.graphPath(name) + ".dirty"
}

// markDirty records that coll's graph is about to diverge from disk. The
// caller holds coll.persist for reading.
func (s *BleveStore) markDirty(name string, coll *bleveCollection) error {
	coll.dirtyMu.Lock()
	defer coll.dirtyMu.Unlock()

	if coll.dirty {
		return nil
	}
	if s.dir != "" {
		if err := os.WriteFile(s.dirtyPath(name), nil, 0o644); err != nil {
			return errors.InternalError("failed to mark vector graph dirty", err).WithDetail("collection", name)
		}
	}
	coll.dirty = true
	return nil
}

// saveGraph writes coll's graph if it changed and clears its dirty marker.
// A stale graph is incomplete, so it is left unsaved and the marker stays.
func (s *BleveStore) saveGraph(name string, coll *bleveCollection) error {
	coll.persist.Lock()
	defer coll.persist.Unlock()

	if s.dir == "" || coll.vectorsStale || !coll.dirty {
		return nil
	}
	if err := coll.vectors.Save(s.graphPath(name)); err != nil {
		return fmt.Errorf("save graph %s: %w", name, err)
	}
	if err := os.Remove(s.dirtyPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear graph marker %s: %w", name, err)
	}
	coll.dirty = false
	return nil
}

// Connect creates the data directory and opens existing collections.
func (s *BleveStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return errors.ConnectionError(BackendBleve, err).WithDetail("path", s.dir)
		}
		for _, name := range s.names.All() {
			coll, err := s.openCollection(name)
			if err != nil {
				s.closeAll()
				return err
			}
			if coll != nil {
				s.collections[name] = coll
			}
		}
	}
	s.connected = true
	slog.Debug("store_connected",
		slog.String("backend", BackendBleve),
		slog.String("path", s.dir),
		slog.Int("collections", len(s.collections)))
	return nil
}

// openCollection opens a persisted collection, or returns nil if none exists.
func (s *BleveStore) openCollection(name string) (*bleveCollection, error) {
	path := s.indexPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "cannot open collection index", err).
			WithDetail("collection", name).
			WithDetail("path", path).
			WithSuggestion("Delete the collection with 'docindex collections delete " + name + "' and re-ingest.")
	}

	coll := &bleveCollection{index: idx, vectorizer: s.embedder}
	fresh := func() {
		coll.vectors = NewVectorIndex(VectorIndexConfig{Dimensions: s.embedder.Dimensions()})
		coll.vectorsStale = true
	}

	if _, err := os.Stat(s.dirtyPath(name)); err == nil {
		// Writes reached the index after the graph was last saved.
		slog.Warn("vector_graph_stale", slog.String("collection", name))
		fresh()
		return coll, nil
	}
	vectors, err := LoadVectorIndex(s.graphPath(name))
	if err != nil {
		slog.Warn("vector_graph_missing",
			slog.String("collection", name),
			slog.String("error", err.Error()))
		fresh()
	} else {
		coll.vectors = vectors
	}
	return coll, nil
}

// newElementMapping builds the typed mapping shared by all collections.
func newElementMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(ElementAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": ElementTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			ElementStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	im.DefaultAnalyzer = ElementAnalyzerName

	text := bleve.NewTextFieldMapping()
	text.Analyzer = ElementAnalyzerName

	docID := bleve.NewKeywordFieldMapping()
	docPage := bleve.NewNumericFieldMapping()

	payload := bleve.NewTextFieldMapping()
	payload.Index = false
	payload.IncludeInAll = false
	payload.IncludeTermVectors = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldName, text)
	doc.AddFieldMappingsAt(fieldContent, text)
	doc.AddFieldMappingsAt(fieldDocID, docID)
	doc.AddFieldMappingsAt(fieldDocPage, docPage)
	doc.AddFieldMappingsAt(fieldPayload, payload)
	doc.Dynamic = false

	im.DefaultMapping = doc
	return im, nil
}

// notFound builds the not-found error; the caller holds s.mu.
func (s *BleveStore) notFound(name string) error {
	return errors.CollectionNotFound(name, sortedKeys(s.collections))
}

func (s *BleveStore) collection(name string) (*bleveCollection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errNotConnected(BackendBleve)
	}
	coll, ok := s.collections[name]
	if !ok {
		return nil, s.notFound(name)
	}
	return coll, nil
}

// CreateCollection creates the index and binds the current embedder as the
// collection's vectorizer.
func (s *BleveStore) CreateCollection(ctx context.Context, name string, existOK bool) error {
	if err := checkManaged(s.names, name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return errNotConnected(BackendBleve)
	}
	if _, ok := s.collections[name]; ok {
		if existOK {
			return nil
		}
		return errors.CollectionExists(name)
	}

	im, err := newElementMapping()
	if err != nil {
		return errors.InternalError("failed to build element mapping", err)
	}

	var idx bleve.Index
	if s.dir == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		// A leftover directory without a registered collection is debris
		// from an interrupted delete.
		_ = os.RemoveAll(s.indexPath(name))
		_ = RemoveVectorIndexFiles(s.graphPath(name))
		_ = os.Remove(s.dirtyPath(name))
		idx, err = bleve.New(s.indexPath(name), im)
	}
	if err != nil {
		return errors.InternalError("failed to create collection index", err).WithDetail("collection", name)
	}

	s.collections[name] = &bleveCollection{
		index:      idx,
		vectors:    NewVectorIndex(VectorIndexConfig{Dimensions: s.embedder.Dimensions()}),
		vectorizer: s.embedder,
	}
	slog.Debug("collection_created",
		slog.String("backend", BackendBleve),
		slog.String("collection", name),
		slog.String("vectorizer", s.embedder.ModelName()))
	return nil
}

// DeleteCollection closes and removes the index and graph.
func (s *BleveStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return errNotConnected(BackendBleve)
	}
	coll, ok := s.collections[name]
	if !ok {
		return s.notFound(name)
	}
	delete(s.collections, name)

	_ = coll.index.Close()
	_ = coll.vectors.Close()
	if s.dir != "" {
		if err := os.RemoveAll(s.indexPath(name)); err != nil {
			return errors.InternalError("failed to remove collection index", err).WithDetail("collection", name)
		}
		if err := RemoveVectorIndexFiles(s.graphPath(name)); err != nil {
			return errors.InternalError("failed to remove collection graph", err).WithDetail("collection", name)
		}
		if err := os.Remove(s.dirtyPath(name)); err != nil && !os.IsNotExist(err) {
			return errors.InternalError("failed to remove collection graph marker", err).WithDetail("collection", name)
		}
	}
	return nil
}

// ListCollections returns existing collection names, sorted.
func (s *BleveStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errNotConnected(BackendBleve)
	}
	return sortedKeys(s.collections), nil
}

// Insert vectorises and upserts the element.
func (s *BleveStore) Insert(ctx context.Context, el Element, collection string) (Element, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return Element{}, err
	}
	el, err = prepareElement(el)
	if err != nil {
		return Element{}, err
	}

	vec, err := coll.vectorizer.Embed(ctx, el.Text())
	if err != nil {
		return Element{}, errors.New(errors.ErrCodeEmbeddingFailed, "failed to embed element", err).
			WithDetail("collection", collection).
			WithDetail("id", el.ID)
	}
	if len(vec) != coll.vectors.Dimensions() {
		return Element{}, errDimensionMismatch(collection, coll.vectors.Dimensions(), len(vec))
	}

	payload, err := encodePayload(el)
	if err != nil {
		return Element{}, errors.InternalError("failed to encode element", err)
	}
	doc := map[string]interface{}{
		fieldName:    el.Name,
		fieldContent: el.Content,
		fieldDocID:   el.DocID,
		fieldDocPage: float64(el.Page),
		fieldPayload: payload,
	}

	coll.persist.RLock()
	defer coll.persist.RUnlock()
	if err := s.markDirty(collection, coll); err != nil {
		return Element{}, err
	}
	if err := coll.index.Index(el.ID, doc); err != nil {
		return Element{}, errors.InternalError("failed to index element", err).
			WithDetail("collection", collection).
			WithDetail("id", el.ID)
	}
	if err := coll.vectors.Add(el.ID, vec); err != nil {
		return Element{}, errors.InternalError("failed to index vector", err)
	}
	return el, nil
}

// Update is Insert.
func (s *BleveStore) Update(ctx context.Context, el Element, collection string) (Element, error) {
	return s.Insert(ctx, el, collection)
}

// Delete removes one element.
func (s *BleveStore) Delete(ctx context.Context, collection, id string) error {
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}

	found, err := fetchByIDs(ctx, coll.index, []string{id})
	if err != nil {
		return errors.InternalError("failed to look up element", err)
	}
	if _, ok := found[id]; !ok {
		return errors.ElementNotFound(collection, id)
	}

	coll.persist.RLock()
	defer coll.persist.RUnlock()
	if err := s.markDirty(collection, coll); err != nil {
		return err
	}
	if err := coll.index.Delete(id); err != nil {
		return errors.InternalError("failed to delete element", err).WithDetail("id", id)
	}
	coll.vectors.Delete(id)
	return nil
}

// Search runs a native bleve match query for keyword mode and an HNSW
// lookup for vector mode.
func (s *BleveStore) Search(ctx context.Context, query, collection string, mode SearchMode, limit int) ([]Element, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := checkQuery(query); err != nil {
		return nil, err
	}

	keyword := func(ctx context.Context, limit int) ([]Element, error) {
		nameQuery := bleve.NewMatchQuery(query)
		nameQuery.SetField(fieldName)
		contentQuery := bleve.NewMatchQuery(query)
		contentQuery.SetField(fieldContent)

		req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(nameQuery, contentQuery), limit, 0, false)
		req.Fields = []string{fieldPayload}
		res, err := coll.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "keyword search failed", err)
		}
		return hitsToElements(res.Hits)
	}

	vector := func(ctx context.Context, limit int) ([]Element, error) {
		if err := s.ensureVectors(ctx, collection, coll); err != nil {
			return nil, err
		}
		q, err := coll.vectorizer.Embed(ctx, query)
		if err != nil {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed, "failed to embed query", err)
		}
		if len(q) != coll.vectors.Dimensions() {
			return nil, errDimensionMismatch(collection, coll.vectors.Dimensions(), len(q))
		}
		hits, err := coll.vectors.Search(q, limit)
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "vector search failed", err)
		}

		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		found, err := fetchByIDs(ctx, coll.index, ids)
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "failed to load vector hits", err)
		}
		results := make([]Element, 0, len(ids))
		for _, id := range ids {
			if el, ok := found[id]; ok {
				results = append(results, el)
			}
		}
		return results, nil
	}

	return runSearch(ctx, mode, limit, keyword, vector)
}

// ensureVectors rebuilds a graph that was missing on open.
func (s *BleveStore) ensureVectors(ctx context.Context, name string, coll *bleveCollection) error {
	coll.rebuild.Lock()
	defer coll.rebuild.Unlock()

	if !coll.vectorsStale {
		return nil
	}

	rebuilt := 0
	for offset := 0; offset >= 0; {
		page, next, err := scrollIndex(ctx, coll.index, offset, 500)
		if err != nil {
			return errors.New(errors.ErrCodeSearchFailed, "failed to rebuild vector graph", err)
		}
		texts := make([]string, len(page))
		for i, el := range page {
			texts[i] = el.Text()
		}
		vecs, err := coll.vectorizer.EmbedBatch(ctx, texts)
		if err != nil {
			return errors.New(errors.ErrCodeEmbeddingFailed, "failed to rebuild vector graph", err)
		}
		for i, el := range page {
			if err := coll.vectors.Add(el.ID, vecs[i]); err != nil {
				return errDimensionMismatch(name, coll.vectors.Dimensions(), len(vecs[i]))
			}
			rebuilt++
		}
		offset = next
	}

	coll.persist.Lock()
	coll.vectorsStale = false
	coll.dirty = true
	coll.persist.Unlock()
	slog.Info("vector_graph_rebuilt",
		slog.String("collection", name),
		slog.Int("vectors", rebuilt))
	return nil
}

// Scroll pages through a collection ordered by element id.
func (s *BleveStore) Scroll(ctx context.Context, collection string, offset, limit int) ([]Element, int, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return nil, -1, err
	}
	page, next, err := scrollIndex(ctx, coll.index, offset, limit)
	if err != nil {
		return nil, -1, errors.InternalError("failed to scroll collection", err).WithDetail("collection", collection)
	}
	return page, next, nil
}

// Flush saves the vector graph of every collection written since its last
// save. Index documents are already durable once Insert returns.
func (s *BleveStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return errNotConnected(BackendBleve)
	}
	for _, name := range sortedKeys(s.collections) {
		if err := s.saveGraph(name, s.collections[name]); err != nil {
			return errors.InternalError("failed to persist vector graph", err).WithDetail("collection", name)
		}
	}
	return nil
}

// Close saves vector graphs and closes all indexes.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	return s.closeAll()
}

// closeAll saves and closes every collection; the caller holds s.mu.
func (s *BleveStore) closeAll() error {
	var firstErr error
	for _, name := range sortedKeys(s.collections) {
		coll := s.collections[name]
		if err := s.saveGraph(name, coll); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = coll.vectors.Close()
		if err := coll.index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %s: %w", name, err)
		}
	}
	s.collections = make(map[string]*bleveCollection)
	return firstErr
}

// scrollIndex returns one page of elements ordered by id.
func scrollIndex(ctx context.Context, idx bleve.Index, offset, limit int) ([]Element, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		count, err := idx.DocCount()
		if err != nil {
			return nil, -1, err
		}
		limit = max(int(count), 1)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), limit, offset, false)
	req.SortBy([]string{"_id"})
	req.Fields = []string{fieldPayload}
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, -1, err
	}

	page, err := hitsToElements(res.Hits)
	if err != nil {
		return nil, -1, err
	}
	next := offset + len(res.Hits)
	if len(res.Hits) == 0 || uint64(next) >= res.Total {
		next = -1
	}
	return page, next, nil
}

// fetchByIDs loads the stored payloads for ids.
func fetchByIDs(ctx context.Context, idx bleve.Index, ids []string) (map[string]Element, error) {
	found := make(map[string]Element, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	req.Fields = []string{fieldPayload}
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	els, err := hitsToElements(res.Hits)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		found[el.ID] = el
	}
	return found, nil
}

func hitsToElements(hits search.DocumentMatchCollection) ([]Element, error) {
	results := make([]Element, 0, len(hits))
	for _, hit := range hits {
		payload, ok := hit.Fields[fieldPayload].(string)
		if !ok {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "hit has no stored payload", nil).
				WithDetail("id", hit.ID)
		}
		el, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		results = append(results, el)
	}
	return results, nil
}

// elementTokenizerConstructor creates the element tokenizer for bleve.
func elementTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveElementTokenizer{}, nil
}

// bleveElementTokenizer adapts TokenizeText to analysis.Tokenizer.
type bleveElementTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveElementTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lowerText := strings.ToLower(text)
	tokens := TokenizeText(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		start := strings.Index(lowerText[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := min(start+len(token), len(text))

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return result
}

// elementStopFilterConstructor creates the stop word filter for bleve.
func elementStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{stopWords: defaultStopWordMap}, nil
}

// bleveStopFilter implements analysis.TokenFilter.
type bleveStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
