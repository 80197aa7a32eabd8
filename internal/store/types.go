// Package store persists extracted document elements in three fixed
// collections and searches them by keyword, vector similarity or both.
//
// Three interchangeable backends implement KnowledgeStore:
//
//   - bleve:  typed document mapping, store-side vectorizer, native keyword
//     search, HNSW graph attached to each collection.
//   - hnsw:   schemaless payloads with a fixed vector size, client-side
//     embedding, emulated keyword search.
//   - sqlite: JSON payload rows, store-side embedding function recorded per
//     collection, FTS5 keyword search, brute-force cosine.
//
// Open wires a backend together with the Migrator, which re-indexes stored
// elements when the backend or embedding model changes.
package store

import (
	"context"
	"fmt"
	"strings"
)

// Default collection names.
const (
	TableCollection = "TableCollection"
	ImageCollection = "ImageCollection"
	LabelCollection = "LabelCollection"
)

// DefaultSearchLimit is used when a search asks for zero or fewer results.
const DefaultSearchLimit = 3

// Kind identifies the category of an extracted element.
type Kind string

const (
	KindTable Kind = "table"
	KindImage Kind = "image"
	KindLabel Kind = "label"
)

// Kinds returns all element kinds in collection order.
func Kinds() []Kind {
	return []Kind{KindTable, KindImage, KindLabel}
}

// CollectionNames holds the three collection names a store manages.
// It is passed explicitly to every store so names are never global state.
type CollectionNames struct {
	Table string `yaml:"table" json:"table"`
	Image string `yaml:"image" json:"image"`
	Label string `yaml:"label" json:"label"`
}

// DefaultCollectionNames returns TableCollection, ImageCollection, LabelCollection.
func DefaultCollectionNames() CollectionNames {
	return CollectionNames{Table: TableCollection, Image: ImageCollection, Label: LabelCollection}
}

// Collections returns the default collection names in order.
func Collections() []string {
	return DefaultCollectionNames().All()
}

// All returns the names in Table, Image, Label order.
func (c CollectionNames) All() []string {
	return []string{c.Table, c.Image, c.Label}
}

// For maps an element kind to its collection.
func (c CollectionNames) For(kind Kind) string {
	switch kind {
	case KindTable:
		return c.Table
	case KindImage:
		return c.Image
	case KindLabel:
		return c.Label
	default:
		return ""
	}
}

// Contains reports whether name is one of the managed collections.
func (c CollectionNames) Contains(name string) bool {
	return name != "" && (name == c.Table || name == c.Image || name == c.Label)
}

// withDefaults fills empty names.
func (c CollectionNames) withDefaults() CollectionNames {
	d := DefaultCollectionNames()
	if c.Table == "" {
		c.Table = d.Table
	}
	if c.Image == "" {
		c.Image = d.Image
	}
	if c.Label == "" {
		c.Label = d.Label
	}
	return c
}

// BoundingBox is (x1, y1, x2, y2) = (left, top, right, bottom) in pixels.
type BoundingBox [4]float64

// Element is one extracted table, image region or text label.
type Element struct {
	// ID is the primary key within a collection. Assigned on insert when empty.
	ID string `json:"id"`

	// DocID is the document the element came from. Required.
	DocID string `json:"docId"`

	// Name is the table, image or label name reported by the layout model.
	Name string `json:"name"`

	// Page is the 0-based page index within the document.
	Page int `json:"docPage"`

	Content string      `json:"content"`
	Box     BoundingBox `json:"xy"`
}

// Text is the string that gets embedded and keyword-indexed.
func (e Element) Text() string {
	switch {
	case e.Name == "":
		return e.Content
	case e.Content == "":
		return e.Name
	default:
		return e.Name + "\n" + e.Content
	}
}

// SearchMode selects the search algorithm.
type SearchMode string

const (
	ModeKeyword SearchMode = "keyword"
	ModeVector  SearchMode = "vector"
	ModeHybrid  SearchMode = "hybrid"
)

// ParseSearchMode accepts keyword, vector, hybrid and the older names
// bm25, similarity, multi. Empty means hybrid.
func ParseSearchMode(s string) (SearchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hybrid", "multi":
		return ModeHybrid, nil
	case "keyword", "bm25":
		return ModeKeyword, nil
	case "vector", "similarity":
		return ModeVector, nil
	default:
		return "", fmt.Errorf("unknown search mode %q (want keyword, vector or hybrid)", s)
	}
}

// KnowledgeStore persists elements in named collections and searches them.
//
// Insert and Update are both upserts keyed by Element.ID; Update delegates
// to Insert. Operations on a missing collection fail with a not-found error
// that lists the collections that do exist.
type KnowledgeStore interface {
	// Connect opens the backing storage. Failure is a connection error.
	Connect(ctx context.Context) error

	// CreateCollection creates one of the managed collections, sized for the
	// current embedding dimension. An existing collection is an error
	// unless existOK is set.
	CreateCollection(ctx context.Context, name string, existOK bool) error

	// DeleteCollection drops a collection and all its elements.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns the collections that currently exist, sorted.
	ListCollections(ctx context.Context) ([]string, error)

	// Insert upserts el and returns it with its ID set.
	Insert(ctx context.Context, el Element, collection string) (Element, error)

	// Update is Insert.
	Update(ctx context.Context, el Element, collection string) (Element, error)

	// Delete removes one element. A missing id is a not-found error.
	Delete(ctx context.Context, collection, id string) error

	// Search returns at most limit elements ordered by rank.
	Search(ctx context.Context, query, collection string, mode SearchMode, limit int) ([]Element, error)

	// Scroll returns up to limit elements starting at offset, in a stable
	// order, and the next offset or -1 when the collection is exhausted.
	Scroll(ctx context.Context, collection string, offset, limit int) ([]Element, int, error)

	// Backend returns bleve, hnsw or sqlite.
	Backend() string

	// Flush persists every write acknowledged so far. A store reopened
	// after Flush, without Close, sees those writes.
	Flush(ctx context.Context) error

	// Close flushes state to disk and releases resources.
	Close() error
}

// Backend names.
const (
	BackendBleve  = "bleve"
	BackendHNSW   = "hnsw"
	BackendSQLite = "sqlite"
)

// Backends returns the supported backend names.
func Backends() []string {
	return []string{BackendBleve, BackendHNSW, BackendSQLite}
}
