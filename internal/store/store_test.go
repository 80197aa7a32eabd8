package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/errors"
)

// =============================================================================
// Collections
// =============================================================================

func TestStore_CreateCollection_ExistOK(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		// When: creating an existing collection without existOK
		err := st.CreateCollection(t.Context(), TableCollection, false)

		// Then: AlreadyExists
		require.Error(t, err)
		assert.True(t, errors.IsAlreadyExists(err))

		// And: existOK makes it a no-op
		assert.NoError(t, st.CreateCollection(t.Context(), TableCollection, true))
	})
}

func TestStore_CreateCollection_RejectsUnmanagedName(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		err := st.CreateCollection(t.Context(), "Scratch", false)

		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	})
}

func TestStore_ListCollections_Sorted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		names, err := st.ListCollections(t.Context())

		require.NoError(t, err)
		assert.Equal(t, []string{ImageCollection, LabelCollection, TableCollection}, names)
	})
}

func TestStore_DeleteCollection_ThenNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		// Given: a deleted collection
		require.NoError(t, st.DeleteCollection(t.Context(), ImageCollection))

		// When: deleting it again
		err := st.DeleteCollection(t.Context(), ImageCollection)

		// Then: NotFound
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))

		names, err := st.ListCollections(t.Context())
		require.NoError(t, err)
		assert.NotContains(t, names, ImageCollection)
	})
}

// =============================================================================
// Insert / Update / Delete
// =============================================================================

func TestStore_Insert_AssignsID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		stored, err := st.Insert(t.Context(), sampleElement("", "Revenue", "Q1 100"), TableCollection)

		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, "doc-1", stored.DocID)
	})
}

func TestStore_Insert_RequiresDocID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		el := sampleElement("e1", "Revenue", "Q1 100")
		el.DocID = ""
		_, err := st.Insert(t.Context(), el, TableCollection)

		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	})
}

func TestStore_Insert_IsIdempotentUpsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		// Given: the same id inserted twice, then updated
		el := sampleElement("fixed-id", "Revenue", "Q1 100")
		_, err := st.Insert(t.Context(), el, TableCollection)
		require.NoError(t, err)
		_, err = st.Insert(t.Context(), el, TableCollection)
		require.NoError(t, err)

		el.Content = "Q1 250"
		_, err = st.Update(t.Context(), el, TableCollection)
		require.NoError(t, err)

		// Then: exactly one element with the latest content
		all := scrollAll(t, st, TableCollection, 10)
		require.Len(t, all, 1)
		assert.Equal(t, "fixed-id", all[0].ID)
		assert.Equal(t, "Q1 250", all[0].Content)
		assert.Equal(t, BoundingBox{10, 20, 300, 400}, all[0].Box)
	})
}

func TestStore_Insert_UnknownCollection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()
		require.NoError(t, st.DeleteCollection(t.Context(), LabelCollection))

		_, err := st.Insert(t.Context(), sampleElement("", "Title", "Intro"), LabelCollection)

		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		// Given: two elements
		_, err := st.Insert(t.Context(), sampleElement("a", "Revenue", "Q1"), TableCollection)
		require.NoError(t, err)
		_, err = st.Insert(t.Context(), sampleElement("b", "Costs", "Q2"), TableCollection)
		require.NoError(t, err)

		// When: deleting one
		require.NoError(t, st.Delete(t.Context(), TableCollection, "a"))

		// Then: only the other remains and a second delete is NotFound
		assert.Equal(t, []string{"b"}, elementIDs(scrollAll(t, st, TableCollection, 10)))

		err = st.Delete(t.Context(), TableCollection, "a")
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeElementNotFound, errors.GetCode(err))
	})
}

// =============================================================================
// Search
// =============================================================================

func seedTables(t *testing.T, st KnowledgeStore) {
	t.Helper()
	for _, el := range []Element{
		sampleElement("revenue", "Quarterly revenue", "revenue grew in every region"),
		sampleElement("headcount", "Headcount", "employees per office"),
		sampleElement("inventory", "Warehouse inventory", "pallets and containers"),
	} {
		_, err := st.Insert(t.Context(), el, TableCollection)
		require.NoError(t, err)
	}
}

func TestStore_Search_Keyword(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()
		seedTables(t, st)

		results, err := st.Search(t.Context(), "revenue", TableCollection, ModeKeyword, 5)

		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "revenue", results[0].ID)
		assert.NotContains(t, elementIDs(results), "inventory")
	})
}

func TestStore_Search_Vector(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()
		seedTables(t, st)

		// When: the query is an element's exact text
		results, err := st.Search(t.Context(), "Warehouse inventory\npallets and containers", TableCollection, ModeVector, 1)

		// Then: that element is the nearest neighbour
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "inventory", results[0].ID)
	})
}

func TestStore_Search_HybridHasNoDuplicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()
		seedTables(t, st)

		results, err := st.Search(t.Context(), "revenue", TableCollection, ModeHybrid, 3)

		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.LessOrEqual(t, len(results), 3)
		assert.Equal(t, "revenue", results[0].ID, "keyword results come first")

		seen := map[string]bool{}
		for _, el := range results {
			assert.False(t, seen[el.ID], "duplicate id %s", el.ID)
			seen[el.ID] = true
		}
	})
}

func TestStore_Search_UnknownCollectionListsAlternatives(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		_, err := st.Search(t.Context(), "revenue", "Tables", ModeHybrid, 3)

		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
		de, ok := errors.As(err)
		require.True(t, ok)
		for _, name := range Collections() {
			assert.Contains(t, de.Suggestion, name)
		}
	})
}

func TestStore_Search_EmptyQuery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		_, err := st.Search(t.Context(), "   ", TableCollection, ModeKeyword, 3)

		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeQueryEmpty, errors.GetCode(err))
	})
}

func TestStore_Search_InvalidMode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		_, err := st.Search(t.Context(), "revenue", TableCollection, SearchMode("fuzzy"), 3)

		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	})
}

// =============================================================================
// Scroll and persistence
// =============================================================================

func TestStore_Scroll_Paginates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		// Given: five labels
		for i := range 5 {
			_, err := st.Insert(t.Context(), sampleElement(fmt.Sprintf("label-%d", i), "Label", fmt.Sprintf("text %d", i)), LabelCollection)
			require.NoError(t, err)
		}

		// When: paging two at a time
		page1, next1, err := st.Scroll(t.Context(), LabelCollection, 0, 2)
		require.NoError(t, err)
		page2, next2, err := st.Scroll(t.Context(), LabelCollection, next1, 2)
		require.NoError(t, err)
		page3, next3, err := st.Scroll(t.Context(), LabelCollection, next2, 2)
		require.NoError(t, err)

		// Then: 2 + 2 + 1 distinct elements, ending with -1
		assert.Len(t, page1, 2)
		assert.Len(t, page2, 2)
		assert.Len(t, page3, 1)
		assert.Equal(t, 2, next1)
		assert.Equal(t, 4, next2)
		assert.Equal(t, -1, next3)

		ids := elementIDs(append(append(page1, page2...), page3...))
		assert.ElementsMatch(t, []string{"label-0", "label-1", "label-2", "label-3", "label-4"}, ids)
	})
}

func TestStore_Scroll_EmptyCollection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend, dir string) {
		st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
		defer st.Close()

		page, next, err := st.Scroll(t.Context(), ImageCollection, 0, 10)

		require.NoError(t, err)
		assert.Empty(t, page)
		assert.Equal(t, -1, next)
	})
}

func TestStore_ReopenKeepsElements(t *testing.T) {
	for _, backend := range Backends() {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()

			// Given: an element written and the store closed
			st := newConnected(t, backend, dir, embed.NewStaticEmbedder())
			seedTables(t, st)
			require.NoError(t, st.Close())

			// When: reopening the same directory
			reopened, err := New(backend, dir, DefaultCollectionNames(), embed.NewStaticEmbedder())
			require.NoError(t, err)
			require.NoError(t, reopened.Connect(t.Context()))
			defer reopened.Close()

			// Then: collections, elements and both search modes survive
			names, err := reopened.ListCollections(t.Context())
			require.NoError(t, err)
			assert.Len(t, names, 3)

			assert.ElementsMatch(t, []string{"revenue", "headcount", "inventory"},
				elementIDs(scrollAll(t, reopened, TableCollection, 2)))

			kw, err := reopened.Search(t.Context(), "revenue", TableCollection, ModeKeyword, 1)
			require.NoError(t, err)
			require.Len(t, kw, 1)
			assert.Equal(t, "revenue", kw[0].ID)

			vec, err := reopened.Search(t.Context(), "Headcount\nemployees per office", TableCollection, ModeVector, 1)
			require.NoError(t, err)
			require.Len(t, vec, 1)
			assert.Equal(t, "headcount", vec[0].ID)
		})
	}
}

func TestStore_NotConnected(t *testing.T) {
	for _, backend := range Backends() {
		t.Run(backend, func(t *testing.T) {
			st, err := New(backend, "", DefaultCollectionNames(), embed.NewStaticEmbedder())
			require.NoError(t, err)

			_, err = st.ListCollections(t.Context())

			require.Error(t, err)
			assert.True(t, errors.IsConnection(err))
		})
	}
}

func TestStore_DimensionMismatch_HNSW(t *testing.T) {
	// Given: a collection sized for the static embedder
	dir := t.TempDir()
	st := newConnected(t, BackendHNSW, dir, embed.NewStaticEmbedder())
	require.NoError(t, st.Close())

	// When: reopening with an embedder of another size
	wider := &fixedEmbedder{Embedder: embed.NewStaticEmbedder(), dims: 8}
	reopened := NewHNSWStore(dir, DefaultCollectionNames(), wider)
	require.NoError(t, reopened.Connect(t.Context()))
	defer reopened.Close()

	_, err := reopened.Insert(t.Context(), sampleElement("", "Revenue", "Q1"), TableCollection)

	// Then: the store rejects the vector
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
}
