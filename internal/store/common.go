package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Aman-CERP/docindex/internal/errors"
)

// prepareElement assigns an ID when missing and rejects elements without a
// document id.
func prepareElement(el Element) (Element, error) {
	if strings.TrimSpace(el.DocID) == "" {
		return el, errors.ValidationError("element has no document id", nil).
			WithDetail("id", el.ID)
	}
	if el.ID == "" {
		el.ID = uuid.NewString()
	}
	return el, nil
}

// checkManaged rejects collection names outside the configured set.
func checkManaged(names CollectionNames, name string) error {
	if names.Contains(name) {
		return nil
	}
	return errors.ValidationError(fmt.Sprintf("collection %q is not managed by this store", name), nil).
		WithDetail("collection", name).
		WithSuggestion("Use one of: " + strings.Join(names.All(), ", "))
}

// checkQuery rejects blank queries.
func checkQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.New(errors.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	return nil
}

// normalizeLimit maps non-positive limits to DefaultSearchLimit.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return limit
}

func errNotConnected(backend string) error {
	return errors.New(errors.ErrCodeConnectionFailed, "store is not connected", nil).
		WithDetail("backend", backend).
		WithSuggestion("Call Connect before using the store.")
}

func errDimensionMismatch(collection string, want, got int) error {
	return errors.New(errors.ErrCodeDimensionMismatch,
		fmt.Sprintf("vector has %d dimensions, collection %s expects %d", got, collection, want), nil).
		WithDetail("collection", collection).
		WithSuggestion("Run 'docindex migrate' after changing the embedding model.")
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encodePayload serialises an element for backends that store it opaquely.
func encodePayload(el Element) (string, error) {
	data, err := json.Marshal(el)
	if err != nil {
		return "", fmt.Errorf("encode element %s: %w", el.ID, err)
	}
	return string(data), nil
}

func decodePayload(payload string) (Element, error) {
	var el Element
	if err := json.Unmarshal([]byte(payload), &el); err != nil {
		return Element{}, errors.New(errors.ErrCodeCorruptIndex, "stored element is not valid JSON", err)
	}
	return el, nil
}

// scrollWindow returns the [start, end) bounds of a page over total items
// and the next offset, or -1 when the page reaches the end.
func scrollWindow(total, offset, limit int) (start, end, next int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = total
	}
	start = min(offset, total)
	end = min(start+limit, total)
	next = end
	if end >= total {
		next = -1
	}
	return start, end, next
}
