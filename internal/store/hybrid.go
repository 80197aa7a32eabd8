package store

import (
	"context"

	"github.com/Aman-CERP/docindex/internal/errors"
)

// searchFunc runs one search mode against a collection at the given limit.
type searchFunc func(ctx context.Context, limit int) ([]Element, error)

// runSearch dispatches a search mode. Hybrid runs keyword and vector at the
// full limit each and merges them with mergeHybrid. Every backend goes
// through here so hybrid behaves identically regardless of storage.
func runSearch(ctx context.Context, mode SearchMode, limit int, keyword, vector searchFunc) ([]Element, error) {
	limit = normalizeLimit(limit)
	mode, err := ParseSearchMode(string(mode))
	if err != nil {
		return nil, errors.ValidationError(err.Error(), err)
	}

	switch mode {
	case ModeKeyword:
		return keyword(ctx, limit)
	case ModeVector:
		return vector(ctx, limit)
	default:
		kw, err := keyword(ctx, limit)
		if err != nil {
			return nil, err
		}
		vec, err := vector(ctx, limit)
		if err != nil {
			return nil, err
		}
		return mergeHybrid(kw, vec, limit), nil
	}
}

// mergeHybrid concatenates keyword results then vector results, keeps the
// first occurrence of each id and caps the result at limit.
func mergeHybrid(keyword, vector []Element, limit int) []Element {
	seen := make(map[string]struct{}, len(keyword)+len(vector))
	merged := make([]Element, 0, min(limit, len(keyword)+len(vector)))

	for _, list := range [][]Element{keyword, vector} {
		for _, el := range list {
			if len(merged) == limit {
				return merged
			}
			if _, dup := seen[el.ID]; dup {
				continue
			}
			seen[el.ID] = struct{}{}
			merged = append(merged, el)
		}
	}
	return merged
}
