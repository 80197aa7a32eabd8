package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

// Bundle holds the elements found on one page, grouped by kind.
type Bundle struct {
	Tables []store.Element
	Images []store.Element
	Labels []store.Element
}

// Len is the total number of elements.
func (b Bundle) Len() int {
	return len(b.Tables) + len(b.Images) + len(b.Labels)
}

// ByKind returns the elements of one kind.
func (b Bundle) ByKind(kind store.Kind) []store.Element {
	switch kind {
	case store.KindTable:
		return b.Tables
	case store.KindImage:
		return b.Images
	case store.KindLabel:
		return b.Labels
	default:
		return nil
	}
}

type rawRegion struct {
	TableName string          `json:"tableName"`
	ImageName string          `json:"imageName"`
	LabelName string          `json:"labelName"`
	Content   json.RawMessage `json:"content"`
	XY        json.RawMessage `json:"xy"`
}

type rawLayout struct {
	Tables []rawRegion `json:"tables"`
	Images []rawRegion `json:"images"`
	Labels []rawRegion `json:"labels"`
}

// Clean strips markdown code fences and backslash-escaped quotes from a
// model reply.
func Clean(reply string) string {
	reply = strings.ReplaceAll(reply, "```json", "")
	reply = strings.ReplaceAll(reply, "```", "")
	reply = strings.ReplaceAll(reply, `\"`, `"`)
	return strings.TrimSpace(reply)
}

// Parse decodes a cleaned reply into a bundle. Every element gets Page set
// to page; the docPage the model reports is ignored.
func Parse(reply string, page int) (Bundle, error) {
	var layout rawLayout
	if err := json.Unmarshal([]byte(Clean(reply)), &layout); err != nil {
		return Bundle{}, errors.New(errors.ErrCodeExtractionFailed, "layout reply is not valid JSON", err).
			WithDetail("page", strconv.Itoa(page))
	}

	convert := func(regions []rawRegion, name func(rawRegion) string) []store.Element {
		out := make([]store.Element, 0, len(regions))
		for _, r := range regions {
			out = append(out, store.Element{
				Name:    strings.TrimSpace(name(r)),
				Page:    page,
				Content: contentString(r.Content),
				Box:     parseBox(r.XY),
			})
		}
		return out
	}

	return Bundle{
		Tables: convert(layout.Tables, func(r rawRegion) string { return r.TableName }),
		Images: convert(layout.Images, func(r rawRegion) string { return r.ImageName }),
		Labels: convert(layout.Labels, func(r rawRegion) string { return r.LabelName }),
	}, nil
}

// contentString accepts a JSON string or any other JSON value, which is
// kept in its compact encoded form.
func contentString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// parseBox reads four numbers, given as numbers or numeric strings.
// Anything else yields the zero box.
func parseBox(raw json.RawMessage) store.BoundingBox {
	var box store.BoundingBox
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil || len(values) != 4 {
		return box
	}
	for i, v := range values {
		switch n := v.(type) {
		case float64:
			box[i] = n
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return store.BoundingBox{}
			}
			box[i] = f
		default:
			return store.BoundingBox{}
		}
	}
	return box
}
