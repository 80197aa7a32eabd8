package mcp

import (
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/store"
)

// Search limits for the search_knowledge tool.
const (
	defaultSearchLimit = store.DefaultSearchLimit
	maxSearchLimit     = 50
)

// SearchKnowledgeInput is the input schema for search_knowledge.
type SearchKnowledgeInput struct {
	Query      string `json:"query" jsonschema:"the text to search for"`
	Collection string `json:"collection,omitempty" jsonschema:"TableCollection, ImageCollection or LabelCollection; empty searches all three"`
	Mode       string `json:"mode,omitempty" jsonschema:"keyword, vector or hybrid (default hybrid)"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum results per collection, default 3"`
}

// SearchKnowledgeOutput is the output schema for search_knowledge.
type SearchKnowledgeOutput struct {
	Results []ElementOutput `json:"results"`
	Count   int             `json:"count"`
}

// ElementOutput is one search hit.
type ElementOutput struct {
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
	DocID      string     `json:"doc_id"`
	Name       string     `json:"name"`
	Page       int        `json:"page"`
	Content    string     `json:"content"`
	Box        [4]float64 `json:"xy" jsonschema:"bounding box (left, top, right, bottom) in pixels"`
}

func toElementOutput(collection string, el store.Element) ElementOutput {
	return ElementOutput{
		Collection: collection,
		ID:         el.ID,
		DocID:      el.DocID,
		Name:       el.Name,
		Page:       el.Page,
		Content:    el.Content,
		Box:        el.Box,
	}
}

// ListCollectionsInput takes no parameters.
type ListCollectionsInput struct{}

// ListCollectionsOutput is the output schema for list_collections.
type ListCollectionsOutput struct {
	Collections []string `json:"collections"`
	Backend     string   `json:"backend"`
}

// IngestDocumentInput is the input schema for ingest_document.
type IngestDocumentInput struct {
	Path string `json:"path" jsonschema:"absolute path of a PDF, office document or image on the server"`
}

// IngestDocumentOutput is the output schema for ingest_document.
type IngestDocumentOutput struct {
	DocID          string         `json:"doc_id"`
	Pages          int            `json:"pages"`
	Inserted       map[string]int `json:"inserted"`
	FailedPages    []int          `json:"failed_pages,omitempty"`
	InsertFailures int            `json:"insert_failures,omitempty"`
}

func toIngestOutput(res *ingest.Result) IngestDocumentOutput {
	return IngestDocumentOutput{
		DocID:          res.DocID,
		Pages:          res.Pages,
		Inserted:       res.Inserted,
		FailedPages:    res.FailedPages,
		InsertFailures: res.InsertFailures,
	}
}
