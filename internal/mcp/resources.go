package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	uriScheme = "docindex://"

	// resourcePageSize caps the elements returned by one collection read.
	resourcePageSize = 100
)

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         uriScheme + "collections",
		Name:        "collections",
		Description: "Existing collections and the store backend",
		MIMEType:    "application/json",
	}, s.handleCollectionsResource)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "collections/{name}",
		Name:        "collection-elements",
		Description: "The first elements stored in a collection",
		MIMEType:    "application/json",
	}, s.handleCollectionResource)
}

func (s *Server) handleCollectionsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	out, err := s.listCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return jsonResource(req.Params.URI, out)
}

func (s *Server) handleCollectionResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	name := collectionFromURI(req.Params.URI)
	if !s.names.Contains(name) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	els, next, err := s.store.Scroll(ctx, name, 0, resourcePageSize)
	if err != nil {
		return nil, MapError(err)
	}

	type page struct {
		Collection string          `json:"collection"`
		Elements   []ElementOutput `json:"elements"`
		Truncated  bool            `json:"truncated"`
	}
	p := page{Collection: name, Elements: make([]ElementOutput, 0, len(els)), Truncated: next >= 0}
	for _, el := range els {
		p.Elements = append(p.Elements, toElementOutput(name, el))
	}
	return jsonResource(req.Params.URI, p)
}

// collectionFromURI extracts name from docindex://collections/{name}.
func collectionFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, uriScheme+"collections/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
