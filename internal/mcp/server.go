package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/pkg/version"
)

// Ingestor ingests one file. *ingest.Orchestrator satisfies it.
type Ingestor interface {
	Invoke(ctx context.Context, path string) (*ingest.Result, error)
}

// Server is the docindex MCP server.
type Server struct {
	mcp      *mcp.Server
	store    store.KnowledgeStore
	ingestor Ingestor
	names    store.CollectionNames
	logger   *slog.Logger
}

// NewServer creates a server over st. ingestor may be nil, in which case
// ingest_document is not offered.
func NewServer(st store.KnowledgeStore, ingestor Ingestor, names store.CollectionNames) (*Server, error) {
	if st == nil {
		return nil, errors.New("knowledge store is required")
	}
	if names.Table == "" {
		names = store.DefaultCollectionNames()
	}

	s := &Server{
		store:    st,
		ingestor: ingestor,
		names:    names,
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "docindex",
		Version: version.Version,
	}, nil)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer exposes the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Search tables, images and text labels extracted from ingested documents. Returns each hit with its document id, page and bounding box.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_collections",
		Description: "List the collections that currently exist in the knowledge store.",
	}, s.mcpListCollectionsHandler)

	count := 2
	if s.ingestor != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "ingest_document",
			Description: "Render a document into page images, extract its tables, images and labels and store them.",
		}, s.mcpIngestHandler)
		count++
	}
	s.logger.Debug("mcp_tools_registered", slog.Int("count", count))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchKnowledgeInput) (
	*mcp.CallToolResult,
	SearchKnowledgeOutput,
	error,
) {
	out, err := s.searchKnowledge(ctx, input)
	if err != nil {
		return nil, SearchKnowledgeOutput{}, MapError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatResults(input.Query, out.Results)}},
	}, out, nil
}

func (s *Server) mcpListCollectionsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ListCollectionsInput) (
	*mcp.CallToolResult,
	ListCollectionsOutput,
	error,
) {
	out, err := s.listCollections(ctx)
	if err != nil {
		return nil, ListCollectionsOutput{}, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) mcpIngestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestDocumentInput) (
	*mcp.CallToolResult,
	IngestDocumentOutput,
	error,
) {
	out, err := s.ingestDocument(ctx, input)
	if err != nil {
		return nil, IngestDocumentOutput{}, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) searchKnowledge(ctx context.Context, input SearchKnowledgeInput) (SearchKnowledgeOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return SearchKnowledgeOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	mode, err := store.ParseSearchMode(input.Mode)
	if err != nil {
		return SearchKnowledgeOutput{}, NewInvalidParamsError(err.Error())
	}
	limit := clampLimit(input.Limit, defaultSearchLimit, maxSearchLimit)

	collections := s.names.All()
	if input.Collection != "" {
		collections = []string{input.Collection}
	}

	start := time.Now()
	out := SearchKnowledgeOutput{Results: []ElementOutput{}}
	for _, name := range collections {
		hits, err := s.store.Search(ctx, input.Query, name, mode, limit)
		if err != nil {
			s.logger.Warn("mcp_search_failed",
				slog.String("collection", name),
				slog.String("error", err.Error()))
			return SearchKnowledgeOutput{}, err
		}
		for _, el := range hits {
			out.Results = append(out.Results, toElementOutput(name, el))
		}
	}
	out.Count = len(out.Results)

	s.logger.Info("mcp_search_completed",
		slog.String("query", input.Query),
		slog.String("mode", string(mode)),
		slog.Int("results", out.Count),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *Server) listCollections(ctx context.Context) (ListCollectionsOutput, error) {
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		return ListCollectionsOutput{}, err
	}
	if names == nil {
		names = []string{}
	}
	return ListCollectionsOutput{Collections: names, Backend: s.store.Backend()}, nil
}

func (s *Server) ingestDocument(ctx context.Context, input IngestDocumentInput) (IngestDocumentOutput, error) {
	if s.ingestor == nil {
		return IngestDocumentOutput{}, NewMethodNotFoundError("ingest_document")
	}
	if strings.TrimSpace(input.Path) == "" {
		return IngestDocumentOutput{}, NewInvalidParamsError("path is required")
	}
	res, err := s.ingestor.Invoke(ctx, input.Path)
	if err != nil {
		return IngestDocumentOutput{}, err
	}
	return toIngestOutput(res), nil
}

// CallTool invokes a tool by name with JSON-style arguments, bypassing the
// transport. Errors are MCPErrors.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_knowledge":
		var in SearchKnowledgeInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.searchKnowledge(ctx, in)
		if err != nil {
			return nil, MapError(err)
		}
		return out, nil
	case "list_collections":
		out, err := s.listCollections(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return out, nil
	case "ingest_document":
		var in IngestDocumentInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.ingestDocument(ctx, in)
		if err != nil {
			return nil, MapError(err)
		}
		return out, nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, v any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// Serve runs the server over stdio or streamable HTTP until ctx ends.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		return nil
	case "http":
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
