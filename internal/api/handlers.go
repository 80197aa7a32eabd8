package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

// maxSearchLimit caps limit on search requests.
const maxSearchLimit = 50

// SearchRequest is the body of POST /api/v1/collections/{name}/search.
type SearchRequest struct {
	Query string `json:"query" validate:"required"`
	Mode  string `json:"mode,omitempty" validate:"omitempty,oneof=keyword vector hybrid bm25 similarity multi"`
	Limit int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

// SearchResponse lists search hits in rank order.
type SearchResponse struct {
	Collection string          `json:"collection"`
	Mode       string          `json:"mode"`
	Results    []store.Element `json:"results"`
	Count      int             `json:"count"`
}

// CreateCollectionRequest is the body of POST /api/v1/collections.
type CreateCollectionRequest struct {
	Name    string `json:"name" validate:"required"`
	ExistOK bool   `json:"exist_ok,omitempty"`
}

// CollectionsResponse lists existing collections.
type CollectionsResponse struct {
	Collections []string `json:"collections"`
	Backend     string   `json:"backend"`
}

// ElementRequest is the body of PUT /api/v1/collections/{name}/elements.
type ElementRequest struct {
	ID      string            `json:"id,omitempty"`
	DocID   string            `json:"docId" validate:"required"`
	Name    string            `json:"name"`
	Page    int               `json:"docPage" validate:"gte=0"`
	Content string            `json:"content"`
	Box     store.BoundingBox `json:"xy"`
}

func (r ElementRequest) element() store.Element {
	return store.Element{
		ID:      r.ID,
		DocID:   r.DocID,
		Name:    r.Name,
		Page:    r.Page,
		Content: r.Content,
		Box:     r.Box,
	}
}

// IngestRequest is the body of POST /api/v1/documents.
type IngestRequest struct {
	Path string `json:"path" validate:"required"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]string{"store": "healthy"},
	}
	status := http.StatusOK
	if _, err := s.store.ListCollections(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["store"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	_ = WriteJSON(w, status, resp)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListCollections(r.Context())
	if err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	if names == nil {
		names = []string{}
	}
	_ = WriteJSON(w, http.StatusOK, CollectionsResponse{Collections: names, Backend: s.store.Backend()})
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	if err := s.store.CreateCollection(r.Context(), req.Name, req.ExistOK); err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCollection(r.Context(), chi.URLParam(r, "name")); err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		handleError(w, r, docerrors.New(docerrors.ErrCodeQueryEmpty, "query cannot be whitespace only", nil), s.logger)
		return
	}
	mode, err := store.ParseSearchMode(req.Mode)
	if err != nil {
		handleError(w, r, docerrors.ValidationError(err.Error(), err), s.logger)
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = store.DefaultSearchLimit
	}

	results, err := s.store.Search(r.Context(), req.Query, name, mode, limit)
	if err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	if results == nil {
		results = []store.Element{}
	}
	_ = WriteJSON(w, http.StatusOK, SearchResponse{
		Collection: name,
		Mode:       string(mode),
		Results:    results,
		Count:      len(results),
	})
}

func (s *Server) handleUpsertElement(w http.ResponseWriter, r *http.Request) {
	var req ElementRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	el, err := s.store.Update(r.Context(), req.element(), chi.URLParam(r, "name"))
	if err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	if err := s.store.Flush(r.Context()); err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, el)
}

func (s *Server) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	err := s.store.Delete(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	if err := s.store.Flush(r.Context()); err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		_ = WriteError(w, http.StatusNotImplemented, "NOT_CONFIGURED", "ingestion is not enabled on this server", nil)
		return
	}
	var req IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	res, err := s.ingestor.Invoke(r.Context(), req.Path)
	if err != nil {
		handleError(w, r, err, s.logger)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, res)
}
