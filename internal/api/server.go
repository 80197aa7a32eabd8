// Package api serves the knowledge store over a JSON HTTP API.
//
// Routes:
//
//	GET    /healthz
//	GET    /api/v1/collections
//	POST   /api/v1/collections
//	DELETE /api/v1/collections/{name}
//	POST   /api/v1/collections/{name}/search
//	PUT    /api/v1/collections/{name}/elements
//	DELETE /api/v1/collections/{name}/elements/{id}
//	POST   /api/v1/documents
//
// Errors are ErrorResponse bodies; the status follows the DocError code.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/store"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Ingestor ingests one file. *ingest.Orchestrator satisfies it.
type Ingestor interface {
	Invoke(ctx context.Context, path string) (*ingest.Result, error)
}

// Server routes HTTP requests to a KnowledgeStore and an optional Ingestor.
type Server struct {
	store    store.KnowledgeStore
	ingestor Ingestor
	logger   *slog.Logger
	router   chi.Router
}

// NewServer builds the router. ingestor may be nil, in which case
// POST /api/v1/documents answers 501.
func NewServer(st store.KnowledgeStore, ingestor Ingestor) (*Server, error) {
	if st == nil {
		return nil, errors.New("knowledge store is required")
	}
	s := &Server{
		store:    st,
		ingestor: ingestor,
		logger:   slog.Default(),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Route("/collections", func(r chi.Router) {
				r.Get("/", s.handleListCollections)
				r.Post("/", s.handleCreateCollection)
				r.Delete("/{name}", s.handleDeleteCollection)
				r.Post("/{name}/search", s.handleSearch)
				r.Put("/{name}/elements", s.handleUpsertElement)
				r.Delete("/{name}/elements/{id}", s.handleDeleteElement)
			})
		})

		// Ingestion runs as long as the document takes.
		r.Post("/documents", s.handleIngest)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		_ = WriteError(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		_ = WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_server_starting", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("api_server_stopped")
	return nil
}

// requestLogger logs one slog record per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("api_request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
