package api

import (
	"context"
	"net/http"

	"github.com/flakestry/flakestry/pkg/httputil"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/search"
	"github.com/flakestry/flakestry/pkg/storage"
	"github.com/gorilla/mux"
)

// Searcher runs a free-text relevance search over releases
type Searcher interface {
	Search(ctx context.Context, query string) (*search.Result, error)
}

// Server represents the API server
type Server struct {
	searcher Searcher
	releases storage.ReleaseRepository
	router   *mux.Router
	logger   *observability.Logger
}

// NewServer creates a new API server with all routes registered
func NewServer(searcher Searcher, releases storage.ReleaseRepository, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Server{
		searcher: searcher,
		releases: releases,
		router:   mux.NewRouter(),
		logger:   logger.WithField("component", "api"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/flake", s.listFlakes).Methods(http.MethodGet).Name("flake")
	api.HandleFunc("/flake/github/{owner}", s.listOwner).Methods(http.MethodGet).Name("flake_owner")
	api.HandleFunc("/flake/github/{owner}/{repo}", s.listRepo).Methods(http.MethodGet).Name("flake_repo")
	api.HandleFunc("/flake/github/{owner}/{repo}/{version}", s.getVersion).Methods(http.MethodGet).Name("flake_version")
	api.HandleFunc("/publish", s.publish).Methods(http.MethodPost).Name("publish")
	api.HandleFunc("/badge/flake/github/{owner}/{repo}", s.getBadge).Methods(http.MethodGet).Name("badge")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteName returns the name of the route matching r, for use as a
// low-cardinality metrics label
func (s *Server) RouteName(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if name := match.Route.GetName(); name != "" {
			return name
		}
	}
	return "unmatched"
}
