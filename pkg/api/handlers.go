package api

import (
	"errors"
	"net/http"

	"github.com/flakestry/flakestry/pkg/flake"
	"github.com/flakestry/flakestry/pkg/httputil"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/storage"
)

// listFlakes handles GET /api/flake. Without a query it lists the newest
// releases and the search index is not consulted.
func (s *Server) listFlakes(w http.ResponseWriter, r *http.Request) {
	query, ok := httputil.ParseQueryText(r, "q")
	if !ok {
		releases, err := s.releases.FetchRecent(r.Context(), storage.DefaultRecentLimit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		releases = nonNil(releases)
		httputil.WriteSuccess(w, FlakesResponse{Releases: releases, Count: len(releases)})
		return
	}

	result, err := s.searcher.Search(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, FlakesResponse{
		Releases: nonNil(result.Releases),
		Count:    result.Count,
		Query:    &query,
	})
}

// listOwner handles GET /api/flake/github/{owner}
func (s *Server) listOwner(w http.ResponseWriter, r *http.Request) {
	owner, ok := httputil.ParsePathStringOrError(w, r, "owner")
	if !ok {
		return
	}

	repos, err := s.releases.FetchByOwner(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, OwnerResponse{Repos: nonNil(repos)})
}

// listRepo handles GET /api/flake/github/{owner}/{repo}
func (s *Server) listRepo(w http.ResponseWriter, r *http.Request) {
	owner, ok := httputil.ParsePathStringOrError(w, r, "owner")
	if !ok {
		return
	}
	repo, ok := httputil.ParsePathStringOrError(w, r, "repo")
	if !ok {
		return
	}

	releases, err := s.releases.FetchByOwnerAndRepo(r.Context(), owner, repo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, RepoResponse{Releases: nonNil(releases)})
}

// getVersion handles GET /api/flake/github/{owner}/{repo}/{version}
func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	owner, ok := httputil.ParsePathStringOrError(w, r, "owner")
	if !ok {
		return
	}
	repo, ok := httputil.ParsePathStringOrError(w, r, "repo")
	if !ok {
		return
	}
	version, ok := httputil.ParsePathStringOrError(w, r, "version")
	if !ok {
		return
	}

	release, err := s.releases.FetchOneVersion(r.Context(), owner, repo, version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, release)
}

// publish handles POST /api/publish. Ingestion runs elsewhere; this only
// acknowledges.
func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, "Publish")
}

// writeError maps err onto a status code. Only server-side failures are logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, flake.ErrNotFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	s.loggerFor(r).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	httputil.WriteInternalError(w)
}

// loggerFor prefers the request-scoped logger installed by the middleware
func (s *Server) loggerFor(r *http.Request) *observability.Logger {
	if _, ok := r.Context().Value(observability.LoggerKey).(*observability.Logger); ok {
		return observability.FromContext(r.Context()).WithField("component", "api")
	}
	return s.logger
}
