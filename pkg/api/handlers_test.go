package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flakestry/flakestry/pkg/flake"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	result  *search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) (*search.Result, error) {
	f.queries = append(f.queries, query)
	return f.result, f.err
}

type fakeReleases struct {
	recent      []flake.ReleaseSummary
	byOwner     map[string][]flake.ReleaseSummary
	byRepo      map[string][]flake.ReleaseSummary
	details     map[string]*flake.ReleaseDetail
	err         error
	recentLimit int
}

func (f *fakeReleases) FetchByIDs(ctx context.Context, ids []flake.ReleaseID) ([]flake.ReleaseSummary, error) {
	return nil, errors.New("not used")
}

func (f *fakeReleases) FetchRecent(ctx context.Context, limit int) ([]flake.ReleaseSummary, error) {
	f.recentLimit = limit
	return f.recent, f.err
}

func (f *fakeReleases) FetchByOwner(ctx context.Context, owner string) ([]flake.ReleaseSummary, error) {
	return f.byOwner[owner], f.err
}

func (f *fakeReleases) FetchByOwnerAndRepo(ctx context.Context, owner, repo string) ([]flake.ReleaseSummary, error) {
	return f.byRepo[owner+"/"+repo], f.err
}

func (f *fakeReleases) FetchOneVersion(ctx context.Context, owner, repo, version string) (*flake.ReleaseDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	detail, ok := f.details[owner+"/"+repo+"/"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s %s", flake.ErrNotFound, owner, repo, version)
	}
	return detail, nil
}

func summary(id flake.ReleaseID, owner, repo, version string) flake.ReleaseSummary {
	return flake.ReleaseSummary{
		ID:          id,
		Owner:       owner,
		Repo:        repo,
		Version:     version,
		Description: repo + " flake",
		CreatedAt:   flake.NewTimestamp(time.Date(2024, 1, int(id), 12, 0, 0, 0, time.UTC)),
	}
}

func newTestServer(searcher *fakeSearcher, releases *fakeReleases) (*Server, *bytes.Buffer) {
	var logs bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &logs)
	return NewServer(searcher, releases, logger), &logs
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestListFlakes_Search(t *testing.T) {
	searcher := &fakeSearcher{result: &search.Result{
		Releases: []flake.ReleaseSummary{summary(2, "nixos", "nixpkgs", "23.11"), summary(1, "numtide", "flake-utils", "0.1.0")},
		Count:    2,
		Query:    "nix",
	}}
	releases := &fakeReleases{}
	s, _ := newTestServer(searcher, releases)

	w := doRequest(s, http.MethodGet, "/api/flake?q=nix")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, []string{"nix"}, searcher.queries)
	assert.Zero(t, releases.recentLimit)

	var body struct {
		Releases []map[string]any `json:"releases"`
		Count    int              `json:"count"`
		Query    *string          `json:"query"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Releases, 2)
	assert.Equal(t, 2, body.Count)
	require.NotNil(t, body.Query)
	assert.Equal(t, "nix", *body.Query)
	assert.Equal(t, "nixpkgs", body.Releases[0]["repo"])
	assert.Equal(t, "flake-utils", body.Releases[1]["repo"])
	assert.NotContains(t, body.Releases[0], "id")
}

func TestListFlakes_EchoesQueryAsSent(t *testing.T) {
	searcher := &fakeSearcher{result: &search.Result{}}
	s, _ := newTestServer(searcher, &fakeReleases{})

	w := doRequest(s, http.MethodGet, "/api/flake?q=%20%20utils%20")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"  utils "}, searcher.queries)
	assert.JSONEq(t, `{"releases":[],"count":0,"query":"  utils "}`, w.Body.String())
}

func TestListFlakes_RecentWithoutQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"absent", "/api/flake"},
		{"empty", "/api/flake?q="},
		{"whitespace", "/api/flake?q=%20%09"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{}
			releases := &fakeReleases{recent: []flake.ReleaseSummary{summary(3, "nixos", "nixpkgs", "24.05")}}
			s, _ := newTestServer(searcher, releases)

			w := doRequest(s, http.MethodGet, tt.target)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, searcher.queries, "search index must not be consulted")
			assert.Equal(t, 100, releases.recentLimit)

			var body map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "null", string(body["query"]))
			assert.Equal(t, "1", string(body["count"]))
		})
	}
}

func TestListFlakes_EmptyRecentIsArray(t *testing.T) {
	s, _ := newTestServer(&fakeSearcher{}, &fakeReleases{})

	w := doRequest(s, http.MethodGet, "/api/flake")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"releases":[],"count":0,"query":null}`, w.Body.String())
}

func TestListFlakes_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		searcher *fakeSearcher
		releases *fakeReleases
	}{
		{
			name:     "index unavailable",
			target:   "/api/flake?q=nix",
			searcher: &fakeSearcher{err: fmt.Errorf("%w: connection refused", flake.ErrIndexUnavailable)},
			releases: &fakeReleases{},
		},
		{
			name:     "storage unavailable during search",
			target:   "/api/flake?q=nix",
			searcher: &fakeSearcher{err: fmt.Errorf("%w: timeout", flake.ErrStorageUnavailable)},
			releases: &fakeReleases{},
		},
		{
			name:     "storage unavailable for recent",
			target:   "/api/flake",
			searcher: &fakeSearcher{},
			releases: &fakeReleases{err: fmt.Errorf("%w: timeout", flake.ErrStorageUnavailable)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, logs := newTestServer(tt.searcher, tt.releases)

			w := doRequest(s, http.MethodGet, tt.target)
			assert.Equal(t, http.StatusInternalServerError, w.Code)

			assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
			assert.NotContains(t, w.Body.String(), "timeout")
			assert.NotContains(t, w.Body.String(), "connection refused")
			assert.Contains(t, logs.String(), `"level":"ERROR"`)
			assert.Contains(t, logs.String(), "request failed")
		})
	}
}

func TestListOwner(t *testing.T) {
	releases := &fakeReleases{byOwner: map[string][]flake.ReleaseSummary{
		"nixos": {summary(4, "nixos", "nixpkgs", "24.05"), summary(2, "nixos", "nix", "2.18")},
	}}
	s, _ := newTestServer(&fakeSearcher{}, releases)

	w := doRequest(s, http.MethodGet, "/api/flake/github/nixos")
	require.Equal(t, http.StatusOK, w.Code)

	var body OwnerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Repos, 2)
	assert.Equal(t, "nixpkgs", body.Repos[0].Repo)

	w = doRequest(s, http.MethodGet, "/api/flake/github/nobody")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"repos":[]}`, w.Body.String())
}

func TestListRepo(t *testing.T) {
	releases := &fakeReleases{byRepo: map[string][]flake.ReleaseSummary{
		"numtide/flake-utils": {summary(9, "numtide", "flake-utils", "0.2.0"), summary(5, "numtide", "flake-utils", "0.1.0")},
	}}
	s, _ := newTestServer(&fakeSearcher{}, releases)

	w := doRequest(s, http.MethodGet, "/api/flake/github/numtide/flake-utils")
	require.Equal(t, http.StatusOK, w.Code)

	var body RepoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Releases, 2)
	assert.Equal(t, "0.2.0", body.Releases[0].Version)

	w = doRequest(s, http.MethodGet, "/api/flake/github/numtide/missing")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"releases":[]}`, w.Body.String())
}

func TestGetVersion(t *testing.T) {
	detail := &flake.ReleaseDetail{
		ReleaseSummary: summary(5, "numtide", "flake-utils", "0.1.0"),
		Commit:         "abc123",
		Readme:         "# flake-utils",
		ReadmeFilename: "README.md",
		Outputs:        json.RawMessage(`{"lib":{}}`),
		OutputsErrors:  []string{"evaluation failed"},
	}
	releases := &fakeReleases{details: map[string]*flake.ReleaseDetail{"numtide/flake-utils/0.1.0": detail}}
	s, logs := newTestServer(&fakeSearcher{}, releases)

	t.Run("found", func(t *testing.T) {
		w := doRequest(s, http.MethodGet, "/api/flake/github/numtide/flake-utils/0.1.0")
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "0.1.0", body["version"])
		assert.Equal(t, "abc123", body["commit"])
		assert.Equal(t, "README.md", body["readme_filename"])
		assert.Equal(t, map[string]any{"lib": map[string]any{}}, body["outputs"])
		assert.Equal(t, []any{"evaluation failed"}, body["outputs_errors"])
	})

	t.Run("not found", func(t *testing.T) {
		logs.Reset()
		w := doRequest(s, http.MethodGet, "/api/flake/github/numtide/flake-utils/9.9.9")
		require.Equal(t, http.StatusNotFound, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Contains(t, body["error"], "release not found")
		assert.NotContains(t, logs.String(), `"level":"ERROR"`)
	})

	t.Run("storage failure", func(t *testing.T) {
		failing := &fakeReleases{err: fmt.Errorf("%w: fetch one version: pq: password authentication failed", flake.ErrStorageUnavailable)}
		s, logs := newTestServer(&fakeSearcher{}, failing)

		w := doRequest(s, http.MethodGet, "/api/flake/github/numtide/flake-utils/0.1.0")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "pq:")
		assert.Contains(t, logs.String(), "password authentication failed")
	})
}

func TestPublish(t *testing.T) {
	s, _ := newTestServer(&fakeSearcher{}, &fakeReleases{})

	w := doRequest(s, http.MethodPost, "/api/publish")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "\"Publish\"\n", w.Body.String())

	w = doRequest(s, http.MethodGet, "/api/publish")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(&fakeSearcher{}, &fakeReleases{})

	w := doRequest(s, http.MethodGet, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))
}

func TestRouteName(t *testing.T) {
	s, _ := newTestServer(&fakeSearcher{}, &fakeReleases{})

	tests := []struct {
		method string
		target string
		want   string
	}{
		{http.MethodGet, "/api/flake?q=nix", "flake"},
		{http.MethodGet, "/api/flake/github/nixos", "flake_owner"},
		{http.MethodGet, "/api/flake/github/nixos/nixpkgs", "flake_repo"},
		{http.MethodGet, "/api/flake/github/nixos/nixpkgs/24.05", "flake_version"},
		{http.MethodPost, "/api/publish", "publish"},
		{http.MethodGet, "/api/badge/flake/github/nixos/nixpkgs", "badge"},
		{http.MethodGet, "/nowhere", "unmatched"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, nil)
		if got := s.RouteName(req); got != tt.want {
			t.Errorf("RouteName(%s %s) = %q, want %q", tt.method, tt.target, got, tt.want)
		}
	}
}
