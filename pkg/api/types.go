package api

import "github.com/flakestry/flakestry/pkg/flake"

// FlakesResponse is the body of GET /api/flake. Query is null for the
// recent listing.
type FlakesResponse struct {
	Releases []flake.ReleaseSummary `json:"releases"`
	Count    int                    `json:"count"`
	Query    *string                `json:"query"`
}

// OwnerResponse is the body of GET /api/flake/github/{owner}
type OwnerResponse struct {
	Repos []flake.ReleaseSummary `json:"repos"`
}

// RepoResponse is the body of GET /api/flake/github/{owner}/{repo}
type RepoResponse struct {
	Releases []flake.ReleaseSummary `json:"releases"`
}

// nonNil keeps empty listings serialized as [] rather than null
func nonNil(releases []flake.ReleaseSummary) []flake.ReleaseSummary {
	if releases == nil {
		return []flake.ReleaseSummary{}
	}
	return releases
}
