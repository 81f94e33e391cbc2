// Package flake defines the release records served by the registry and the
// error categories shared by the search index and the relational store.
//
// # Records
//
// A ReleaseSummary is the compact listing form of a published flake release.
// A ReleaseDetail adds the readme, commit and evaluated metadata of a single
// version:
//
//	summary := flake.ReleaseSummary{
//		ID:      42,
//		Owner:   "nixos",
//		Repo:    "nixpkgs",
//		Version: "23.05",
//	}
//
// The numeric ReleaseID joins the search index to the store and is never
// serialized to API clients.
//
// # Errors
//
// Dependency failures are reported in one of three categories, matched with
// errors.Is:
//
//	if errors.Is(err, flake.ErrNotFound) {
//		httputil.WriteNotFoundError(w, "release not found")
//	}
//
// # Related Packages
//
//   - pkg/search: Relevance index client and search aggregator
//   - pkg/storage/postgres: Release repository
package flake
