// Package search answers free-text release queries across the OpenSearch
// relevance index and the relational release store.
//
// # Overview
//
// The index holds a denormalized copy of each release and ranks them; the
// store holds the authoritative rows. The two are written independently and
// may disagree about which releases exist, so a query is answered in two
// steps:
//
//  1. OpenSearchIndex.Search returns up to MaxHits (id, score) pairs
//  2. Aggregator.Search loads those ids from the store, drops the ones the
//     store does not know, and orders the rest by score, then id
//
// # Usage
//
//	client, err := search.NewOpenSearchClient(ctx, search.ClientConfig{
//		Addresses: []string{"http://localhost:9200"},
//	})
//	index := search.NewOpenSearchIndex(client, "flakes", 5*time.Second, logger, metrics)
//	aggregator := search.NewAggregator(index, releaseStore, logger, metrics)
//
//	result, err := aggregator.Search(ctx, "nixpkgs")
//	if errors.Is(err, flake.ErrIndexUnavailable) {
//		// index down; browsing endpoints still work
//	}
//
// # Failure Modes
//
// Index failures surface as flake.ErrIndexUnavailable and store failures as
// flake.ErrStorageUnavailable. Neither is retried. Hits missing from the store
// are logged at debug level and counted, never reported as errors.
//
// # Related Packages
//
//   - pkg/flake: Release records and error categories
//   - pkg/storage/postgres: Release store
//   - pkg/api: HTTP handlers
package search
