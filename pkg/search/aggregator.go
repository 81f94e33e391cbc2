package search

import (
	"context"
	"slices"
	"time"

	"github.com/flakestry/flakestry/pkg/flake"
	"github.com/flakestry/flakestry/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var aggregatorTracer = otel.Tracer("flakestry/search/aggregator")

// ReleaseLookup fetches release summaries by id. Ids that do not exist are
// left out of the result.
type ReleaseLookup interface {
	FetchByIDs(ctx context.Context, ids []flake.ReleaseID) ([]flake.ReleaseSummary, error)
}

// Result is a relevance-ordered search answer
type Result struct {
	Releases []flake.ReleaseSummary
	Count    int
	Query    string
}

// Aggregator answers free-text queries by ranking ids in the search index and
// loading the authoritative records from the release store
type Aggregator struct {
	index    RelevanceIndex
	releases ReleaseLookup
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAggregator creates a search aggregator. metrics may be nil.
func NewAggregator(index RelevanceIndex, releases ReleaseLookup, logger *observability.Logger, metrics *observability.Metrics) *Aggregator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Aggregator{
		index:    index,
		releases: releases,
		logger:   logger.WithField("component", "search"),
		metrics:  metrics,
	}
}

// Search returns the stored releases matching query, most relevant first.
// Index hits the store does not know about are dropped.
func (a *Aggregator) Search(ctx context.Context, query string) (*Result, error) {
	ctx, span := aggregatorTracer.Start(ctx, "Aggregator.Search",
		trace.WithAttributes(attribute.String("query", query)),
	)
	defer span.End()

	start := time.Now()

	hits, err := a.index.Search(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index search failed")
		a.metrics.ObserveSearch("index_error", start)
		return nil, err
	}

	scores := dedupeHits(hits)
	a.metrics.ObserveSearchHits(len(hits))
	span.SetAttributes(attribute.Int("hits", len(hits)), attribute.Int("distinct_hits", len(scores)))

	if len(scores) == 0 {
		a.metrics.ObserveSearch("empty", start)
		return &Result{Releases: []flake.ReleaseSummary{}, Query: query}, nil
	}

	rows, err := a.releases.FetchByIDs(ctx, sortedIDs(scores))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release lookup failed")
		a.metrics.ObserveSearch("storage_error", start)
		return nil, err
	}

	ranked, missing := rankReleases(rows, scores)
	if len(missing) > 0 {
		a.loggerFor(ctx).
			WithFields(map[string]interface{}{
				"query":       query,
				"missing_ids": missing,
			}).
			Debug("Dropped index hits missing from storage")
		a.metrics.ObserveDrift(len(missing))
	}

	span.SetAttributes(attribute.Int("returned", len(ranked)), attribute.Int("dropped", len(missing)))
	a.metrics.ObserveSearch("ok", start)

	return &Result{
		Releases: ranked,
		Count:    len(ranked),
		Query:    query,
	}, nil
}

func (a *Aggregator) loggerFor(ctx context.Context) *observability.Logger {
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		return a.logger.WithField("request_id", requestID)
	}
	return a.logger
}

// dedupeHits collapses hits by id, keeping the highest score for each
func dedupeHits(hits []flake.RelevanceHit) map[flake.ReleaseID]float64 {
	scores := make(map[flake.ReleaseID]float64, len(hits))
	for _, h := range hits {
		if prev, ok := scores[h.ID]; !ok || h.Score > prev {
			scores[h.ID] = h.Score
		}
	}
	return scores
}

func sortedIDs(scores map[flake.ReleaseID]float64) []flake.ReleaseID {
	ids := make([]flake.ReleaseID, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// rankReleases keeps one row per scored id and orders them by score
// descending, then id ascending. It also reports scored ids with no row.
func rankReleases(rows []flake.ReleaseSummary, scores map[flake.ReleaseID]float64) ([]flake.ReleaseSummary, []flake.ReleaseID) {
	ranked := make([]flake.ReleaseSummary, 0, len(rows))
	seen := make(map[flake.ReleaseID]struct{}, len(rows))
	for _, row := range rows {
		if _, scored := scores[row.ID]; !scored {
			continue
		}
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}
		ranked = append(ranked, row)
	}

	slices.SortStableFunc(ranked, func(x, y flake.ReleaseSummary) int {
		if c := cmpScore(scores[x.ID], scores[y.ID]); c != 0 {
			return c
		}
		return cmpID(x.ID, y.ID)
	})

	var missing []flake.ReleaseID
	if len(ranked) < len(scores) {
		for _, id := range sortedIDs(scores) {
			if _, ok := seen[id]; !ok {
				missing = append(missing, id)
			}
		}
	}

	return ranked, missing
}

// cmpScore orders higher scores first
func cmpScore(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

func cmpID(a, b flake.ReleaseID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
