package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/flakestry/flakestry/pkg/flake"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var indexTracer = otel.Tracer("flakestry/search/index")

const (
	// DefaultIndexName is the index release documents are written to
	DefaultIndexName = "flakes"

	// MaxHits bounds the number of hits requested per query
	MaxHits = 10

	// DefaultIndexTimeout bounds a single index call
	DefaultIndexTimeout = 5 * time.Second
)

// searchFields are the document fields matched by a query, with boosts
var searchFields = []string{"description^2", "readme", "outputs", "repo^2", "owner^2"}

// RelevanceIndex returns release ids ordered by relevance to a query
type RelevanceIndex interface {
	Search(ctx context.Context, query string) ([]flake.RelevanceHit, error)
}

// OpenSearchIndex queries the release index of an OpenSearch cluster
type OpenSearchIndex struct {
	transport opensearchapi.Transport
	index     string
	timeout   time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewOpenSearchIndex creates an index client on top of an OpenSearch transport,
// usually an *opensearch.Client
func NewOpenSearchIndex(transport opensearchapi.Transport, index string, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *OpenSearchIndex {
	if index == "" {
		index = DefaultIndexName
	}
	if timeout <= 0 {
		timeout = DefaultIndexTimeout
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &OpenSearchIndex{
		transport: transport,
		index:     index,
		timeout:   timeout,
		logger:    logger.WithField("component", "opensearch"),
		metrics:   metrics,
	}
}

// Index returns the name of the queried index
func (o *OpenSearchIndex) Index() string {
	return o.index
}

// searchBody is the multi_match query sent for a free-text search
type searchBody struct {
	Query struct {
		MultiMatch struct {
			Query     string   `json:"query"`
			Fuzziness string   `json:"fuzziness"`
			Fields    []string `json:"fields"`
		} `json:"multi_match"`
	} `json:"query"`
}

func newSearchBody(query string) searchBody {
	var body searchBody
	body.Query.MultiMatch.Query = query
	body.Query.MultiMatch.Fuzziness = "AUTO"
	body.Query.MultiMatch.Fields = searchFields
	return body
}

// searchResponse keeps raw hit fields so their types can be checked
type searchResponse struct {
	Hits *struct {
		Hits *[]struct {
			ID    json.RawMessage `json:"_id"`
			Score json.RawMessage `json:"_score"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a fuzzy multi-field match and returns at most MaxHits hits in
// engine order. Any failure to get a well-formed answer is ErrIndexUnavailable.
func (o *OpenSearchIndex) Search(ctx context.Context, query string) ([]flake.RelevanceHit, error) {
	ctx, span := indexTracer.Start(ctx, "Index.Search",
		trace.WithAttributes(
			attribute.String("index", o.index),
			attribute.String("query", query),
		),
	)
	defer span.End()

	start := time.Now()
	hits, err := o.search(ctx, query)
	o.metrics.ObserveDependency("opensearch", "search", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index search failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

func (o *OpenSearchIndex) search(ctx context.Context, query string) ([]flake.RelevanceHit, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	payload, err := json.Marshal(newSearchBody(query))
	if err != nil {
		return nil, fmt.Errorf("%w: encode query: %w", flake.ErrIndexUnavailable, err)
	}

	size := MaxHits
	req := opensearchapi.SearchRequest{
		Index: []string{o.index},
		Body:  bytes.NewReader(payload),
		Size:  &size,
	}

	res, err := req.Do(ctx, o.transport)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %w", flake.ErrIndexUnavailable, o.index, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return nil, fmt.Errorf("%w: search %s: status %d", flake.ErrIndexUnavailable, o.index, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", flake.ErrIndexUnavailable, err)
	}

	return parseHits(body)
}

// parseHits extracts (id, score) pairs from a search response body
func parseHits(body []byte) ([]flake.RelevanceHit, error) {
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", flake.ErrIndexUnavailable, err)
	}
	if parsed.Hits == nil || parsed.Hits.Hits == nil {
		return nil, fmt.Errorf("%w: response has no hits array", flake.ErrIndexUnavailable)
	}

	raw := *parsed.Hits.Hits
	hits := make([]flake.RelevanceHit, 0, len(raw))
	for i, h := range raw {
		var docID string
		if err := json.Unmarshal(h.ID, &docID); err != nil {
			return nil, fmt.Errorf("%w: hit %d: _id is not a string", flake.ErrIndexUnavailable, i)
		}
		id, err := flake.ParseReleaseID(docID)
		if err != nil {
			return nil, fmt.Errorf("%w: hit %d: _id %q is not a release id", flake.ErrIndexUnavailable, i, docID)
		}

		var score *float64
		if err := json.Unmarshal(h.Score, &score); err != nil || score == nil {
			return nil, fmt.Errorf("%w: hit %d: _score is not a number", flake.ErrIndexUnavailable, i)
		}

		hits = append(hits, flake.RelevanceHit{ID: id, Score: *score})
	}

	return hits, nil
}

// Ping checks that the cluster answers
func (o *OpenSearchIndex) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := opensearchapi.PingRequest{}.Do(ctx, o.transport)
	if err != nil {
		return fmt.Errorf("%w: ping: %w", flake.ErrIndexUnavailable, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return fmt.Errorf("%w: ping: status %d", flake.ErrIndexUnavailable, res.StatusCode)
	}
	return nil
}

// EnsureIndex creates the release index when the cluster does not have it
func (o *OpenSearchIndex) EnsureIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := opensearchapi.IndicesExistsRequest{Index: []string{o.index}}.Do(ctx, o.transport)
	if err != nil {
		return fmt.Errorf("%w: check index %s: %w", flake.ErrIndexUnavailable, o.index, err)
	}
	closeBody(res)

	switch {
	case res.StatusCode == 200:
		return nil
	case res.StatusCode != 404:
		return fmt.Errorf("%w: check index %s: status %d", flake.ErrIndexUnavailable, o.index, res.StatusCode)
	}

	o.logger.Infof("Creating missing index %s", o.index)

	res, err = opensearchapi.IndicesCreateRequest{
		Index: o.index,
		Body:  strings.NewReader("{}"),
	}.Do(ctx, o.transport)
	if err != nil {
		return fmt.Errorf("%w: create index %s: %w", flake.ErrIndexUnavailable, o.index, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return fmt.Errorf("%w: create index %s: status %d", flake.ErrIndexUnavailable, o.index, res.StatusCode)
	}
	return nil
}

func closeBody(res *opensearchapi.Response) {
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
}
