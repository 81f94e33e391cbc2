package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flakestry/flakestry/pkg/flake"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/storage"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("flakestry/storage/postgres")

const summaryColumns = `
	release.id, githubowner.name, githubrepo.name, release.version,
	release.description, release.created_at`

const detailColumns = summaryColumns + `,
	release.commit, release.readme, release.readme_filename,
	release.meta_data, release.meta_data_errors,
	release.outputs, release.outputs_errors`

const releaseJoin = `
	FROM release
	JOIN githubrepo ON githubrepo.id = release.repo_id
	JOIN githubowner ON githubowner.id = githubrepo.owner_id`

const (
	queryByIDs = `SELECT` + summaryColumns + releaseJoin + `
	WHERE release.id = ANY($1)`

	queryRecent = `SELECT` + summaryColumns + releaseJoin + `
	ORDER BY release.created_at DESC, release.id DESC
	LIMIT $1`

	queryByOwner = `SELECT` + summaryColumns + releaseJoin + `
	WHERE githubowner.name = $1
	ORDER BY release.created_at DESC, release.id DESC
	LIMIT $2`

	queryByOwnerAndRepo = `SELECT` + summaryColumns + releaseJoin + `
	WHERE githubowner.name = $1 AND githubrepo.name = $2
	ORDER BY release.created_at DESC, release.id DESC`

	queryOneVersion = `SELECT` + detailColumns + releaseJoin + `
	WHERE githubowner.name = $1 AND githubrepo.name = $2 AND release.version = $3
	ORDER BY release.created_at DESC
	LIMIT 1`
)

// ReleaseStore reads releases from PostgreSQL. Reads are routed to a replica
// when one is available.
type ReleaseStore struct {
	conns        *ConnectionManager
	queryTimeout time.Duration
	metrics      *observability.Metrics
}

var _ storage.ReleaseRepository = (*ReleaseStore)(nil)

// NewReleaseStore creates a store on top of a connection manager
func NewReleaseStore(conns *ConnectionManager, queryTimeout time.Duration, metrics *observability.Metrics) *ReleaseStore {
	if queryTimeout <= 0 {
		queryTimeout = storage.DefaultConfig().QueryTimeout
	}
	return &ReleaseStore{
		conns:        conns,
		queryTimeout: queryTimeout,
		metrics:      metrics,
	}
}

// FetchByIDs returns the summaries of the ids that exist. Order is unspecified.
func (s *ReleaseStore) FetchByIDs(ctx context.Context, ids []flake.ReleaseID) ([]flake.ReleaseSummary, error) {
	if len(ids) == 0 {
		return []flake.ReleaseSummary{}, nil
	}

	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}

	return s.listSummaries(ctx, "FetchByIDs", queryByIDs,
		[]attribute.KeyValue{attribute.Int("ids", len(ids))}, pq.Array(keys))
}

// FetchRecent returns the newest releases. A limit outside 1..DefaultRecentLimit
// is clamped to DefaultRecentLimit.
func (s *ReleaseStore) FetchRecent(ctx context.Context, limit int) ([]flake.ReleaseSummary, error) {
	if limit <= 0 || limit > storage.DefaultRecentLimit {
		limit = storage.DefaultRecentLimit
	}
	return s.listSummaries(ctx, "FetchRecent", queryRecent,
		[]attribute.KeyValue{attribute.Int("limit", limit)}, limit)
}

// FetchByOwner returns an owner's newest releases across all repositories
func (s *ReleaseStore) FetchByOwner(ctx context.Context, owner string) ([]flake.ReleaseSummary, error) {
	return s.listSummaries(ctx, "FetchByOwner", queryByOwner,
		[]attribute.KeyValue{attribute.String("owner", owner)}, owner, storage.DefaultRecentLimit)
}

// FetchByOwnerAndRepo returns every release of a repository, newest first
func (s *ReleaseStore) FetchByOwnerAndRepo(ctx context.Context, owner, repo string) ([]flake.ReleaseSummary, error) {
	return s.listSummaries(ctx, "FetchByOwnerAndRepo", queryByOwnerAndRepo,
		[]attribute.KeyValue{attribute.String("owner", owner), attribute.String("repo", repo)}, owner, repo)
}

// FetchOneVersion returns the full record of one release
func (s *ReleaseStore) FetchOneVersion(ctx context.Context, owner, repo, version string) (*flake.ReleaseDetail, error) {
	ctx, span := tracer.Start(ctx, "ReleaseStore.FetchOneVersion", trace.WithAttributes(
		attribute.String("owner", owner),
		attribute.String("repo", repo),
		attribute.String("version", version),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	detail, err := scanDetail(s.conns.Replica().QueryRowContext(ctx, queryOneVersion, owner, repo, version))
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.ObserveDependency("postgres", "FetchOneVersion", start, nil)
		return nil, fmt.Errorf("%w: %s/%s %s", flake.ErrNotFound, owner, repo, version)
	}
	s.metrics.ObserveDependency("postgres", "FetchOneVersion", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("%w: fetch %s/%s %s: %w", flake.ErrStorageUnavailable, owner, repo, version, err)
	}

	return detail, nil
}

// listSummaries runs a summary query under a span and the query timeout
func (s *ReleaseStore) listSummaries(ctx context.Context, op, query string, attrs []attribute.KeyValue, args ...interface{}) ([]flake.ReleaseSummary, error) {
	ctx, span := tracer.Start(ctx, "ReleaseStore."+op, trace.WithAttributes(attrs...))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	summaries, err := s.querySummaries(ctx, query, args...)
	s.metrics.ObserveDependency("postgres", op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("%w: %s: %w", flake.ErrStorageUnavailable, op, err)
	}

	span.SetAttributes(attribute.Int("rows", len(summaries)))
	return summaries, nil
}

func (s *ReleaseStore) querySummaries(ctx context.Context, query string, args ...interface{}) ([]flake.ReleaseSummary, error) {
	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]flake.ReleaseSummary, 0)
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (flake.ReleaseSummary, error) {
	var (
		summary     flake.ReleaseSummary
		id          int64
		description sql.NullString
		createdAt   time.Time
	)
	err := row.Scan(&id, &summary.Owner, &summary.Repo, &summary.Version, &description, &createdAt)
	if err != nil {
		return flake.ReleaseSummary{}, err
	}

	summary.ID = flake.ReleaseID(id)
	summary.Description = description.String
	summary.CreatedAt = flake.NewTimestamp(createdAt)
	return summary, nil
}

func scanDetail(row rowScanner) (*flake.ReleaseDetail, error) {
	var (
		detail         flake.ReleaseDetail
		id             int64
		description    sql.NullString
		createdAt      time.Time
		commit         sql.NullString
		readme         sql.NullString
		readmeFilename sql.NullString
		metaData       []byte
		metaDataErrors pq.StringArray
		outputs        []byte
		outputsErrors  pq.StringArray
	)
	err := row.Scan(
		&id, &detail.Owner, &detail.Repo, &detail.Version, &description, &createdAt,
		&commit, &readme, &readmeFilename,
		&metaData, &metaDataErrors,
		&outputs, &outputsErrors,
	)
	if err != nil {
		return nil, err
	}

	detail.ID = flake.ReleaseID(id)
	detail.Description = description.String
	detail.CreatedAt = flake.NewTimestamp(createdAt)
	detail.Commit = commit.String
	detail.Readme = readme.String
	detail.ReadmeFilename = readmeFilename.String
	detail.MetaData = rawJSON(metaData)
	detail.MetaDataErrors = []string(metaDataErrors)
	detail.Outputs = rawJSON(outputs)
	detail.OutputsErrors = []string(outputsErrors)
	return &detail, nil
}

// rawJSON copies a jsonb column; NULL stays nil so the field is omitted
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
