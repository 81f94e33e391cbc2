package flake

import (
	"encoding/json"
	"strconv"
)

// ReleaseID is the surrogate key assigned to a release by the relational store.
// It is the join key between the search index and the store.
type ReleaseID int64

// String returns the decimal form used as the search document id
func (id ReleaseID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseReleaseID parses a search document id
func ParseReleaseID(s string) (ReleaseID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ReleaseID(v), nil
}

// RelevanceHit pairs a release id with the score the search index assigned it
type RelevanceHit struct {
	ID    ReleaseID
	Score float64
}

// ReleaseSummary is the listing form of a release
type ReleaseSummary struct {
	ID          ReleaseID `json:"-"`
	Owner       string    `json:"owner"`
	Repo        string    `json:"repo"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	CreatedAt   Timestamp `json:"created_at"`
}

// ReleaseDetail is the full record of a single release version
type ReleaseDetail struct {
	ReleaseSummary

	Commit         string          `json:"commit,omitempty"`
	Readme         string          `json:"readme,omitempty"`
	ReadmeFilename string          `json:"readme_filename,omitempty"`
	MetaData       json.RawMessage `json:"meta_data,omitempty"`
	MetaDataErrors []string        `json:"meta_data_errors,omitempty"`
	Outputs        json.RawMessage `json:"outputs,omitempty"`
	OutputsErrors  []string        `json:"outputs_errors,omitempty"`
}

// cachedSummary mirrors ReleaseSummary but keeps the id, for cache storage
type cachedSummary struct {
	ID ReleaseID `json:"id"`
	ReleaseSummary
}

// MarshalCached encodes a summary including its id
func (s ReleaseSummary) MarshalCached() ([]byte, error) {
	return json.Marshal(cachedSummary{ID: s.ID, ReleaseSummary: s})
}

// UnmarshalCachedSummary decodes a summary written by MarshalCached
func UnmarshalCachedSummary(data []byte) (ReleaseSummary, error) {
	var c cachedSummary
	if err := json.Unmarshal(data, &c); err != nil {
		return ReleaseSummary{}, err
	}
	c.ReleaseSummary.ID = c.ID
	return c.ReleaseSummary, nil
}

// cachedDetail mirrors ReleaseDetail but keeps the id
type cachedDetail struct {
	ID ReleaseID `json:"id"`
	ReleaseDetail
}

// MarshalCached encodes a detail including its id
func (d ReleaseDetail) MarshalCached() ([]byte, error) {
	return json.Marshal(cachedDetail{ID: d.ID, ReleaseDetail: d})
}

// UnmarshalCachedDetail decodes a detail written by MarshalCached
func UnmarshalCachedDetail(data []byte) (*ReleaseDetail, error) {
	var c cachedDetail
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.ReleaseDetail.ID = c.ID
	return &c.ReleaseDetail, nil
}
