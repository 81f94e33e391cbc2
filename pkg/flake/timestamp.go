package flake

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the zone-less layout release timestamps are served in
const TimestampLayout = "2006-01-02T15:04:05.999999"

// Timestamp is a release creation time. The store keeps it without a zone, so
// it is encoded without one.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, truncated to the store's microsecond precision
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Microsecond)}
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.Format(TimestampLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.Parse("2006-01-02T15:04:05.999999999", s)
	if err != nil {
		// Fall back to zoned timestamps
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed
	return nil
}
