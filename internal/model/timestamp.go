package model

import (
	"fmt"
	"strings"
	"time"
)

// wireLayout is the canonical wire format: ISO-8601 with fractional seconds.
const wireLayout = "2006-01-02T15:04:05.999999Z07:00"

// Timestamp wraps time.Time with the backend's wire encoding. The backend
// emits ISO-8601 with microsecond precision and is inconsistent about the
// UTC designator, so decoding accepts "Z", an explicit offset, or nothing.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp in UTC.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// At wraps an existing time.Time.
func At(t time.Time) Timestamp {
	return Timestamp{t}
}

// MarshalJSON encodes the canonical wire format.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(wireLayout) + `"`), nil
}

// UnmarshalJSON decodes a quoted ISO-8601 string, tolerating the
// backend's casing of the UTC suffix.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty timestamp")
	}
	parsed, err := ParseWireTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseWireTime parses a backend timestamp string. Strings without a zone
// suffix are treated as UTC.
func ParseWireTime(s string) (time.Time, error) {
	layouts := []string{
		wireLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
