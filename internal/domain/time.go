package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time is a timestamp that decodes leniently: RFC 3339, a naive date-time or a
// bare date. Null decodes to the zero value. Unparseable input also decodes to
// the zero value but sets Invalid, so a garbage date can be told apart from a
// missing one. Both encode back as null.
type Time struct {
	time.Time
	Invalid bool `json:"-"`
}

func NewTime(t time.Time) Time { return Time{Time: t} }

// ParseTime parses raw with the accepted layouts; ok is false when none match.
func ParseTime(raw string) (Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Time{}, false
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return Time{Time: parsed}, true
		}
	}
	return Time{}, false
}

// Ptr returns nil for the zero time, for nullable columns.
func (t Time) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}

// Present reports whether a value was supplied at all, parseable or not.
func (t Time) Present() bool {
	return t.Invalid || !t.IsZero()
}

func (t *Time) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		*t = Time{Invalid: true}
		return nil
	}
	if strings.TrimSpace(raw) == "" {
		*t = Time{}
		return nil
	}
	parsed, ok := ParseTime(raw)
	*t = Time{Time: parsed.Time, Invalid: !ok}
	return nil
}
