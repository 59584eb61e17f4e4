package models

import (
	"encoding/json"
	"strings"
	"time"
)

// legacyLayouts are the timestamp formats found in older history files.
var legacyLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"20060102_150405",
}

// Timestamp is a time that decodes leniently from history files.
// Values that cannot be parsed decode to the zero time instead of failing.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

// ParseTimestamp tries each known layout in turn
func ParseTimestamp(s string) (Timestamp, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, false
	}
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NewTimestamp(t), true
		}
	}
	return Timestamp{}, false
}

// MarshalJSON writes RFC3339
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// UnmarshalJSON accepts strings in any legacy layout and unix seconds
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		*t = Timestamp{}
		return nil
	}
	switch v := raw.(type) {
	case string:
		parsed, _ := ParseTimestamp(v)
		*t = parsed
	case float64:
		*t = NewTimestamp(time.Unix(int64(v), 0))
	default:
		*t = Timestamp{}
	}
	return nil
}

// String formats the timestamp for display
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
