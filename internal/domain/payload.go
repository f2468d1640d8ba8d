package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Payload is one raw key-value document observation as delivered by an
// upstream origin. Values are loosely shaped; accessors below normalize them.
type Payload map[string]any

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"20060102",
}

// String returns the trimmed string form of a key, or "" when absent.
func (p Payload) String(key string) string {
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	case float64:
		// JSON decoding yields float64 for numeric document numbers.
		if typed == float64(int64(typed)) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", typed))
	}
}

// Time parses a key as a timestamp. The second return reports whether the key
// held a value that could not be parsed; absence is not an error.
func (p Payload) Time(key string) (*time.Time, bool) {
	value, ok := p[key]
	if !ok || value == nil {
		return nil, false
	}
	if ts, isTime := value.(time.Time); isTime {
		return &ts, false
	}
	raw := p.String(key)
	if raw == "" {
		return nil, false
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return nil, true
	}
	return &ts, false
}

// Float parses a key as a float64, tolerating decimal-comma spellings.
func (p Payload) Float(key string) float64 {
	raw := p.String(key)
	if raw == "" {
		return 0
	}
	raw = strings.ReplaceAll(raw, ",", ".")
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// ParseTimestamp attempts each known upstream timestamp layout in order.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", raw)
}
