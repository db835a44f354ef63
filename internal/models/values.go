package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Number is a nullable float that tolerates the shapes the survey API
// produces: JSON numbers, numeric strings (Postgres NUMERIC columns),
// null and empty strings.
type Number struct {
	Float64 float64
	Valid   bool
}

// NewNumber returns a valid Number.
func NewNumber(v float64) Number {
	return Number{Float64: v, Valid: true}
}

// Or returns the value, or def when the number is null.
func (n Number) Or(def float64) float64 {
	if !n.Valid {
		return def
	}
	return n.Float64
}

// Ptr returns a pointer to the value, or nil when null.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// Unparseable strings count as missing, not as a decode failure.
			return nil
		}
		*n = NewNumber(v)
		return nil
	case '{', '[', 't', 'f':
		return fmt.Errorf("number: unexpected JSON value %s", data)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("number: %w", err)
	}
	*n = NewNumber(v)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

// timestampLayouts covers the formats the backend emits: RFC 3339 with
// offset, naive Postgres timestamps, and plain dates.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// Timestamp is a nullable time decoded from any of the backend's formats.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// ParseTimestamp parses s with the backend layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t, Valid: true}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("parse timestamp %q: unknown format", s)
}

// Date returns the calendar date portion in YYYY-MM-DD form.
func (t Timestamp) Date() string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format("2006-01-02")
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Divisions is a list of transverse offsets in metres from the centreline.
// Some rows store the list as a JSON-encoded string; both shapes decode.
type Divisions []float64

func (d *Divisions) UnmarshalJSON(data []byte) error {
	*d = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		data = []byte(s)
	}
	var nums []Number
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("divisions: %w", err)
	}
	out := make(Divisions, 0, len(nums))
	for _, n := range nums {
		if n.Valid {
			out = append(out, n.Float64)
		}
	}
	*d = out
	return nil
}
