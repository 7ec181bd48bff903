package endata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Well-known record fields used by the reduced projection.
const (
	// FieldID is the cinema identifier.
	FieldID = "CinemaID"

	// FieldName is the cinema display name.
	FieldName = "CinemaName"

	// FieldCode is the national registration code.
	FieldCode = "ZZID"
)

// statusOK marks a successful lookup in the response envelope.
const statusOK = 1

// Record is one row returned by the registry: an open mapping of field name
// to scalar/nullable value. The wire order of fields is preserved so that
// artifact columns come out deterministic across runs.
type Record struct {
	names  []string
	values map[string]any
}

// NewRecord returns an empty record. Fields keep the order they are Set in.
func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// Set stores a field value, appending the name on first sight.
func (r *Record) Set(name string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, seen := r.values[name]; !seen {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Get returns a field value and whether the field exists.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Fields returns the field names in wire order.
func (r *Record) Fields() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.names)
}

// ID returns the cinema identifier, coercing the JSON representation
// (number or string) to int64.
func (r *Record) ID() (int64, bool) {
	v, ok := r.values[FieldID]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

// DisplayName returns the cinema display name, or "" when absent.
func (r *Record) DisplayName() string {
	return stringify(r.values[FieldName])
}

// Code returns the registration code, or "" when absent.
func (r *Record) Code() string {
	return stringify(r.values[FieldCode])
}

// stringify renders a scalar JSON value the way it would appear in a cell.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		// Codes sometimes arrive as numbers; render integral values
		// without an exponent or trailing zeros.
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

// UnmarshalJSON decodes a JSON object while keeping its key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record: expected JSON object, got %v", tok)
	}

	r.names = nil
	r.values = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("record: expected field name, got %v", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("record field %q: %w", key, err)
		}
		r.Set(key, value)
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}

// MarshalJSON encodes the record with fields in wire order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[name])
		if err != nil {
			return nil, fmt.Errorf("record field %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// envelope is the registry's response wrapper.
type envelope struct {
	Status int `json:"status"`
	Data   struct {
		Table0 []Record `json:"table0"`
	} `json:"data"`
}

// parseLookup interprets one response body. A malformed body yields a
// decode-class LookupError; a well-formed body without a usable row yields
// ErrNoRecord.
func parseLookup(body []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &LookupError{
			Class:   ErrorClassDecode,
			Message: "malformed response body",
			Err:     err,
		}
	}
	if env.Status != statusOK || len(env.Data.Table0) == 0 {
		return nil, ErrNoRecord
	}
	return &env.Data.Table0[0], nil
}
