package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PrefValue is a Firefox profile preference value: a JSON scalar (bool,
// number, or string). Null, arrays, and objects are rejected at parse
// time. The original text representation is preserved byte-for-byte
// rather than round-tripped through a Go numeric type, so that e.g. a
// wire value of 0.0 is not collapsed into 0 before it reaches user.js.
type PrefValue struct {
	raw json.RawMessage
}

// NewStringPref builds a PrefValue from a Go string.
func NewStringPref(s string) PrefValue {
	b, _ := json.Marshal(s)
	return PrefValue{raw: b}
}

// NewBoolPref builds a PrefValue from a Go bool.
func NewBoolPref(b bool) PrefValue {
	if b {
		return PrefValue{raw: json.RawMessage("true")}
	}
	return PrefValue{raw: json.RawMessage("false")}
}

// NewIntPref builds a PrefValue holding a bare integer literal, e.g. 1
// or -1, with no decimal point.
func NewIntPref(i int64) PrefValue {
	return PrefValue{raw: json.RawMessage(strconv.FormatInt(i, 10))}
}

// NewFloatPref builds a PrefValue holding a float literal. Whole-number
// floats keep an explicit ".0" suffix (so 0 becomes "0.0"), matching how
// a float-typed JSON number renders in the original protocol.
func NewFloatPref(f float64) PrefValue {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return PrefValue{raw: json.RawMessage(s)}
}

// String returns the canonical JSON encoding of the value, as written
// into user.js.
func (p PrefValue) String() string { return string(p.raw) }

// MarshalJSON implements json.Marshaler.
func (p PrefValue) MarshalJSON() ([]byte, error) {
	if p.raw == nil {
		return nil, fmt.Errorf("proto: empty pref value")
	}
	return p.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler, rejecting null, arrays, and
// objects while preserving the original scalar's literal text.
func (p *PrefValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("proto: parse pref value: %w", err)
	}

	switch v.(type) {
	case bool, json.Number, string:
		p.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
		return nil
	case nil:
		return fmt.Errorf("proto: pref values cannot be null")
	default:
		return fmt.Errorf("proto: pref values must be a bool, number, or string")
	}
}

// WriteUserJS appends one "pref(KEY, VALUE);" line per entry to the
// user.js file at path, creating it if it doesn't already exist.
// Existing contents are preserved.
func WriteUserJS(path string, entries []PrefEntry) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("proto: open %s: %w", path, err)
	}
	defer f.Close()

	for _, e := range entries {
		keyJSON, err := json.Marshal(e.Key)
		if err != nil {
			return fmt.Errorf("proto: encode pref key %q: %w", e.Key, err)
		}
		if _, err := fmt.Fprintf(f, "pref(%s, %s);\n", keyJSON, e.Value.String()); err != nil {
			return fmt.Errorf("proto: write pref %s: %w", e.Key, err)
		}
	}
	return nil
}

// ParseUserJS reads a user.js file and extracts the pref("KEY", VALUE);
// lines written by WriteUserJS, in order, ignoring any other content.
// Used by tests to verify the prefs round-trip property from spec.md §8.
func ParseUserJS(path string) ([]PrefEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("proto: read %s: %w", path, err)
	}

	var entries []PrefEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, `pref(`) || !strings.HasSuffix(line, ");") {
			continue
		}

		body := strings.TrimSuffix(strings.TrimPrefix(line, "pref("), ");")
		idx := strings.Index(body, ", ")
		if idx < 0 {
			return nil, fmt.Errorf("proto: malformed pref line: %s", line)
		}

		var key string
		if err := json.Unmarshal([]byte(body[:idx]), &key); err != nil {
			return nil, fmt.Errorf("proto: malformed pref key in line %q: %w", line, err)
		}

		var value PrefValue
		if err := value.UnmarshalJSON([]byte(body[idx+2:])); err != nil {
			return nil, fmt.Errorf("proto: malformed pref value in line %q: %w", line, err)
		}

		entries = append(entries, PrefEntry{Key: key, Value: value})
	}
	return entries, nil
}

// ParsePref parses a "key:value" command-line argument into a PrefEntry,
// where value is a JSON scalar (e.g. true, 42, "text"). Restored from
// the original fxrecorder CLI's --pref syntax; spec.md specifies only
// the wire and user.js encodings, not how a human supplies a pref on the
// command line.
func ParsePref(s string) (PrefEntry, error) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return PrefEntry{}, fmt.Errorf("proto: pref %q: expected a ':' separating key from value", s)
	}

	key := s[:idx]
	var value PrefValue
	if err := json.Unmarshal([]byte(s[idx+1:]), &value); err != nil {
		return PrefEntry{}, fmt.Errorf("proto: pref %q: %w", s, err)
	}
	return PrefEntry{Key: key, Value: value}, nil
}
