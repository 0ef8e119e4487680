package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("dataset file not found")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
)

// MissingFieldError reports a record that lacks a required field.
type MissingFieldError struct {
	Field string
	Index int
}

func (e *MissingFieldError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("missing field %q", e.Field)
	}
	return fmt.Sprintf("record %d: missing field %q", e.Index, e.Field)
}

// Record is an ordered field-name to JSON-value mapping. Field order is kept
// from the source document and new fields are appended.
type Record struct {
	keys   []string
	values map[string]json.RawMessage
}

func New() Record {
	return Record{values: map[string]json.RawMessage{}}
}

// FromStrings builds a record from alternating key, value pairs.
func FromStrings(kv ...string) Record {
	r := New()
	for i := 0; i+1 < len(kv); i += 2 {
		r.SetString(kv[i], kv[i+1])
	}
	return r
}

func (r Record) Len() int { return len(r.keys) }

func (r Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

func (r Record) Get(key string) (json.RawMessage, bool) {
	v, ok := r.values[key]
	return v, ok
}

// String returns the field as text. Non-string JSON values are returned in
// their encoded form.
func (r Record) String(key string) (string, bool) {
	raw, ok := r.values[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), true
	}
	return s, true
}

// Decode unmarshals the field into v.
func (r Record) Decode(key string, v any) error {
	raw, ok := r.values[key]
	if !ok {
		return &MissingFieldError{Field: key, Index: -1}
	}
	return json.Unmarshal(raw, v)
}

func (r *Record) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode field %q: %w", key, err)
	}
	r.setRaw(key, raw)
	return nil
}

func (r *Record) SetString(key, value string) {
	raw, _ := json.Marshal(value)
	r.setRaw(key, raw)
}

func (r *Record) setRaw(key string, raw json.RawMessage) {
	if r.values == nil {
		r.values = map[string]json.RawMessage{}
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = raw
}

func (r Record) Clone() Record {
	c := Record{
		keys:   append([]string(nil), r.keys...),
		values: make(map[string]json.RawMessage, len(r.values)),
	}
	for k, v := range r.values {
		c.values[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// Project keeps only the named fields, in the given order. Absent fields are skipped.
func (r Record) Project(keys ...string) Record {
	p := New()
	for _, k := range keys {
		if v, ok := r.values[k]; ok {
			p.setRaw(k, v)
		}
	}
	return p
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(r.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record must be a JSON object, got %v", tok)
	}

	*r = New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		r.setRaw(key, raw)
	}
	_, err = dec.Token()
	return err
}

// Dataset is an ordered sequence of records.
type Dataset []Record

// Texts returns the key field of every record, failing on the first record without it.
func (d Dataset) Texts(key string) ([]string, error) {
	out := make([]string, 0, len(d))
	for i, r := range d {
		s, ok := r.String(key)
		if !ok {
			return nil, &MissingFieldError{Field: key, Index: i}
		}
		out = append(out, s)
	}
	return out, nil
}

// Merge concatenates datasets, projecting every record to keys when any are given.
func Merge(keys []string, datasets ...Dataset) Dataset {
	var out Dataset
	for _, ds := range datasets {
		for _, r := range ds {
			if len(keys) > 0 {
				out = append(out, r.Project(keys...))
			} else {
				out = append(out, r.Clone())
			}
		}
	}
	return out
}
