// Package models holds the data carried between the extractor's stages:
// raw API records, pages, transformed rows and the static table catalog.
package models

import (
	"bytes"
	"fmt"

	"github.com/ajitpratap0/daktela-extractor/pkg/json"
)

// Record is one raw object returned by the API. Key order follows the
// response body; nested objects decode to *Record, arrays to []interface{},
// numbers to json.Number.
type Record struct {
	fields
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{fields: newFields(16)}
}

// RecordFrom builds a record from alternating key/value arguments. It is
// mainly useful in tests.
func RecordFrom(kv ...interface{}) *Record {
	r := NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

// Clone returns a shallow copy.
func (r *Record) Clone() *Record {
	return &Record{fields: r.clone()}
}

// MarshalJSON encodes the record preserving key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	return r.marshal()
}

// UnmarshalJSON decodes an object preserving key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	r.fields = newFields(16)
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	return r.decodeObject(dec)
}

func (r *Record) decodeObject(dec *json.Decoder) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected key, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return fmt.Errorf("record: field %q: %w", key, err)
		}
		r.Set(key, val)
	}
	// closing brace
	_, err := dec.Token()
	return err
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		nested := NewRecord()
		if err := nested.decodeObject(dec); err != nil {
			return nil, err
		}
		return nested, nil
	case '[':
		items := make([]interface{}, 0)
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", d)
	}
}
