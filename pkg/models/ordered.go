package models

import (
	"bytes"

	"github.com/ajitpratap0/daktela-extractor/pkg/json"
)

// fields is an insertion-ordered string-keyed map shared by Record and Row.
type fields struct {
	keys   []string
	values map[string]interface{}
}

func newFields(capacity int) fields {
	return fields{
		keys:   make([]string, 0, capacity),
		values: make(map[string]interface{}, capacity),
	}
}

// Set stores value under key, keeping the original position of existing keys.
func (f *fields) Set(key string, value interface{}) {
	if f.values == nil {
		f.values = make(map[string]interface{})
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the value stored under key.
func (f *fields) Get(key string) (interface{}, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (f *fields) Keys() []string {
	return f.keys
}

// Len returns the number of keys.
func (f *fields) Len() int {
	return len(f.keys)
}

func (f *fields) clone() fields {
	c := newFields(len(f.keys))
	for _, k := range f.keys {
		c.keys = append(c.keys, k)
		c.values[k] = f.values[k]
	}
	return c
}

func (f *fields) marshal() ([]byte, error) {
	buf := json.GetBuffer()
	defer json.PutBuffer(buf)

	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return bytes.Clone(buf.Bytes()), nil
}
