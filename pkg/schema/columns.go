// Package schema tracks the columns observed for each output table and
// builds the descriptor written next to every output file.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

// ColumnSet is an insertion-ordered, append-only set of column names.
// It is not safe for concurrent use; Registry guards shared sets.
type ColumnSet struct {
	columns []string
	index   map[string]struct{}
}

// NewColumnSet creates a set holding columns in order, ignoring duplicates.
func NewColumnSet(columns ...string) *ColumnSet {
	s := &ColumnSet{index: make(map[string]struct{}, len(columns))}
	s.Add(columns...)
	return s
}

// Add appends unknown columns and returns those that were new.
func (s *ColumnSet) Add(columns ...string) []string {
	var added []string
	for _, c := range columns {
		if _, ok := s.index[c]; ok {
			continue
		}
		s.index[c] = struct{}{}
		s.columns = append(s.columns, c)
		added = append(added, c)
	}
	return added
}

// Contains reports whether column is known.
func (s *ColumnSet) Contains(column string) bool {
	_, ok := s.index[column]
	return ok
}

// Columns returns a copy of the columns in order.
func (s *ColumnSet) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Len returns the number of columns.
func (s *ColumnSet) Len() int {
	return len(s.columns)
}

// Fingerprint identifies the ordered column list.
func (s *ColumnSet) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join(s.columns, "\x00")))
	return hex.EncodeToString(sum[:8])
}

// Descriptor is the manifest accompanying a table's output.
type Descriptor struct {
	Columns     []string `json:"columns"`
	PrimaryKey  []string `json:"primary_key"`
	Incremental bool     `json:"incremental"`
}

// NewDescriptor describes spec's output with the given final columns.
func NewDescriptor(columns []string, spec *models.TableSpec, incremental bool) Descriptor {
	return Descriptor{
		Columns:     append([]string(nil), columns...),
		PrimaryKey:  append([]string(nil), spec.ManifestPrimaryKey()...),
		Incremental: incremental,
	}
}
