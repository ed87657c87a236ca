// Package state persists per-table extraction state between runs (the
// watermark and the columns ever observed) and resolves each table's
// extraction window.
package state

import (
	"context"
	"time"
)

// TableState is the persisted state of one table.
type TableState struct {
	LastWatermark time.Time `json:"last_watermark"`
	KnownColumns  []string  `json:"known_columns"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Document is the full persisted state, keyed by output table name.
type Document struct {
	Tables map[string]TableState `json:"tables"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Tables: make(map[string]TableState)}
}

// Store persists state. SaveTable calls must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	SaveTable(ctx context.Context, table string, state TableState) error
	Close() error
}
