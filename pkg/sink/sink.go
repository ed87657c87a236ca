// Package sink writes transformed rows to their destination. The CSV sink
// produces one file per table plus a manifest describing its schema; an
// uploading decorator can ship finalized files to object storage.
package sink

import (
	"context"

	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
)

// Target identifies the table a writer produces.
type Target struct {
	// Table is the output table name.
	Table string
	Spec  *models.TableSpec
}

// Result describes a finalized table.
type Result struct {
	Table        string
	DataPath     string
	ManifestPath string
	Rows         int64
}

// Sink opens one writer per table. Implementations must allow writers of
// different tables to be used concurrently.
type Sink interface {
	Open(ctx context.Context, target Target) (TableWriter, error)
}

// TableWriter receives a table's rows in batches. columns is the table's
// schema at the time of the call; it only ever grows between calls.
// Exactly one of Finalize or Abort ends the writer.
type TableWriter interface {
	WriteBatch(ctx context.Context, rows []*models.Row, columns []string) error
	Finalize(ctx context.Context, desc schema.Descriptor) (*Result, error)
	Abort() error
}
