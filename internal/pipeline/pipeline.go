// Package pipeline streams one table from its page sequence to a sink
// writer: records are transformed, folded into the table schema and handed
// to the writer in batches, so memory is bounded by one batch.
package pipeline

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/sink"
	stringsutil "github.com/ajitpratap0/daktela-extractor/pkg/strings"
)

// Transformer converts a raw record into output rows.
type Transformer interface {
	Transform(rec *models.Record, spec *models.TableSpec) ([]*models.Row, error)
}

// SchemaTracker owns the per-table column sets.
type SchemaTracker interface {
	Observe(table string, row *models.Row) []string
	Columns(table string) []string
}

// Config contains pipeline settings.
type Config struct {
	// BatchSize is the number of rows per WriteBatch call.
	BatchSize int
	// CollectColumns lists output columns whose distinct values are
	// gathered while streaming, e.g. parent keys for dependent tables.
	CollectColumns []string
}

// Stats summarizes a pipeline run.
type Stats struct {
	Pages    int64
	Records  int64
	Rows     int64
	Duration time.Duration
	// Collected holds the distinct values of each CollectColumns entry in
	// first-seen order.
	Collected map[string][]string
}

// TablePipeline moves one table's data from pages to a writer.
type TablePipeline struct {
	spec        *models.TableSpec
	table       string
	transformer Transformer
	tracker     SchemaTracker
	writer      sink.TableWriter
	config      Config
	logger      *zap.Logger
}

// New creates a pipeline for spec writing under the output name table.
func New(spec *models.TableSpec, table string, transformer Transformer, tracker SchemaTracker,
	writer sink.TableWriter, config Config, logger *zap.Logger) *TablePipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TablePipeline{
		spec:        spec,
		table:       table,
		transformer: transformer,
		tracker:     tracker,
		writer:      writer,
		config:      config,
		logger:      logger,
	}
}

// Run drains pages. Rows reach the writer in page order, then record and
// explosion order. The first page or transformation error stops the run;
// the caller decides whether to abort the writer.
func (p *TablePipeline) Run(ctx context.Context, pages iter.Seq2[*models.Page, error]) (Stats, error) {
	start := time.Now()
	stats := Stats{Collected: make(map[string][]string, len(p.config.CollectColumns))}
	seen := make(map[string]map[string]struct{}, len(p.config.CollectColumns))
	for _, c := range p.config.CollectColumns {
		seen[c] = make(map[string]struct{})
	}

	batch := make([]*models.Row, 0, p.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.WriteBatch(ctx, batch, p.tracker.Columns(p.table)); err != nil {
			return err
		}
		stats.Rows += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for page, err := range pages {
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		stats.Pages++
		stats.Records += int64(len(page.Records))

		for _, rec := range page.Records {
			rows, err := p.transformer.Transform(rec, p.spec)
			if err != nil {
				stats.Duration = time.Since(start)
				return stats, err
			}
			for _, row := range rows {
				p.tracker.Observe(p.table, row)
				p.collect(row, stats.Collected, seen)
				batch = append(batch, row)
				if len(batch) >= p.config.BatchSize {
					if err := flush(); err != nil {
						stats.Duration = time.Since(start)
						return stats, err
					}
				}
			}
		}
	}

	err := flush()
	stats.Duration = time.Since(start)
	if err == nil {
		p.logger.Debug("table streamed",
			zap.String("table", p.table),
			zap.Int64("pages", stats.Pages),
			zap.Int64("records", stats.Records),
			zap.Int64("rows", stats.Rows))
	}
	return stats, err
}

func (p *TablePipeline) collect(row *models.Row, out map[string][]string, seen map[string]map[string]struct{}) {
	for _, c := range p.config.CollectColumns {
		v := row.Value(c)
		if v == nil {
			continue
		}
		s := stringsutil.ValueToString(v)
		if s == "" {
			continue
		}
		if _, dup := seen[c][s]; dup {
			continue
		}
		seen[c][s] = struct{}{}
		out[c] = append(out[c], s)
	}
}
