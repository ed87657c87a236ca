package state

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
)

// WindowConfig carries the configured date range of a run.
type WindowConfig struct {
	DateFrom    string
	DateTo      string
	Incremental bool
}

// Tracker is the single owner of schema and watermark state during a run.
// It is safe for concurrent use by tables extracted in parallel.
type Tracker struct {
	store    Store
	registry *schema.Registry
	start    time.Time
	logger   *zap.Logger

	mu  sync.RWMutex
	doc *Document
}

// NewTracker loads persisted state and seeds the schema registry with the
// columns known from earlier runs. start is the run's reference instant
// for relative date expressions.
func NewTracker(ctx context.Context, store Store, registry *schema.Registry, start time.Time, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	doc, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	for table, st := range doc.Tables {
		registry.Seed(table, st.KnownColumns)
	}
	logger.Info("loaded extraction state", zap.Int("tables", len(doc.Tables)))
	t := &Tracker{
		store:    store,
		registry: registry,
		start:    start,
		logger:   logger.With(zap.String("component", "state_tracker")),
		doc:      doc,
	}
	registry.OnChange(t.schemaExtended)
	return t, nil
}

func (t *Tracker) schemaExtended(table string, added []string) {
	t.logger.Info("table schema extended",
		zap.String("table", table),
		zap.Strings("added", added),
		zap.Int("columns", len(t.registry.Columns(table))))
}

// Start returns the run's reference instant.
func (t *Tracker) Start() time.Time {
	return t.start
}

// Observe folds row's columns into table's schema and returns the columns
// seen for the first time.
func (t *Tracker) Observe(table string, row *models.Row) []string {
	return t.registry.Observe(table, row)
}

// Columns returns every column known for table, persisted ones first.
func (t *Tracker) Columns(table string) []string {
	return t.registry.Columns(table)
}

// Watermark returns the last committed watermark of table.
func (t *Tracker) Watermark(table string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.doc.Tables[table]
	if !ok || st.LastWatermark.IsZero() {
		return time.Time{}, false
	}
	return st.LastWatermark, true
}

// ResolveWindow computes table's extraction window. In incremental mode
// without an explicit lower bound, the window starts at the last
// watermark.
func (t *Tracker) ResolveWindow(table string, cfg WindowConfig) (models.Window, error) {
	var w models.Window

	switch {
	case cfg.DateFrom != "":
		from, err := ParseDate(cfg.DateFrom, t.start)
		if err != nil {
			return w, err
		}
		w.From = from
	default:
		if wm, ok := t.Watermark(table); ok && cfg.Incremental {
			w.From = wm
			break
		}
		from, err := ParseDate(DefaultDateFrom, t.start)
		if err != nil {
			return w, err
		}
		w.From = from
	}

	if cfg.DateTo == "" {
		w.To = t.start
		w.OpenEnded = true
	} else {
		to, err := ParseDate(cfg.DateTo, t.start)
		if err != nil {
			return w, err
		}
		w.To = to
	}
	return w, nil
}

// Commit persists table's columns and advances its watermark to the
// window's upper bound. It must only be called after the table was
// extracted completely.
func (t *Tracker) Commit(ctx context.Context, table string, window models.Window) error {
	st := TableState{
		LastWatermark: window.Watermark(),
		KnownColumns:  t.registry.Columns(table),
		LastUpdated:   time.Now().UTC(),
	}
	if err := t.store.SaveTable(ctx, table, st); err != nil {
		return err
	}

	t.mu.Lock()
	t.doc.Tables[table] = st
	t.mu.Unlock()

	t.logger.Info("committed table state",
		zap.String("table", table),
		zap.Time("watermark", st.LastWatermark),
		zap.Int("columns", len(st.KnownColumns)),
		zap.String("schema_fingerprint", t.registry.Fingerprint(table)))
	return nil
}
