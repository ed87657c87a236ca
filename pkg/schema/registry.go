package schema

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

// ChangeHook is notified when a table's column set grows.
type ChangeHook func(table string, added []string)

// Registry holds one ColumnSet per table and is safe for concurrent use
// by tables extracted in parallel.
type Registry struct {
	mu       sync.RWMutex
	tables   map[string]*ColumnSet
	onChange []ChangeHook
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tables: make(map[string]*ColumnSet),
		logger: logger.With(zap.String("component", "schema_registry")),
	}
}

// OnChange registers a hook called synchronously for every schema change.
func (r *Registry) OnChange(hook ChangeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, hook)
}

// Seed adds previously persisted columns for table.
func (r *Registry) Seed(table string, columns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(table).Add(columns...)
}

// Observe folds row's columns into table's set and returns the new ones.
// Observing known columns is a no-op.
func (r *Registry) Observe(table string, row *models.Row) []string {
	r.mu.RLock()
	set, ok := r.tables[table]
	known := ok && containsAll(set, row.Keys())
	r.mu.RUnlock()
	if known {
		return nil
	}

	r.mu.Lock()
	added := r.set(table).Add(row.Keys()...)
	hooks := r.onChange
	r.mu.Unlock()

	if len(added) > 0 {
		r.logger.Debug("schema extended",
			zap.String("table", table),
			zap.Strings("columns", added))
		for _, hook := range hooks {
			hook(table, added)
		}
	}
	return added
}

// Columns returns table's columns in first-seen order.
func (r *Registry) Columns(table string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if set, ok := r.tables[table]; ok {
		return set.Columns()
	}
	return nil
}

// Fingerprint returns the fingerprint of table's columns.
func (r *Registry) Fingerprint(table string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if set, ok := r.tables[table]; ok {
		return set.Fingerprint()
	}
	return NewColumnSet().Fingerprint()
}

func (r *Registry) set(table string) *ColumnSet {
	set, ok := r.tables[table]
	if !ok {
		set = NewColumnSet()
		r.tables[table] = set
	}
	return set
}

func containsAll(set *ColumnSet, columns []string) bool {
	for _, c := range columns {
		if !set.Contains(c) {
			return false
		}
	}
	return true
}
