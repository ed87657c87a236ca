// Package transform converts raw API records into output rows.
//
// A record passes through these steps, in order:
//
//  1. allowlist selection (key fields are always kept)
//  2. nested object flattening (two levels, joined with "_") and value
//     cleaning: HTML tags are stripped, blank strings become null
//  3. list-of-object columns expand into column_index_subkey columns
//  4. list columns explode into one row per element (Cartesian product
//     across columns, in declaration order)
//  5. the compound id is built from primary then secondary key values
//  6. configured columns get the server name prefix
//  7. the server column is injected
//
// Column names are normalized to lowercase [a-z0-9_]. Output column order
// is server, id, then the record's own field order.
package transform

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	stringsutil "github.com/ajitpratap0/daktela-extractor/pkg/strings"
)

const (
	// ServerColumn holds the instance name on every row.
	ServerColumn = "server"
	// IDColumn holds the compound key.
	IDColumn = "id"
	// KeySeparator joins compound key parts.
	KeySeparator = "_"

	maxFlattenDepth = 2
)

// Transformer is stateless and safe for concurrent use.
type Transformer struct {
	server string
}

// New creates a transformer for the given server (instance) name.
func New(server string) *Transformer {
	return &Transformer{server: server}
}

// Server returns the server name injected into rows.
func (t *Transformer) Server() string {
	return t.server
}

// Transform converts one record into one or more rows. It fails with a
// transformation error when a key field is missing or list-of-object
// columns have different lengths.
func (t *Transformer) Transform(rec *models.Record, spec *models.TableSpec) ([]*models.Row, error) {
	if rec == nil {
		return nil, errors.Transformation(spec.Name, "", "null record")
	}
	base, err := t.flatten(rec, spec)
	if err != nil {
		return nil, err
	}

	rows := explode(base, spec)

	out := make([]*models.Row, 0, len(rows))
	for _, row := range rows {
		id, err := compoundID(row, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, t.finish(row, id, spec))
	}
	return out, nil
}

// flatten applies steps 1 to 3. List columns keep their raw value for
// explosion.
func (t *Transformer) flatten(rec *models.Record, spec *models.TableSpec) (*models.Row, error) {
	if err := checkAlignment(rec, spec); err != nil {
		return nil, err
	}

	allowed := allowlist(spec)
	row := models.NewRow(rec.Len() + 2)
	for _, key := range rec.Keys() {
		if allowed != nil && !allowed[key] {
			continue
		}
		value, _ := rec.Get(key)
		column := stringsutil.NormalizeHeader(key)

		switch {
		case contains(spec.ListOfDictsColumns, key):
			expandListOfObjects(row, column, value)
		case contains(spec.ListColumns, key):
			row.Set(column, value)
		default:
			flattenValue(row, column, value, 0)
		}
	}
	return row, nil
}

func allowlist(spec *models.TableSpec) map[string]bool {
	if len(spec.Fields) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(spec.Fields)+len(spec.PrimaryKeys)+len(spec.SecondaryKeys))
	for _, group := range [][]string{spec.Fields, spec.PrimaryKeys, spec.SecondaryKeys} {
		for _, f := range group {
			allowed[f] = true
		}
	}
	return allowed
}

// checkAlignment requires every list-of-object column present in rec to
// hold the same number of elements.
func checkAlignment(rec *models.Record, spec *models.TableSpec) error {
	expected, first := -1, ""
	for _, col := range spec.ListOfDictsColumns {
		value, ok := rec.Get(col)
		if !ok {
			continue
		}
		items, ok := value.([]interface{})
		if !ok {
			continue
		}
		if expected < 0 {
			expected, first = len(items), col
			continue
		}
		if len(items) != expected {
			return errors.Transformation(spec.Name, col,
				"list length "+strconv.Itoa(len(items))+" does not match "+first+" length "+strconv.Itoa(expected))
		}
	}
	return nil
}

func flattenValue(row *models.Row, column string, value interface{}, depth int) {
	if nested, ok := value.(*models.Record); ok && depth < maxFlattenDepth {
		for _, key := range nested.Keys() {
			v, _ := nested.Get(key)
			flattenValue(row, column+"_"+stringsutil.NormalizeHeader(key), v, depth+1)
		}
		return
	}
	row.Set(column, clean(value))
}

func expandListOfObjects(row *models.Row, column string, value interface{}) {
	items, ok := value.([]interface{})
	if !ok {
		row.Set(column, clean(value))
		return
	}
	for i, item := range items {
		prefix := column + "_" + strconv.Itoa(i)
		obj, ok := item.(*models.Record)
		if !ok {
			row.Set(prefix, clean(item))
			continue
		}
		for _, key := range obj.Keys() {
			v, _ := obj.Get(key)
			row.Set(prefix+"_"+stringsutil.NormalizeHeader(key), clean(v))
		}
	}
}

// clean reduces a value to a scalar: HTML is stripped from strings, blank
// strings become nil and composite values are encoded as JSON text.
func clean(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		s := stringsutil.StripHTML(v)
		if stringsutil.IsBlank(s) {
			return nil
		}
		return s
	case *models.Record, []interface{}:
		return stringsutil.ValueToString(v)
	default:
		return v
	}
}

// explode applies step 4. Each configured list column multiplies the
// current rows by its element count; an empty list leaves a single null.
func explode(base *models.Row, spec *models.TableSpec) []*models.Row {
	rows := []*models.Row{base}
	for _, col := range spec.ListColumns {
		column := stringsutil.NormalizeHeader(col)
		value, ok := base.Get(column)
		if !ok {
			continue
		}
		items, isList := value.([]interface{})
		if !isList {
			items = []interface{}{value}
		}
		if len(items) == 0 {
			for _, r := range rows {
				r.Set(column, nil)
			}
			continue
		}

		next := make([]*models.Row, 0, len(rows)*len(items))
		for _, r := range rows {
			for _, item := range items {
				c := r.Clone()
				c.Set(column, clean(item))
				next = append(next, c)
			}
		}
		rows = next
	}
	return rows
}

// compoundID applies step 5.
func compoundID(row *models.Row, spec *models.TableSpec) (string, error) {
	keys := make([]string, 0, len(spec.PrimaryKeys)+len(spec.SecondaryKeys))
	keys = append(keys, spec.PrimaryKeys...)
	keys = append(keys, spec.SecondaryKeys...)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := row.Value(stringsutil.NormalizeHeader(key))
		if value == nil {
			return "", errors.Transformation(spec.Name, key, "missing key field")
		}
		parts = append(parts, stringsutil.ValueToString(value))
	}
	return strings.Join(parts, KeySeparator), nil
}

// finish applies steps 6 and 7 and fixes the column order.
func (t *Transformer) finish(row *models.Row, id string, spec *models.TableSpec) *models.Row {
	out := models.NewRow(row.Len() + 2)
	out.Set(ServerColumn, t.server)
	out.Set(IDColumn, t.prefixed(IDColumn, id, spec))
	for _, column := range row.Keys() {
		if column == ServerColumn || column == IDColumn {
			continue
		}
		out.Set(column, t.prefixed(column, row.Value(column), spec))
	}
	return out
}

func (t *Transformer) prefixed(column string, value interface{}, spec *models.TableSpec) interface{} {
	if value == nil || t.server == "" || !t.shouldPrefix(column, spec) {
		return value
	}
	return t.server + "_" + stringsutil.ValueToString(value)
}

func (t *Transformer) shouldPrefix(column string, spec *models.TableSpec) bool {
	return containsNormalized(spec.PrefixColumns, column) && !containsNormalized(spec.NoPrefixColumns, column)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsNormalized(list []string, column string) bool {
	for _, v := range list {
		if stringsutil.NormalizeHeader(v) == column {
			return true
		}
	}
	return false
}
