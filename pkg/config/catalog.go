package config

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

//go:embed tables.yaml
var builtinTables []byte

type catalogFile struct {
	Tables []models.TableSpec `yaml:"tables"`
}

// Catalog returns the built-in table definitions keyed by name.
func Catalog() (map[string]models.TableSpec, error) {
	var f catalogFile
	if err := yaml.Unmarshal(builtinTables, &f); err != nil {
		return nil, fmt.Errorf("failed to parse built-in table catalog: %w", err)
	}
	out := make(map[string]models.TableSpec, len(f.Tables))
	for _, t := range f.Tables {
		out[t.Name] = t
	}
	return out, nil
}

// TableNames returns the sorted names of all known tables.
func TableNames(tables map[string]models.TableSpec) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveTables merges the built-in catalog with the configured tables and
// per-table field selections, then validates every definition.
func (c *Config) ResolveTables() (map[string]models.TableSpec, error) {
	tables, err := Catalog()
	if err != nil {
		return nil, err
	}
	for _, t := range c.Tables {
		if t.Name == "" {
			return nil, errors.Config("tables: every table needs a name")
		}
		tables[t.Name] = t
	}
	for name, fields := range c.DataSelection.Fields {
		t, ok := tables[name]
		if !ok {
			return nil, errors.Config("data_selection.fields: unknown table %q", name)
		}
		t.Fields = fields
		tables[name] = t
	}
	for name, t := range tables {
		if err := validateTable(t); err != nil {
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}

func validateTable(t models.TableSpec) error {
	if len(t.PrimaryKeys) == 0 {
		return errors.Config("table %s: primary_keys must not be empty", t.Name)
	}
	if t.ParentTable == t.Name {
		return errors.Config("table %s: parent_table cannot reference itself", t.Name)
	}
	for _, f := range t.Filters {
		if f.Field == "" || f.Operator == "" {
			return errors.Config("table %s: filters need field and operator", t.Name)
		}
	}
	return nil
}
