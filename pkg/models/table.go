package models

import (
	"time"
)

// DefaultIncrementalField is the timestamp column used for date filtering.
const DefaultIncrementalField = "edited"

// Filter is an API-level predicate applied to every request of a table.
type Filter struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    string `yaml:"value" json:"value"`
}

// TableSpec describes how one API endpoint is extracted. It is loaded once
// per run and never mutated.
type TableSpec struct {
	Name               string   `yaml:"name" json:"name"`
	Endpoint           string   `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Fields             []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	PrimaryKeys        []string `yaml:"primary_keys" json:"primary_keys"`
	SecondaryKeys      []string `yaml:"secondary_keys,omitempty" json:"secondary_keys,omitempty"`
	PrefixColumns      []string `yaml:"prefix_columns,omitempty" json:"prefix_columns,omitempty"`
	NoPrefixColumns    []string `yaml:"no_prefix_columns,omitempty" json:"no_prefix_columns,omitempty"`
	ListColumns        []string `yaml:"list_columns,omitempty" json:"list_columns,omitempty"`
	ListOfDictsColumns []string `yaml:"list_of_dicts_columns,omitempty" json:"list_of_dicts_columns,omitempty"`
	Filters            []Filter `yaml:"filters,omitempty" json:"filters,omitempty"`
	ParentTable        string   `yaml:"parent_table,omitempty" json:"parent_table,omitempty"`
	ParentIDField      string   `yaml:"parent_id_field,omitempty" json:"parent_id_field,omitempty"`
	ChildEndpoint      string   `yaml:"child_endpoint,omitempty" json:"child_endpoint,omitempty"`
	OutputName         string   `yaml:"output_name,omitempty" json:"output_name,omitempty"`
	PrimaryKeyOverride []string `yaml:"primary_key_override,omitempty" json:"primary_key_override,omitempty"`
	IncrementalField   string   `yaml:"incremental_field,omitempty" json:"incremental_field,omitempty"`
	DateFilter         bool     `yaml:"date_filter,omitempty" json:"date_filter,omitempty"`
}

// EndpointName returns the API path segment for the table.
func (t *TableSpec) EndpointName() string {
	if t.Endpoint != "" {
		return t.Endpoint
	}
	return t.Name
}

// ChildEndpointName returns the path segment used under the parent resource.
func (t *TableSpec) ChildEndpointName() string {
	if t.ChildEndpoint != "" {
		return t.ChildEndpoint
	}
	return t.EndpointName()
}

// OutputTable returns the name used for output files and state entries.
func (t *TableSpec) OutputTable() string {
	if t.OutputName != "" {
		return t.OutputName
	}
	return t.Name
}

// IsDependent reports whether the table is scoped per parent record.
func (t *TableSpec) IsDependent() bool {
	return t.ParentTable != ""
}

// ParentKey returns the parent output column whose values scope child
// requests. It defaults to the compound id column.
func (t *TableSpec) ParentKey() string {
	if t.ParentIDField != "" {
		return t.ParentIDField
	}
	return "id"
}

// DateField returns the field used for the extraction window filter.
func (t *TableSpec) DateField() string {
	if t.IncrementalField != "" {
		return t.IncrementalField
	}
	return DefaultIncrementalField
}

// ManifestPrimaryKey returns the primary key written to the manifest.
func (t *TableSpec) ManifestPrimaryKey() []string {
	if len(t.PrimaryKeyOverride) > 0 {
		return t.PrimaryKeyOverride
	}
	return []string{"id"}
}

// Window is the resolved (from, to) range a table is extracted for.
type Window struct {
	From time.Time
	To   time.Time
	// OpenEnded is set when no upper bound was configured; To then holds the
	// run start instant and is not sent to the API.
	OpenEnded bool
}

// HasFrom reports whether a lower bound applies.
func (w Window) HasFrom() bool {
	return !w.From.IsZero()
}

// Watermark returns the value persisted after a successful extraction.
func (w Window) Watermark() time.Time {
	return w.To
}
