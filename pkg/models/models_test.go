package models

import (
	"testing"

	"github.com/ajitpratap0/daktela-extractor/pkg/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUnmarshalPreservesOrder(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{"zeta": 1, "alpha": "a", "nested": {"b": true, "a": null}, "tags": ["x", 2]}`), &r)
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "nested", "tags"}, r.Keys())

	v, _ := r.Get("zeta")
	assert.Equal(t, json.Number("1"), v)

	nested, ok := r.Get("nested")
	require.True(t, ok)
	require.IsType(t, &Record{}, nested)
	assert.Equal(t, []string{"b", "a"}, nested.(*Record).Keys())

	tags, _ := r.Get("tags")
	assert.Equal(t, []interface{}{"x", json.Number("2")}, tags)
}

func TestRecordRoundTripKeepsOrder(t *testing.T) {
	r := RecordFrom("b", "1", "a", RecordFrom("y", nil, "x", true))
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":"1","a":{"y":null,"x":true}}`, string(data))
	assert.Equal(t, `{"b":"1","a":{"y":null,"x":true}}`, string(data))
}

func TestRecordRejectsNonObject(t *testing.T) {
	var r Record
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &r))
}

func TestRowSetKeepsPosition(t *testing.T) {
	row := NewRow(4)
	row.Set("server", "acme")
	row.Set("id", "acme_1")
	row.Set("server", "other")

	assert.Equal(t, []string{"server", "id"}, row.Keys())
	assert.Equal(t, "other", row.Value("server"))

	clone := row.Clone()
	clone.Set("extra", 1)
	assert.Equal(t, 2, row.Len())
	assert.Equal(t, 3, clone.Len())
}

func TestPageExhausted(t *testing.T) {
	full := &Page{Records: make([]*Record, 3), Requested: 3}
	short := &Page{Records: make([]*Record, 2), Requested: 3}
	empty := &Page{Requested: 3}

	assert.False(t, full.Exhausted())
	assert.True(t, short.Exhausted())
	assert.True(t, empty.Exhausted())

	withNulls := &Page{Records: make([]*Record, 2), Received: 3, Requested: 3}
	assert.False(t, withNulls.Exhausted())
}

func TestTableSpecDefaults(t *testing.T) {
	spec := TableSpec{Name: "activitiesCall", ParentTable: "activities"}
	assert.Equal(t, "activitiesCall", spec.EndpointName())
	assert.Equal(t, "activitiesCall", spec.ChildEndpointName())
	assert.Equal(t, "activitiesCall", spec.OutputTable())
	assert.Equal(t, "id", spec.ParentKey())
	assert.Equal(t, "edited", spec.DateField())
	assert.Equal(t, []string{"id"}, spec.ManifestPrimaryKey())
	assert.True(t, spec.IsDependent())

	spec.ParentIDField = "name"
	assert.Equal(t, "name", spec.ParentKey())

	spec.OutputName = "calls"
	spec.PrimaryKeyOverride = []string{"id", "server"}
	assert.Equal(t, "calls", spec.OutputTable())
	assert.Equal(t, []string{"id", "server"}, spec.ManifestPrimaryKey())
}
