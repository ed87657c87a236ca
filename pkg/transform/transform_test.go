package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/json"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

func decode(t *testing.T, raw string) *models.Record {
	t.Helper()
	rec := models.NewRecord()
	require.NoError(t, json.Unmarshal([]byte(raw), rec))
	return rec
}

func TestCompoundIDExactString(t *testing.T) {
	spec := &models.TableSpec{Name: "t", PrimaryKeys: []string{"a", "b"}, SecondaryKeys: []string{"c"}}
	rows, err := New("acme").Transform(models.RecordFrom("a", "1", "b", "2", "c", "3"), spec)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1_2_3", rows[0].Value(IDColumn))
}

func TestMissingKeyIsTransformationError(t *testing.T) {
	spec := &models.TableSpec{Name: "tickets", PrimaryKeys: []string{"name"}}
	_, err := New("acme").Transform(models.RecordFrom("title", "x"), spec)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransformation))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	field, _ := e.Detail("field")
	table, _ := e.Detail("table")
	assert.Equal(t, "name", field)
	assert.Equal(t, "tickets", table)
}

func TestNullRecordIsTransformationError(t *testing.T) {
	spec := &models.TableSpec{Name: "tickets", PrimaryKeys: []string{"name"}}
	rows, err := New("acme").Transform(nil, spec)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransformation))
	assert.Contains(t, err.Error(), "null record")
}

func TestListExplosion(t *testing.T) {
	spec := &models.TableSpec{Name: "t", PrimaryKeys: []string{"name"}, ListColumns: []string{"tags"}}
	rec := decode(t, `{"name":"1","title":"hello","tags":["x","y"]}`)

	rows, err := New("acme").Transform(rec, spec)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "x", rows[0].Value("tags"))
	assert.Equal(t, "y", rows[1].Value("tags"))
	for _, r := range rows {
		assert.Equal(t, []string{"server", "id", "name", "title", "tags"}, r.Keys())
		assert.Equal(t, "hello", r.Value("title"))
		assert.Equal(t, "1", r.Value("id"))
	}
}

func TestListExplosionCartesian(t *testing.T) {
	spec := &models.TableSpec{Name: "t", PrimaryKeys: []string{"name"}, ListColumns: []string{"a", "b"}}
	rec := decode(t, `{"name":"1","a":["x","y"],"b":[1,2,3]}`)

	rows, err := New("").Transform(rec, spec)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	var pairs []string
	for _, r := range rows {
		pairs = append(pairs, r.Value("a").(string)+r.Value("b").(json.Number).String())
	}
	assert.Equal(t, []string{"x1", "x2", "x3", "y1", "y2", "y3"}, pairs)
}

func TestEmptyListYieldsOneRow(t *testing.T) {
	spec := &models.TableSpec{Name: "t", PrimaryKeys: []string{"name"}, ListColumns: []string{"tags"}}
	rows, err := New("").Transform(decode(t, `{"name":"1","tags":[]}`), spec)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Value("tags"))
	assert.Contains(t, rows[0].Keys(), "tags")
}

func TestScalarListColumnIsSingleElement(t *testing.T) {
	spec := &models.TableSpec{Name: "t", PrimaryKeys: []string{"name"}, ListColumns: []string{"tags"}}
	rows, err := New("").Transform(decode(t, `{"name":"1","tags":"solo"}`), spec)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "solo", rows[0].Value("tags"))
}

func TestListOfObjects(t *testing.T) {
	spec := &models.TableSpec{
		Name:               "t",
		PrimaryKeys:        []string{"name"},
		ListOfDictsColumns: []string{"emails", "phones"},
	}
	rec := decode(t, `{"name":"1","emails":[{"Type":"work","value":"a@x"},{"Type":"home","value":"b@x"}],
		"phones":[{"n":"1"},{"n":"2"}],"after":true}`)

	rows, err := New("").Transform(rec, spec)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"server", "id", "name",
		"emails_0_type", "emails_0_value", "emails_1_type", "emails_1_value",
		"phones_0_n", "phones_1_n", "after"}, rows[0].Keys())
	assert.Equal(t, "b@x", rows[0].Value("emails_1_value"))
	assert.Equal(t, true, rows[0].Value("after"))
}

func TestListOfObjectsMismatchedLengths(t *testing.T) {
	spec := &models.TableSpec{
		Name:               "contacts",
		PrimaryKeys:        []string{"name"},
		ListOfDictsColumns: []string{"emails", "phones"},
	}
	rec := decode(t, `{"name":"1","emails":[{"v":"a"}],"phones":[{"n":"1"},{"n":"2"}]}`)

	_, err := New("").Transform(rec, spec)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransformation))
	assert.Contains(t, err.Error(), "phones")
}

func TestFlattenAndClean(t *testing.T) {
	spec := &models.TableSpec{Name: "t", PrimaryKeys: []string{"name"}}
	rec := decode(t, `{"name":"1","user":{"name":"bob","role":{"title":"<b>Admin</b>","deep":{"x":1}}},
		"description":"<p>Hi</p>","blank":"  ","tags":["a"]}`)

	rows, err := New("").Transform(rec, spec)
	require.NoError(t, err)
	row := rows[0]
	assert.Equal(t, "bob", row.Value("user_name"))
	assert.Equal(t, "Admin", row.Value("user_role_title"))
	assert.Equal(t, `{"x":1}`, row.Value("user_role_deep"))
	assert.Equal(t, "Hi", row.Value("description"))
	assert.Nil(t, row.Value("blank"))
	assert.Equal(t, `["a"]`, row.Value("tags"))
}

func TestAllowlistKeepsKeys(t *testing.T) {
	spec := &models.TableSpec{Name: "t", Fields: []string{"title"}, PrimaryKeys: []string{"name"}}
	rows, err := New("").Transform(models.RecordFrom("name", "1", "title", "x", "secret", "y"), spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"server", "id", "name", "title"}, rows[0].Keys())
}

func TestServerPrefixing(t *testing.T) {
	spec := &models.TableSpec{
		Name:            "activitiesCall",
		PrimaryKeys:     []string{"id_call"},
		PrefixColumns:   []string{"id_call", "activities_name", "id_call_ext", "queue"},
		NoPrefixColumns: []string{"id_call_ext"},
	}
	rec := decode(t, `{"id_call":"c1","activities":{"name":"a1"},"id_call_ext":"e1","queue":null}`)

	rows, err := New("acme").Transform(rec, spec)
	require.NoError(t, err)
	row := rows[0]
	assert.Equal(t, "acme", row.Value(ServerColumn))
	assert.Equal(t, "c1", row.Value(IDColumn))
	assert.Equal(t, "acme_c1", row.Value("id_call"))
	assert.Equal(t, "acme_a1", row.Value("activities_name"))
	assert.Equal(t, "e1", row.Value("id_call_ext"))
	assert.Nil(t, row.Value("queue"))

	spec.PrefixColumns = append(spec.PrefixColumns, "id")
	rows, err = New("acme").Transform(rec, spec)
	require.NoError(t, err)
	assert.Equal(t, "acme_c1", rows[0].Value(IDColumn))
}

func TestTransformPreservesRecordAndExplosionOrder(t *testing.T) {
	spec := &models.TableSpec{Name: "t", PrimaryKeys: []string{"name"}, ListColumns: []string{"tags"}}
	recs := []*models.Record{
		decode(t, `{"name":"1","tags":["a","b"]}`),
		decode(t, `{"name":"2","tags":["c"]}`),
	}
	tr := New("")
	var rows []*models.Row
	for _, rec := range recs {
		r, err := tr.Transform(rec, spec)
		require.NoError(t, err)
		rows = append(rows, r...)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r.Value("id").(string)+r.Value("tags").(string))
	}
	assert.Equal(t, []string{"1a", "1b", "2c"}, got)
}
