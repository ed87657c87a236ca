package sink

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/daktela-extractor/pkg/compression"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/json"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
)

func mkRow(kv ...interface{}) *models.Row {
	r := models.NewRow(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func readCSV(t *testing.T, path string, alg compression.Algorithm) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := compression.NewReader(f, alg)
	require.NoError(t, err)
	defer r.Close()
	records, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	return records
}

func newSink(t *testing.T, alg compression.Algorithm) *CSVSink {
	t.Helper()
	s, err := NewCSVSink(CSVConfig{OutputDir: t.TempDir(), Server: "acme", Compression: alg}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestCSVSinkPadsRowsToFinalSchema(t *testing.T) {
	s := newSink(t, compression.None)
	spec := &models.TableSpec{Name: "contacts", PrimaryKeys: []string{"name"}}
	ctx := context.Background()

	w, err := s.Open(ctx, Target{Table: "contacts", Spec: spec})
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch(ctx, []*models.Row{
		mkRow("server", "acme", "id", "1", "title", "a, b"),
	}, []string{"server", "id", "title"}))
	require.NoError(t, w.WriteBatch(ctx, []*models.Row{
		mkRow("server", "acme", "id", "2", "email", "x@y", "title", nil),
	}, []string{"server", "id", "title", "email"}))

	columns := []string{"server", "id", "title", "email", "legacy"}
	res, err := w.Finalize(ctx, schema.NewDescriptor(columns, spec, true))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, "acme_contacts.csv", filepath.Base(res.DataPath))

	assert.Equal(t, [][]string{
		columns,
		{"acme", "1", "a, b", "", ""},
		{"acme", "2", "", "x@y", ""},
	}, readCSV(t, res.DataPath, compression.None))

	data, err := os.ReadFile(res.ManifestPath)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, columns, m.Columns)
	assert.Equal(t, []string{"id"}, m.PrimaryKey)
	assert.True(t, m.Incremental)
	assert.Equal(t, ",", m.Delimiter)

	entries, err := os.ReadDir(filepath.Dir(res.DataPath))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "staging files are removed")
}

func TestCSVSinkCompressed(t *testing.T) {
	for _, alg := range []compression.Algorithm{compression.Gzip, compression.Zstd, compression.LZ4} {
		t.Run(string(alg), func(t *testing.T) {
			s := newSink(t, alg)
			spec := &models.TableSpec{Name: "users"}
			ctx := context.Background()

			w, err := s.Open(ctx, Target{Table: "users", Spec: spec})
			require.NoError(t, err)
			require.NoError(t, w.WriteBatch(ctx, []*models.Row{mkRow("id", "1")}, []string{"id"}))
			res, err := w.Finalize(ctx, schema.NewDescriptor([]string{"id"}, spec, false))
			require.NoError(t, err)

			assert.Equal(t, "acme_users.csv"+alg.Extension(), filepath.Base(res.DataPath))
			assert.Equal(t, [][]string{{"id"}, {"1"}}, readCSV(t, res.DataPath, alg))
		})
	}
}

func TestCSVSinkAbortKeepsPreviousOutput(t *testing.T) {
	s := newSink(t, compression.None)
	spec := &models.TableSpec{Name: "users"}
	ctx := context.Background()
	previous := filepath.Join(s.config.OutputDir, s.FileName("users"))
	require.NoError(t, os.WriteFile(previous, []byte("id\nold\n"), 0o644))

	w, err := s.Open(ctx, Target{Table: "users", Spec: spec})
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch(ctx, []*models.Row{mkRow("id", "new")}, []string{"id"}))
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort())

	data, err := os.ReadFile(previous)
	require.NoError(t, err)
	assert.Equal(t, "id\nold\n", string(data))

	_, err = w.Finalize(ctx, schema.Descriptor{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (u *recordingUploader) Upload(_ context.Context, key, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return u.err
}

func (u *recordingUploader) Close() error { return nil }

func TestUploadingSink(t *testing.T) {
	up := &recordingUploader{}
	s := NewUploadingSink(newSink(t, compression.None), up, "/exports/daktela/", nil)
	spec := &models.TableSpec{Name: "queues"}
	ctx := context.Background()

	w, err := s.Open(ctx, Target{Table: "queues", Spec: spec})
	require.NoError(t, err)
	_, err = w.Finalize(ctx, schema.NewDescriptor([]string{"id"}, spec, false))
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/daktela/acme_queues.csv", "exports/daktela/acme_queues.csv.manifest"}, up.keys)
}

func TestUploadingSinkFailureIsUploadError(t *testing.T) {
	up := &recordingUploader{err: assert.AnError}
	s := NewUploadingSink(newSink(t, compression.None), up, "", nil)
	spec := &models.TableSpec{Name: "queues"}

	w, err := s.Open(context.Background(), Target{Table: "queues", Spec: spec})
	require.NoError(t, err)
	_, err = w.Finalize(context.Background(), schema.NewDescriptor([]string{"id"}, spec, false))
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpload))
	assert.Equal(t, []string{"acme_queues.csv"}, up.keys)
}
