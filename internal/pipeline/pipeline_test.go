package pipeline

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
	"github.com/ajitpratap0/daktela-extractor/pkg/sink"
	"github.com/ajitpratap0/daktela-extractor/pkg/transform"
)

type memoryWriter struct {
	batches [][]string
	widths  []int
}

func (w *memoryWriter) WriteBatch(_ context.Context, rows []*models.Row, columns []string) error {
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.Value("id").(string))
	}
	w.batches = append(w.batches, ids)
	w.widths = append(w.widths, len(columns))
	return nil
}

func (w *memoryWriter) Finalize(context.Context, schema.Descriptor) (*sink.Result, error) {
	return &sink.Result{}, nil
}

func (w *memoryWriter) Abort() error { return nil }

func pagesOf(pages [][]*models.Record, failAfter int) iter.Seq2[*models.Page, error] {
	return func(yield func(*models.Page, error) bool) {
		for i, recs := range pages {
			if failAfter >= 0 && i == failAfter {
				yield(nil, errors.New(errors.ErrorTypeTransient, "boom"))
				return
			}
			if !yield(&models.Page{Records: recs, Requested: 2}, nil) {
				return
			}
		}
	}
}

func TestPipelineBatchesInOrder(t *testing.T) {
	spec := &models.TableSpec{Name: "tickets", PrimaryKeys: []string{"name"}, ListColumns: []string{"tags"}}
	w := &memoryWriter{}
	p := New(spec, "tickets", transform.New(""), schema.NewRegistry(nil), w, Config{BatchSize: 2}, nil)

	stats, err := p.Run(context.Background(), pagesOf([][]*models.Record{
		{models.RecordFrom("name", "1", "tags", []interface{}{"a", "b"}), models.RecordFrom("name", "2")},
		{models.RecordFrom("name", "3", "extra", "x")},
	}, -1))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "1"}, {"2", "3"}}, w.batches)
	assert.Equal(t, int64(2), stats.Pages)
	assert.Equal(t, int64(3), stats.Records)
	assert.Equal(t, int64(4), stats.Rows)
	assert.Equal(t, 4, w.widths[0])
	assert.Equal(t, 5, w.widths[1])
}

func TestPipelineCollectsDistinctValues(t *testing.T) {
	spec := &models.TableSpec{Name: "tickets", PrimaryKeys: []string{"name"}, ListColumns: []string{"tags"}}
	p := New(spec, "tickets", transform.New("acme"), schema.NewRegistry(nil), &memoryWriter{},
		Config{BatchSize: 10, CollectColumns: []string{"name"}}, nil)

	stats, err := p.Run(context.Background(), pagesOf([][]*models.Record{
		{models.RecordFrom("name", "7", "tags", []interface{}{"a", "b"}), models.RecordFrom("name", "8")},
	}, -1))
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8"}, stats.Collected["name"])
}

func TestPipelineStopsOnPageError(t *testing.T) {
	spec := &models.TableSpec{Name: "tickets", PrimaryKeys: []string{"name"}}
	w := &memoryWriter{}
	p := New(spec, "tickets", transform.New(""), schema.NewRegistry(nil), w, Config{BatchSize: 100}, nil)

	stats, err := p.Run(context.Background(), pagesOf([][]*models.Record{
		{models.RecordFrom("name", "1")},
		{models.RecordFrom("name", "2")},
		{models.RecordFrom("name", "3")},
	}, 2))
	require.Error(t, err)
	assert.Equal(t, int64(2), stats.Pages)
	assert.Empty(t, w.batches, "the partial batch is not flushed")
}

func TestPipelineStopsOnTransformationError(t *testing.T) {
	spec := &models.TableSpec{Name: "tickets", PrimaryKeys: []string{"name"}}
	p := New(spec, "tickets", transform.New(""), schema.NewRegistry(nil), &memoryWriter{}, Config{}, nil)

	_, err := p.Run(context.Background(), pagesOf([][]*models.Record{
		{models.RecordFrom("title", "no key")},
	}, -1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransformation))
}
