package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/daktela-extractor/pkg/compression"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/json"
	"github.com/ajitpratap0/daktela-extractor/pkg/metrics"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/pool"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
	stringsutil "github.com/ajitpratap0/daktela-extractor/pkg/strings"
)

// CSVConfig configures the CSV sink.
type CSVConfig struct {
	OutputDir   string
	Server      string
	Delimiter   rune
	Compression compression.Algorithm
}

// Manifest is written next to every data file.
type Manifest struct {
	Columns     []string `json:"columns"`
	PrimaryKey  []string `json:"primary_key"`
	Incremental bool     `json:"incremental"`
	Delimiter   string   `json:"delimiter"`
	Enclosure   string   `json:"enclosure"`
	Compression string   `json:"compression,omitempty"`
}

// CSVSink writes {server}_{table}.csv files.
type CSVSink struct {
	config CSVConfig
	logger *zap.Logger
}

// NewCSVSink creates the output directory and returns a sink.
func NewCSVSink(config CSVConfig, logger *zap.Logger) (*CSVSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if config.Compression == "" {
		config.Compression = compression.None
	}
	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "creating output directory").
			WithDetail("path", config.OutputDir)
	}
	return &CSVSink{config: config, logger: logger.With(zap.String("component", "csv_sink"))}, nil
}

// FileName returns the data file name for table.
func (s *CSVSink) FileName(table string) string {
	name := table + ".csv"
	if s.config.Server != "" {
		name = s.config.Server + "_" + name
	}
	return name + s.config.Compression.Extension()
}

// Open starts a table. Rows are staged in a temporary file until Finalize
// writes the data file with the final header.
func (s *CSVSink) Open(_ context.Context, target Target) (TableWriter, error) {
	staging, err := os.CreateTemp(s.config.OutputDir, "."+target.Table+"-*.staging")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "creating staging file").WithDetail("table", target.Table)
	}
	buf := bufio.NewWriter(staging)
	w := csv.NewWriter(buf)
	w.Comma = s.config.Delimiter
	return &csvTableWriter{
		sink:    s,
		target:  target,
		staging: staging,
		buf:     buf,
		csv:     w,
		logger:  s.logger.With(zap.String("table", target.Table)),
	}, nil
}

type csvTableWriter struct {
	sink    *CSVSink
	target  Target
	staging *os.File
	buf     *bufio.Writer
	csv     *csv.Writer
	rows    int64
	done    atomic.Bool
	logger  *zap.Logger
}

func (w *csvTableWriter) WriteBatch(ctx context.Context, rows []*models.Row, columns []string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "write canceled")
	}
	buf := pool.GetStrings(len(columns))
	defer pool.PutStrings(buf)
	record := *buf
	for _, row := range rows {
		for i, c := range columns {
			record[i] = stringsutil.ValueToString(row.Value(c))
		}
		if err := w.csv.Write(record); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "writing staged row").WithDetail("table", w.target.Table)
		}
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "flushing staged rows").WithDetail("table", w.target.Table)
	}
	w.rows += int64(len(rows))
	metrics.RowsWritten.WithLabelValues(w.target.Table).Add(float64(len(rows)))
	return nil
}

// Finalize writes the data file with desc.Columns as header, padding rows
// staged while the schema was narrower, then writes the manifest.
func (w *csvTableWriter) Finalize(_ context.Context, desc schema.Descriptor) (*Result, error) {
	if !w.done.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrorTypeInternal, "table writer already closed")
	}
	defer w.removeStaging()

	if err := w.buf.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "flushing staging file")
	}
	if _, err := w.staging.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "rewinding staging file")
	}

	dir := w.sink.config.OutputDir
	dataPath := filepath.Join(dir, w.sink.FileName(w.target.Table))
	tmp, err := os.CreateTemp(dir, "."+w.target.Table+"-*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "creating output file")
	}
	tmpPath := tmp.Name()
	if err := w.writeData(tmp, desc.Columns); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "closing output file")
	}
	if err := os.Rename(tmpPath, dataPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "renaming output file").WithDetail("path", dataPath)
	}

	manifestPath := dataPath + ".manifest"
	if err := w.writeManifest(manifestPath, desc); err != nil {
		return nil, err
	}

	w.logger.Info("table written",
		zap.String("path", dataPath),
		zap.Int64("rows", w.rows),
		zap.Int("columns", len(desc.Columns)))
	return &Result{Table: w.target.Table, DataPath: dataPath, ManifestPath: manifestPath, Rows: w.rows}, nil
}

func (w *csvTableWriter) writeData(dst io.Writer, columns []string) error {
	cw, err := compression.NewWriter(dst, w.sink.config.Compression)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "creating compressor")
	}
	out := csv.NewWriter(cw)
	out.Comma = w.sink.config.Delimiter
	if err := out.Write(columns); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "writing header")
	}

	in := csv.NewReader(bufio.NewReader(w.staging))
	in.Comma = w.sink.config.Delimiter
	in.FieldsPerRecord = -1
	in.ReuseRecord = true
	padded := make([]string, len(columns))
	for {
		record, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "reading staged row")
		}
		if len(record) > len(columns) {
			return errors.Newf(errors.ErrorTypeInternal, "staged row has %d values for %d columns", len(record), len(columns))
		}
		n := copy(padded, record)
		for i := n; i < len(padded); i++ {
			padded[i] = ""
		}
		if err := out.Write(padded); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "writing row")
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "flushing output")
	}
	if err := cw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "closing compressor")
	}
	return nil
}

func (w *csvTableWriter) writeManifest(path string, desc schema.Descriptor) error {
	m := Manifest{
		Columns:     desc.Columns,
		PrimaryKey:  desc.PrimaryKey,
		Incremental: desc.Incremental,
		Delimiter:   string(w.sink.config.Delimiter),
		Enclosure:   `"`,
	}
	if w.sink.config.Compression != compression.None {
		m.Compression = string(w.sink.config.Compression)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "encoding manifest")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "writing manifest").WithDetail("path", path)
	}
	return nil
}

// Abort discards staged rows; existing output files are left untouched.
func (w *csvTableWriter) Abort() error {
	if !w.done.CompareAndSwap(false, true) {
		return nil
	}
	w.removeStaging()
	w.logger.Warn("table output discarded", zap.Int64("staged_rows", w.rows))
	return nil
}

func (w *csvTableWriter) removeStaging() {
	_ = w.staging.Close()
	_ = os.Remove(w.staging.Name())
}
