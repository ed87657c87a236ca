package sink

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
)

// Uploader copies a local file to object storage under key.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string) error
	Close() error
}

// UploadingSink uploads every finalized data file and its manifest.
type UploadingSink struct {
	inner    Sink
	uploader Uploader
	prefix   string
	logger   *zap.Logger
}

// NewUploadingSink decorates inner. Object keys are prefix/<file name>.
func NewUploadingSink(inner Sink, uploader Uploader, prefix string, logger *zap.Logger) *UploadingSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadingSink{
		inner:    inner,
		uploader: uploader,
		prefix:   strings.Trim(prefix, "/"),
		logger:   logger.With(zap.String("component", "uploading_sink")),
	}
}

// Open opens the inner writer.
func (s *UploadingSink) Open(ctx context.Context, target Target) (TableWriter, error) {
	w, err := s.inner.Open(ctx, target)
	if err != nil {
		return nil, err
	}
	return &uploadingWriter{TableWriter: w, sink: s}, nil
}

// Close releases the uploader.
func (s *UploadingSink) Close() error {
	return s.uploader.Close()
}

func (s *UploadingSink) key(localPath string) string {
	return path.Join(s.prefix, filepath.Base(localPath))
}

type uploadingWriter struct {
	TableWriter
	sink *UploadingSink
}

func (w *uploadingWriter) Finalize(ctx context.Context, desc schema.Descriptor) (*Result, error) {
	res, err := w.TableWriter.Finalize(ctx, desc)
	if err != nil {
		return nil, err
	}
	for _, p := range []string{res.DataPath, res.ManifestPath} {
		key := w.sink.key(p)
		if err := w.sink.uploader.Upload(ctx, key, p); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeUpload, "uploading "+filepath.Base(p)).
				WithDetail("table", res.Table).
				WithDetail("key", key)
		}
		w.sink.logger.Info("uploaded file", zap.String("table", res.Table), zap.String("key", key))
	}
	return res, nil
}
