// Package paginator turns a table's extraction into a lazy sequence of
// pages. Offsets are derived from the number of records already received;
// pagination links in responses are never consulted.
package paginator

import (
	"context"
	"iter"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/daktela-extractor/pkg/daktela"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/metrics"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

// PageFetcher fetches one page. *daktela.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, req daktela.PageRequest) (*models.Page, error)
}

// Paginator drives a PageFetcher through consecutive pages.
type Paginator struct {
	fetcher  PageFetcher
	pageSize int
	logger   *zap.Logger
}

// New creates a paginator requesting batchSize records per page, clamped
// to [1, daktela.MaxPageSize].
func New(fetcher PageFetcher, batchSize int, logger *zap.Logger) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{
		fetcher:  fetcher,
		pageSize: min(max(batchSize, 1), daktela.MaxPageSize),
		logger:   logger.With(zap.String("component", "paginator")),
	}
}

// PageSize returns the take value used for every request.
func (p *Paginator) PageSize() int {
	return p.pageSize
}

type scope struct {
	endpoint string
	id       string
}

// Pages returns the pages of an independent table within window. A page
// with fewer records than requested ends the sequence, so a table whose
// size is an exact multiple of the page size costs one extra, empty
// request. The sequence stops after yielding the first error and can be
// ranged over only once.
func (p *Paginator) Pages(ctx context.Context, spec *models.TableSpec, window models.Window) iter.Seq2[*models.Page, error] {
	return p.sequence(ctx, spec, window, []scope{{}})
}

// PagesForParents returns the pages of a dependent table, paginating the
// child resource of every parent id in turn and flattening the result.
func (p *Paginator) PagesForParents(ctx context.Context, spec *models.TableSpec, window models.Window,
	parentEndpoint string, parentIDs []string) iter.Seq2[*models.Page, error] {
	scopes := make([]scope, 0, len(parentIDs))
	for _, id := range parentIDs {
		scopes = append(scopes, scope{endpoint: parentEndpoint, id: id})
	}
	return p.sequence(ctx, spec, window, scopes)
}

func (p *Paginator) sequence(ctx context.Context, spec *models.TableSpec, window models.Window, scopes []scope) iter.Seq2[*models.Page, error] {
	var consumed atomic.Bool
	return func(yield func(*models.Page, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(nil, errors.Newf(errors.ErrorTypeInternal, "page sequence for %s already consumed", spec.Name))
			return
		}
		for _, s := range scopes {
			if !p.drain(ctx, spec, window, s, yield) {
				return
			}
		}
	}
}

// drain paginates one scope and reports whether the caller should continue.
func (p *Paginator) drain(ctx context.Context, spec *models.TableSpec, window models.Window, s scope,
	yield func(*models.Page, error) bool) bool {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			yield(nil, errors.Wrap(err, errors.ErrorTypeInternal, "pagination canceled"))
			return false
		}

		page, err := p.fetcher.FetchPage(ctx, daktela.PageRequest{
			Spec:           spec,
			Window:         window,
			Skip:           offset,
			Take:           p.pageSize,
			ParentEndpoint: s.endpoint,
			ParentID:       s.id,
		})
		if err != nil {
			if s.id != "" {
				if e, ok := err.(*errors.Error); ok {
					e.WithDetail("parent_id", s.id)
				}
			}
			yield(nil, err)
			return false
		}

		metrics.PagesFetched.WithLabelValues(spec.Name).Inc()
		metrics.RecordsFetched.WithLabelValues(spec.Name).Add(float64(len(page.Records)))
		p.logger.Debug("fetched page",
			zap.String("table", spec.Name),
			zap.String("parent_id", s.id),
			zap.Int("offset", offset),
			zap.Int("records", len(page.Records)))

		if !yield(page, nil) {
			return false
		}
		offset += max(page.Received, len(page.Records))
		if page.Exhausted() {
			return true
		}
	}
}
