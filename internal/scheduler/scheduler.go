// Package scheduler runs the tables of an extraction: independent tables
// in parallel up to a configured limit, dependent tables after their
// parent within the same worker, with per-table failure isolation and
// per-table state commits.
package scheduler

import (
	"context"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/daktela-extractor/internal/pipeline"
	"github.com/ajitpratap0/daktela-extractor/pkg/daktela"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/logger"
	"github.com/ajitpratap0/daktela-extractor/pkg/metrics"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/observability"
	"github.com/ajitpratap0/daktela-extractor/pkg/paginator"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
	"github.com/ajitpratap0/daktela-extractor/pkg/sink"
	"github.com/ajitpratap0/daktela-extractor/pkg/state"
	stringsutil "github.com/ajitpratap0/daktela-extractor/pkg/strings"
	"github.com/ajitpratap0/daktela-extractor/pkg/transform"
)

// Config controls scheduling.
type Config struct {
	RunID                  string
	MaxConcurrentEndpoints int
	BatchSize              int
	Window                 state.WindowConfig
}

// Scheduler wires the extraction components together for one run.
type Scheduler struct {
	config      Config
	paginator   *paginator.Paginator
	transformer *transform.Transformer
	tracker     *state.Tracker
	sink        sink.Sink
	logger      *zap.Logger
}

// New creates a scheduler. fetcher is shared by all tables, so its rate
// and in-flight limits apply to the run as a whole.
func New(config Config, fetcher paginator.PageFetcher, transformer *transform.Transformer,
	tracker *state.Tracker, out sink.Sink, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if config.MaxConcurrentEndpoints < 1 {
		config.MaxConcurrentEndpoints = 1
	}
	return &Scheduler{
		config:      config,
		paginator:   paginator.New(fetcher, config.BatchSize, log),
		transformer: transformer,
		tracker:     tracker,
		sink:        out,
		logger:      log.With(zap.String("component", "scheduler")),
	}
}

// run holds the mutable state of one Run call.
type run struct {
	plan    *Plan
	cancel  context.CancelCauseFunc
	mu      sync.Mutex
	results map[string]*TableResult
}

func (r *run) record(res *TableResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.Name] = res
}

// Run extracts every table of plan and returns the summary. It never
// returns early: each table ends SUCCESS, FAILED or SKIPPED. An
// authentication failure cancels the run, failing all unfinished tables.
func (s *Scheduler) Run(ctx context.Context, plan *Plan) *Summary {
	summary := &Summary{RunID: s.config.RunID, Started: time.Now()}
	ctx = logger.WithRunID(ctx, s.config.RunID)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r := &run{plan: plan, cancel: cancel, results: make(map[string]*TableResult, len(plan.Order))}

	s.logger.Info("starting extraction",
		zap.String("run_id", s.config.RunID),
		zap.Strings("tables", plan.Order),
		zap.Strings("auto_included", plan.Added),
		zap.Int("max_concurrent_endpoints", s.config.MaxConcurrentEndpoints))

	g := new(errgroup.Group)
	g.SetLimit(s.config.MaxConcurrentEndpoints)
	for _, root := range plan.Roots {
		g.Go(func() error {
			s.runChain(runCtx, r, root, nil)
			return nil
		})
	}
	_ = g.Wait()

	for _, name := range plan.Order {
		summary.Tables = append(summary.Tables, *r.results[name])
	}
	summary.Finished = time.Now()
	summary.Log(s.logger)
	return summary
}

// runChain extracts name and then, one at a time, each of its children.
func (s *Scheduler) runChain(ctx context.Context, r *run, name string, parentIDs []string) {
	res, collected := s.extract(ctx, r, name, parentIDs)
	r.record(res)

	for _, child := range r.plan.Children[name] {
		if res.Status != StatusSuccess {
			s.skip(r, child, "parent table "+name+" did not succeed")
			continue
		}
		childSpec := r.plan.Specs[child]
		s.runChain(ctx, r, child, collected[stringsutil.NormalizeHeader(childSpec.ParentKey())])
	}
}

func (s *Scheduler) skip(r *run, name, reason string) {
	s.logger.Warn("skipping table", zap.String("table", name), zap.String("reason", reason))
	metrics.TableStatus.WithLabelValues(name, string(StatusSkipped)).Inc()
	r.record(&TableResult{Name: name, Status: StatusSkipped, Reason: reason})
	for _, child := range r.plan.Children[name] {
		s.skip(r, child, "parent table "+name+" was skipped")
	}
}

// extract runs one table to completion. The returned map holds, per
// column used as a parent key by a child table, the normalized ids.
func (s *Scheduler) extract(ctx context.Context, r *run, name string, parentIDs []string) (*TableResult, map[string][]string) {
	spec := r.plan.Specs[name]
	out := spec.OutputTable()
	res := &TableResult{Name: name}
	started := time.Now()

	ctx = logger.WithTable(ctx, name)
	log := logger.FromContext(ctx, s.logger)

	ctx, span := observability.StartSpan(ctx, "extract_table",
		attribute.String("table", name),
		attribute.Int("parent_ids", len(parentIDs)))

	fail := func(err error) (*TableResult, map[string][]string) {
		res.Status = StatusFailed
		res.Err = err
		res.Duration = time.Since(started)
		if errors.IsFatalForRun(err) {
			log.Error("authentication failed, aborting run", zap.Error(err))
			r.cancel(err)
		} else {
			log.Error("table failed", zap.Error(err))
		}
		metrics.TableStatus.WithLabelValues(name, string(StatusFailed)).Inc()
		observability.EndSpan(span, err)
		return res, nil
	}

	if cause := context.Cause(ctx); cause != nil {
		return fail(errors.Wrap(cause, errors.ErrorTypeInternal, "run aborted before table started"))
	}

	// A failing table cancels only its own requests.
	tableCtx, cancelTable := context.WithCancel(ctx)
	defer cancelTable()

	window, err := s.tracker.ResolveWindow(out, s.config.Window)
	if err != nil {
		return fail(err)
	}

	writer, err := s.sink.Open(tableCtx, sink.Target{Table: out, Spec: spec})
	if err != nil {
		return fail(err)
	}

	collect := s.collectColumns(r, name)
	p := pipeline.New(spec, out, s.transformer, s.tracker, writer,
		pipeline.Config{BatchSize: s.config.BatchSize, CollectColumns: collect}, log)

	var pages iter.Seq2[*models.Page, error]
	if spec.IsDependent() {
		parent := r.plan.Specs[spec.ParentTable]
		pages = s.paginator.PagesForParents(tableCtx, spec, window, parent.EndpointName(), parentIDs)
		log.Info("extracting dependent table",
			zap.String("parent", spec.ParentTable),
			zap.Int("parent_ids", len(parentIDs)))
	} else {
		pages = s.paginator.Pages(tableCtx, spec, window)
		log.Info("extracting table",
			zap.Time("from", window.From),
			zap.Time("to", window.To),
			zap.Bool("open_ended", window.OpenEnded))
	}

	stats, err := p.Run(tableCtx, pages)
	res.Pages, res.Records, res.Rows = stats.Pages, stats.Records, stats.Rows
	if err != nil {
		_ = writer.Abort()
		if cause := context.Cause(ctx); cause != nil && !errors.IsFatalForRun(err) {
			err = errors.Wrap(cause, errors.ErrorTypeInternal, "run aborted")
		}
		return fail(err)
	}

	desc := schema.NewDescriptor(s.tracker.Columns(out), spec, s.config.Window.Incremental)
	written, err := writer.Finalize(tableCtx, desc)
	if err != nil {
		return fail(err)
	}
	res.Output = written.DataPath

	if err := s.tracker.Commit(tableCtx, out, window); err != nil {
		return fail(err)
	}

	res.Status = StatusSuccess
	res.Duration = time.Since(started)
	metrics.TableStatus.WithLabelValues(name, string(StatusSuccess)).Inc()
	metrics.TableDuration.WithLabelValues(name).Observe(res.Duration.Seconds())
	observability.EndSpan(span, nil)
	log.Info("table extracted",
		zap.Int64("pages", res.Pages),
		zap.Int64("rows", res.Rows),
		zap.Duration("duration", res.Duration))

	return res, s.normalizeIDs(spec, stats.Collected)
}

func (s *Scheduler) collectColumns(r *run, name string) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, child := range r.plan.Children[name] {
		c := stringsutil.NormalizeHeader(r.plan.Specs[child].ParentKey())
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return cols
}

// normalizeIDs maps collected output values back to API identifiers.
func (s *Scheduler) normalizeIDs(spec *models.TableSpec, collected map[string][]string) map[string][]string {
	out := make(map[string][]string, len(collected))
	for col, values := range collected {
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			id := daktela.NormalizeParentID(v, s.transformer.Server(), spec.Name)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out[col] = append(out[col], id)
		}
	}
	return out
}
