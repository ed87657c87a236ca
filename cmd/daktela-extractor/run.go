package main

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/daktela-extractor/internal/scheduler"
	"github.com/ajitpratap0/daktela-extractor/pkg/config"
	"github.com/ajitpratap0/daktela-extractor/pkg/daktela"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/observability"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
	"github.com/ajitpratap0/daktela-extractor/pkg/state"
	"github.com/ajitpratap0/daktela-extractor/pkg/transform"
)

type runOptions struct {
	tables    []string
	dateFrom  string
	dateTo    string
	outputDir string
	timeout   time.Duration
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract the configured tables",
		Long: `Extract every table listed in data_selection.endpoints (or --tables).
Parents of dependent tables are extracted automatically. The command exits
with status 1 when any table failed or was skipped.

Example:
  daktela-extractor run --config config.yaml --tables tickets,activities --date-from "3 days ago"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			summary, err := runExtraction(cmd.Context(), cfg, opts.timeout)
			if err != nil {
				return err
			}
			if err := summary.Print(cmd.OutOrStdout()); err != nil {
				return err
			}
			if summary.Failed() {
				return errors.Newf(errors.ErrorTypeInternal, "%d of %d tables did not succeed",
					len(summary.Tables)-summary.Count(scheduler.StatusSuccess), len(summary.Tables))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&opts.tables, "tables", "t", nil, "Tables to extract, overriding data_selection.endpoints")
	cmd.Flags().StringVar(&opts.dateFrom, "date-from", "", `Lower bound of the window, e.g. "3 days ago" or 2024-01-31`)
	cmd.Flags().StringVar(&opts.dateTo, "date-to", "", `Upper bound of the window, e.g. "today"`)
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Override destination.output_dir")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this duration (0 disables)")
	return cmd
}

func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if len(o.tables) > 0 {
		cfg.DataSelection.Endpoints = o.tables
	}
	if cmd.Flags().Changed("date-from") {
		cfg.DataSelection.DateFrom = o.dateFrom
	}
	if cmd.Flags().Changed("date-to") {
		cfg.DataSelection.DateTo = o.dateTo
	}
	if o.outputDir != "" {
		cfg.Destination.OutputDir = o.outputDir
	}
}

// runExtraction wires every component for one run and executes it.
// Errors returned here happen before any table starts.
func runExtraction(parent context.Context, cfg *config.Config, timeout time.Duration) (*scheduler.Summary, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = log.Sync() }()

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.Observability.Tracing,
		ServiceName:    "daktela-extractor",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if cfg.Observability.MetricsAddr != "" {
		serveMetrics(ctx, cfg.Observability.MetricsAddr, log)
	}

	tables, err := cfg.ResolveTables()
	if err != nil {
		return nil, err
	}
	plan, err := scheduler.BuildPlan(cfg.DataSelection.Endpoints, catalogSlice(tables))
	if err != nil {
		return nil, err
	}

	server := daktela.ServerName(cfg.Connection.URL)
	if server == "" {
		return nil, errors.Config("cannot derive server name from connection.url %q", cfg.Connection.URL)
	}

	store, err := openStore(ctx, cfg.State)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close state store", zap.Error(err))
		}
	}()

	tracker, err := state.NewTracker(ctx, store, schema.NewRegistry(log), time.Now().UTC(), log)
	if err != nil {
		return nil, err
	}

	out, err := openSink(ctx, cfg.Destination, server, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := out.close(); err != nil {
			log.Warn("failed to close sink", zap.Error(err))
		}
	}()

	client, err := newDaktelaClient(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(scheduler.Config{
		RunID:                  runID,
		MaxConcurrentEndpoints: cfg.Advanced.MaxConcurrentEndpoints,
		BatchSize:              cfg.Advanced.BatchSize,
		Window: state.WindowConfig{
			DateFrom:    cfg.DataSelection.DateFrom,
			DateTo:      cfg.DataSelection.DateTo,
			Incremental: cfg.Destination.Incremental,
		},
	}, client, transform.New(server), tracker, out, log)

	return sched.Run(ctx, plan), nil
}

func catalogSlice(tables map[string]models.TableSpec) []models.TableSpec {
	out := make([]models.TableSpec, 0, len(tables))
	for _, t := range tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
