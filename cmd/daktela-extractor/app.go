package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/daktela-extractor/pkg/clients"
	"github.com/ajitpratap0/daktela-extractor/pkg/compression"
	"github.com/ajitpratap0/daktela-extractor/pkg/config"
	"github.com/ajitpratap0/daktela-extractor/pkg/daktela"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/logger"
	"github.com/ajitpratap0/daktela-extractor/pkg/sink"
	"github.com/ajitpratap0/daktela-extractor/pkg/state"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configFile string
	logLevel   string
}

// loadConfig reads the configuration file and applies environment
// overrides. A missing file is allowed when the environment supplies the
// connection settings.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg := config.New()
	if _, err := os.Stat(opts.configFile); err == nil {
		if err := config.Load(opts.configFile, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load "+opts.configFile)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to stat "+opts.configFile)
	}
	applyEnvOverrides(cfg, envSource())
	if opts.logLevel != "" {
		cfg.Observability.LogLevel = opts.logLevel
	}
	return cfg, nil
}

func envSource() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DAKTELA")
	v.AutomaticEnv()
	return v
}

// applyEnvOverrides copies DAKTELA_* values from v over cfg.
func applyEnvOverrides(cfg *config.Config, v *viper.Viper) {
	if s := v.GetString("url"); s != "" {
		cfg.Connection.URL = s
	}
	if s := v.GetString("username"); s != "" {
		cfg.Connection.Username = s
	}
	if s := v.GetString("password"); s != "" {
		cfg.Connection.Password = s
	}
	if s := v.GetString("state_dsn"); s != "" {
		cfg.State.DSN = s
	}
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	return logger.Get(), nil
}

func newDaktelaClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (*daktela.Client, error) {
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.BaseURL = cfg.Connection.URL
	httpCfg.InsecureSkipVerify = !cfg.Connection.VerifySSL
	httpCfg.MaxConcurrentRequests = cfg.Advanced.MaxConcurrentRequests
	httpCfg.RequestsPerSecond = cfg.Advanced.RequestsPerSecond
	httpCfg.MaxRetries = cfg.Advanced.MaxRetries
	httpCfg.RetryBackoff = cfg.Advanced.RetryBackoff
	httpCfg.RequestTimeout = cfg.Advanced.RequestTimeout
	httpCfg.UserAgent = "daktela-extractor/" + version

	hc, err := clients.NewHTTPClient(httpCfg, log)
	if err != nil {
		return nil, err
	}
	return daktela.NewClient(ctx, hc, daktela.Credentials{
		Username: cfg.Connection.Username,
		Password: cfg.Connection.Password,
	}, log), nil
}

func openStore(ctx context.Context, cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return state.OpenSQLite(ctx, cfg.Path)
	case "postgres":
		return state.OpenPostgres(ctx, cfg.DSN)
	default:
		return state.NewFileStore(cfg.Path), nil
	}
}

// sinkHandle bundles the run's sink with its cleanup.
type sinkHandle struct {
	sink.Sink
	close func() error
}

func openSink(ctx context.Context, cfg config.DestinationConfig, server string, log *zap.Logger) (*sinkHandle, error) {
	alg, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid destination.compression")
	}
	csvSink, err := sink.NewCSVSink(sink.CSVConfig{
		OutputDir:   cfg.OutputDir,
		Server:      server,
		Delimiter:   []rune(cfg.Delimiter)[0],
		Compression: alg,
	}, log)
	if err != nil {
		return nil, err
	}

	var uploader sink.Uploader
	switch cfg.Upload.Provider {
	case "s3":
		uploader, err = sink.NewS3Uploader(ctx, sink.S3Config{
			Bucket:   cfg.Upload.Bucket,
			Region:   cfg.Upload.Region,
			Endpoint: cfg.Upload.Endpoint,
		})
	case "gcs":
		uploader, err = sink.NewGCSUploader(ctx, sink.GCSConfig{
			Bucket:          cfg.Upload.Bucket,
			CredentialsFile: cfg.Upload.CredentialsFile,
		})
	default:
		return &sinkHandle{Sink: csvSink, close: func() error { return nil }}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeUpload, "failed to create "+cfg.Upload.Provider+" uploader")
	}
	up := sink.NewUploadingSink(csvSink, uploader, cfg.Upload.Prefix, log)
	return &sinkHandle{Sink: up, close: up.Close}, nil
}

// serveMetrics exposes the Prometheus registry on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("serving metrics", zap.String("addr", fmt.Sprintf("http://%s/metrics", addr)))
}
