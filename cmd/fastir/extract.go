package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fastir/internal/pipeline"
	"github.com/ajitpratap0/fastir/pkg/config"
	"github.com/ajitpratap0/fastir/pkg/corpus"
	"github.com/ajitpratap0/fastir/pkg/features"
	"github.com/ajitpratap0/fastir/pkg/logger"
	"github.com/ajitpratap0/fastir/pkg/observability"
	"github.com/ajitpratap0/fastir/pkg/sink"
)

func newExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract inline features from a corpus",
		Long: `Extract reads every compiled unit of the corpus, runs the decoder on it and
writes one feature table per decodable unit. Units the decoder rejects are
logged and skipped.

Example:
  fastir extract --source hf://llvm-ml/ComPile --split train \
    --decoder ./inline-features --output s3://my-bucket/features --format parquet --limit 1000`,
		RunE: runExtract,
	}

	f := cmd.Flags()
	f.String("source", "", "Corpus location (hf://org/dataset, s3://, gs://, kafka://, or a local path)")
	f.String("split", "", "Corpus split")
	f.String("field", "", "Column holding the compiled unit bytes")
	f.String("decoder", "", "Decoder executable (reads a unit on stdin, writes Arrow IPC on stdout)")
	f.StringSlice("decoder-arg", nil, "Extra decoder argument (repeatable)")
	f.String("output", "", "Output location for feature tables")
	f.String("format", "", "Output format (arrow, parquet, avro)")
	f.Int64("limit", 0, "Stop after this many units (0 = whole corpus)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func runExtract(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyExtractFlags(cmd, cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	log := logger.Get().With(zap.String("component", "fastir-cli"))

	if err := observability.Init(cfg.Tracing); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(ctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopMetrics(shutdownCtx, srv, log)
		}()
	}

	decoder, err := features.NewCommandDecoder(cfg.Decoder)
	if err != nil {
		return err
	}
	extractor := features.NewExtractor(decoder, features.WithLogger(log))

	stream, err := corpus.New(ctx, cfg.Corpus, cfg.Storage, log)
	if err != nil {
		return err
	}

	out, err := sink.New(ctx, cfg.Output, cfg.Storage, log)
	if err != nil {
		stream.Close() //nolint:errcheck
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn("failed to close output", zap.Error(err))
		}
	}()

	log.Info("starting extraction",
		zap.String("source", cfg.Corpus.Source),
		zap.String("split", cfg.Corpus.Split),
		zap.String("decoder", decoder.String()),
		zap.String("output", cfg.Output.Destination),
		zap.String("format", cfg.Output.Format))

	runner := pipeline.NewRunner(stream, extractor, out, &pipeline.Config{
		Limit:            cfg.Pipeline.Limit,
		ProgressInterval: cfg.Pipeline.ProgressInterval,
	}, log)
	stats, runErr := runner.Run(ctx)

	summary, err := json.Marshal(struct {
		RunID string `json:"run_id"`
		pipeline.Stats
		Bytes int64 `json:"bytes_written"`
	}{runner.RunID(), stats, out.BytesWritten()})
	if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(summary))
	}
	return runErr
}

func applyExtractFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("source") {
		cfg.Corpus.Source, _ = f.GetString("source")
	}
	if f.Changed("split") {
		cfg.Corpus.Split, _ = f.GetString("split")
	}
	if f.Changed("field") {
		cfg.Corpus.Field, _ = f.GetString("field")
	}
	if f.Changed("decoder") {
		cfg.Decoder.Command, _ = f.GetString("decoder")
	}
	if f.Changed("decoder-arg") {
		cfg.Decoder.Args, _ = f.GetStringSlice("decoder-arg")
	}
	if f.Changed("output") {
		cfg.Output.Destination, _ = f.GetString("output")
	}
	if f.Changed("format") {
		cfg.Output.Format, _ = f.GetString("format")
	}
	if f.Changed("limit") {
		cfg.Pipeline.Limit, _ = f.GetInt64("limit")
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
}

// loadConfig reads the file named by --config and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.Options{Path: path, SearchDirs: []string{"."}})
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// stopMetrics shuts srv down and logs a failure at Warn.
func stopMetrics(ctx context.Context, srv *http.Server, log *zap.Logger) {
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("failed to stop metrics server", zap.Error(err))
	}
}
