// Package pipeline drives a batch extraction run: it pulls compiled units from
// a corpus stream, extracts a feature table from each and hands present tables
// to a sink.
//
// # Failure model
//
// A unit that cannot be decoded is absent: the extractor has already logged
// it, the runner counts it and moves on. Errors from the stream (the corpus
// went away) and from the sink (the output cannot be written) end the run.
//
// # Basic Usage
//
//	runner := pipeline.NewRunner(stream, extractor, out, &pipeline.Config{
//	    Limit:            10000,
//	    ProgressInterval: 30 * time.Second,
//	}, logger)
//
//	stats, err := runner.Run(ctx)
//
// Units are processed one at a time in corpus order.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fastir/pkg/corpus"
	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
	"github.com/ajitpratap0/fastir/pkg/logger"
	"github.com/ajitpratap0/fastir/pkg/observability"
	"github.com/ajitpratap0/fastir/pkg/sink"
)

// Extractor turns one unit into a feature table, or reports it absent.
type Extractor interface {
	Extract(ctx context.Context, unit []byte) (*features.Table, bool)
}

// Config controls a run.
type Config struct {
	Limit            int64         // Stop after this many units (0 = whole corpus)
	ProgressInterval time.Duration // How often progress is logged (0 disables)
}

// DefaultConfig returns the run defaults
func DefaultConfig() *Config {
	return &Config{
		ProgressInterval: 30 * time.Second,
	}
}

// Stats summarizes a run.
type Stats struct {
	Units    int64         `json:"units"`
	Tables   int64         `json:"tables"`
	Absent   int64         `json:"absent"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// UnitsPerSecond returns the unit throughput
func (s Stats) UnitsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Units) / s.Duration.Seconds()
}

// Runner executes one extraction run. A Runner is single use.
type Runner struct {
	stream    corpus.Stream
	extractor Extractor
	sink      sink.Sink
	config    Config
	logger    *zap.Logger
	runID     string

	units  atomic.Int64
	tables atomic.Int64
	absent atomic.Int64
	rows   atomic.Int64

	startTime time.Time
	resources *ResourceMonitor
	started   atomic.Bool
}

// NewRunner creates a runner. The runner opens and closes stream; it does not
// close out.
func NewRunner(stream corpus.Stream, extractor Extractor, out sink.Sink, config *Config, log *zap.Logger) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	runID := uuid.NewString()
	return &Runner{
		stream:    stream,
		extractor: extractor,
		sink:      out,
		config:    *config,
		logger:    logger.OrGlobal(log).With(zap.String("component", "pipeline"), zap.String("run_id", runID)),
		runID:     runID,
	}
}

// RunID identifies this run in logs
func (r *Runner) RunID() string { return r.runID }

// Run processes units until the corpus is exhausted, the limit is reached or
// ctx is cancelled. Cancellation returns the context error together with the
// stats gathered so far.
func (r *Runner) Run(ctx context.Context) (stats Stats, err error) {
	if !r.started.CompareAndSwap(false, true) {
		return Stats{}, errors.New(errors.ErrorTypeValidation, "runner already used")
	}
	r.startTime = time.Now()
	r.resources = NewResourceMonitor()

	ctx = context.WithValue(ctx, logger.RunIDKey, r.runID)
	ctx, span := observability.StartSpan(ctx, "pipeline.run", attribute.String("run_id", r.runID))
	defer func() {
		stats = r.Stats()
		span.SetAttributes(
			attribute.Int64("units", stats.Units),
			attribute.Int64("tables", stats.Tables),
			attribute.Int64("absent", stats.Absent))
		observability.EndSpan(span, err)
	}()

	r.logger.Info("starting extraction run",
		zap.Int64("limit", r.config.Limit),
		zap.Duration("progress_interval", r.config.ProgressInterval))

	defer func() {
		if cerr := r.stream.Close(); cerr != nil {
			r.logger.Warn("failed to close corpus", zap.Error(cerr))
		}
	}()
	if err := r.stream.Open(ctx); err != nil {
		r.logger.Error("failed to open corpus", zap.Error(err))
		return r.Stats(), err
	}

	progressDone := make(chan struct{})
	var wg sync.WaitGroup
	if r.config.ProgressInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.reportProgress(progressDone)
		}()
	}
	defer func() {
		close(progressDone)
		wg.Wait()
	}()

	if err := r.loop(ctx); err != nil {
		r.logger.Error("extraction run failed", zap.Error(err), zap.Int64("units", r.units.Load()))
		return r.Stats(), err
	}

	final := r.Stats()
	r.logger.Info("extraction run completed",
		zap.Int64("units", final.Units),
		zap.Int64("tables", final.Tables),
		zap.Int64("absent", final.Absent),
		zap.Int64("rows", final.Rows),
		zap.Duration("duration", final.Duration),
		zap.Float64("units_per_second", final.UnitsPerSecond()))
	return final, nil
}

func (r *Runner) loop(ctx context.Context) error {
	for {
		if r.config.Limit > 0 && r.units.Load() >= r.config.Limit {
			r.logger.Info("unit limit reached", zap.Int64("limit", r.config.Limit))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		unit, err := r.stream.Next(ctx)
		if errors.Is(err, corpus.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}

		index := r.units.Add(1) - 1
		unitCtx := context.WithValue(ctx, logger.UnitIndexKey, index)

		table, ok := r.extractor.Extract(unitCtx, unit)
		if !ok {
			r.absent.Add(1)
			continue
		}

		err = r.sink.Write(unitCtx, index, table)
		rows := table.NumRows()
		table.Release()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write feature table").
				WithDetail("unit_index", index)
		}
		r.tables.Add(1)
		r.rows.Add(rows)
	}
}

// reportProgress logs counters every ProgressInterval until done is closed.
func (r *Runner) reportProgress(done <-chan struct{}) {
	ticker := time.NewTicker(r.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := r.Stats()
			fields := []zap.Field{
				zap.Int64("units", s.Units),
				zap.Int64("tables", s.Tables),
				zap.Int64("absent", s.Absent),
				zap.Int64("rows", s.Rows),
				zap.Float64("units_per_second", s.UnitsPerSecond()),
			}
			if usage, err := r.resources.GetResourceUsage(); err == nil {
				fields = append(fields, usage.Fields()...)
			}
			r.logger.Info("extraction progress", fields...)
		case <-done:
			return
		}
	}
}

// Stats returns a snapshot of the run counters.
func (r *Runner) Stats() Stats {
	s := Stats{
		Units:  r.units.Load(),
		Tables: r.tables.Load(),
		Absent: r.absent.Load(),
		Rows:   r.rows.Load(),
	}
	if !r.startTime.IsZero() {
		s.Duration = time.Since(r.startTime)
	}
	return s
}
