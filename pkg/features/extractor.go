package features

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/logger"
	"github.com/ajitpratap0/fastir/pkg/metrics"
	"github.com/ajitpratap0/fastir/pkg/observability"
)

// Failure stages reported in logs and the extractions_total metric.
const (
	StageDecode       = "decode"
	StageDecoderPanic = "decoder_panic"
	StageDeserialize  = "deserialize"
	StageShape        = "shape"
	StageInternal     = "internal"
)

// Extractor converts compiled units into feature tables using a Decoder.
// Extract never panics and never returns an error: every failure is logged,
// counted and reported as an absent result.
type Extractor struct {
	decoder Decoder
	logger  *zap.Logger
	mem     memory.Allocator
}

// Option configures an Extractor
type Option func(*Extractor)

// WithLogger sets the logger used for diagnostics
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAllocator sets the allocator used for deserialized columns
func WithAllocator(mem memory.Allocator) Option {
	return func(e *Extractor) {
		if mem != nil {
			e.mem = mem
		}
	}
}

// NewExtractor creates an extractor around decoder.
func NewExtractor(decoder Decoder, opts ...Option) *Extractor {
	e := &Extractor{
		decoder: decoder,
		logger:  logger.Get(),
		mem:     memory.NewGoAllocator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "feature_extractor"))
	return e
}

// Extract decodes unit and deserializes the decoder output into a Table.
// It returns (nil, false) when the unit is malformed or anything else goes
// wrong; the decoder's message is logged under the "error" field. A decoder
// reporting zero call sites yields a zero-row table, not an absent result.
func (e *Extractor) Extract(ctx context.Context, unit []byte) (table *Table, ok bool) {
	timer := metrics.NewTimer()
	ctx, span := observability.StartSpan(ctx, "features.extract", attribute.Int("unit_bytes", len(unit)))
	log := logger.FromContext(ctx, e.logger)

	stage := StageInternal
	defer func() {
		if r := recover(); r != nil {
			err := &panicError{value: r, stack: debug.Stack()}
			table, ok = nil, false
			e.absent(log, stage, err, len(unit), timer)
			observability.EndSpan(span, err)
		}
	}()

	stage = StageDecode
	data, err := e.decode(ctx, unit)
	if err != nil {
		if isPanic(err) {
			stage = StageDecoderPanic
		}
		e.absent(log, stage, err, len(unit), timer)
		observability.EndSpan(span, err)
		return nil, false
	}

	stage = StageDeserialize
	table, err = ReadTable(data, e.mem)
	if err != nil {
		if errors.Is(err, ErrShape) {
			stage = StageShape
		}
		e.absent(log, stage, err, len(unit), timer)
		observability.EndSpan(span, err)
		return nil, false
	}

	elapsed := timer.Stop()
	metrics.ObserveExtraction(metrics.ResultTable, "", elapsed, table.NumRows())
	span.SetAttributes(attribute.Int64("rows", table.NumRows()), attribute.Int("columns", table.NumCols()))
	observability.EndSpan(span, nil)

	log.Debug("extracted features",
		zap.Int("unit_bytes", len(unit)),
		zap.Int64("rows", table.NumRows()),
		zap.Int("columns", table.NumCols()),
		zap.Duration("elapsed", elapsed))
	return table, true
}

// decode calls the decoder, converting a panic into an error.
func (e *Extractor) decode(ctx context.Context, unit []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &panicError{value: r, stack: debug.Stack()}
		}
	}()
	if e.decoder == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "no decoder configured")
	}
	return e.decoder.Decode(ctx, unit)
}

func (e *Extractor) absent(log *zap.Logger, stage string, err error, unitBytes int, timer *metrics.Timer) {
	metrics.ObserveExtraction(metrics.ResultAbsent, stage, timer.Stop(), 0)

	fields := []zap.Field{
		zap.String("stage", stage),
		zap.Int("unit_bytes", unitBytes),
		zap.Error(err),
	}
	var pe *panicError
	if errors.As(err, &pe) {
		log.Error("error extracting inline features", append(fields, zap.ByteString("stack", pe.stack))...)
		return
	}
	log.Warn("error extracting inline features", fields...)
}

// panicError carries a recovered panic value
type panicError struct {
	value interface{}
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func isPanic(err error) bool {
	var pe *panicError
	return errors.As(err, &pe)
}
