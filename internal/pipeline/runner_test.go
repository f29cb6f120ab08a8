package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/fastir/pkg/corpus"
	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
	"github.com/ajitpratap0/fastir/pkg/logger"
	"github.com/ajitpratap0/fastir/pkg/testutil"
)

type recordingSink struct {
	mu      sync.Mutex
	indexes []int64
	rows    int64
	err     error
}

func (s *recordingSink) Write(_ context.Context, index int64, t *features.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.indexes = append(s.indexes, index)
	s.rows += t.NumRows()
	return nil
}

func (s *recordingSink) Close() error { return nil }

func units(payloads ...string) *corpus.SliceStream {
	out := make([][]byte, len(payloads))
	for i, p := range payloads {
		out[i] = []byte(p)
	}
	return corpus.NewSliceStream(out...)
}

func TestRunnerCountsTablesAndAbsentUnits(t *testing.T) {
	log := testutil.TestLogger(t)
	out := &recordingSink{}
	extractor := features.NewExtractor(testutil.SampleDecoder(t), features.WithLogger(log))

	runner := NewRunner(units("a", "", "b", "c"), extractor, out, &Config{}, log)
	stats, err := runner.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Units)
	assert.Equal(t, int64(3), stats.Tables)
	assert.Equal(t, int64(1), stats.Absent)
	assert.Equal(t, int64(12), stats.Rows)
	assert.Equal(t, []int64{0, 2, 3}, out.indexes)
	assert.Positive(t, stats.Duration)
}

func TestRunnerLimit(t *testing.T) {
	out := &recordingSink{}
	extractor := features.NewExtractor(testutil.SampleDecoder(t), features.WithLogger(zap.NewNop()))

	runner := NewRunner(units("a", "b", "c", "d"), extractor, out, &Config{Limit: 2}, testutil.TestLogger(t))
	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Units)
	assert.Equal(t, []int64{0, 1}, out.indexes)
}

func TestRunnerSinkFailureIsFatal(t *testing.T) {
	out := &recordingSink{err: errors.New(errors.ErrorTypeConnection, "bucket unreachable")}
	extractor := features.NewExtractor(testutil.SampleDecoder(t), features.WithLogger(zap.NewNop()))

	runner := NewRunner(units("a", "b"), extractor, out, nil, testutil.TestLogger(t))
	stats, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeConnection))
	assert.Equal(t, int64(1), stats.Units)
	assert.Zero(t, stats.Tables)
}

func TestRunnerSourceUnavailable(t *testing.T) {
	stream := &unavailableStream{}
	runner := NewRunner(stream, features.NewExtractor(testutil.SampleDecoder(t)), &recordingSink{}, nil, testutil.TestLogger(t))
	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, corpus.IsSourceUnavailable(err))
	assert.True(t, stream.closed, "stream must be closed when Open fails")
}

type unavailableStream struct{ closed bool }

func (s *unavailableStream) Open(context.Context) error {
	return errors.New(errors.ErrorTypeSourceUnavailable, "corpus does not exist")
}

func (s *unavailableStream) Next(context.Context) (corpus.Unit, error) {
	return nil, corpus.ErrEndOfStream
}

func (s *unavailableStream) Close() error {
	s.closed = true
	return nil
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(units("a"), features.NewExtractor(testutil.SampleDecoder(t)), &recordingSink{}, nil, testutil.TestLogger(t))
	_, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerIsSingleUse(t *testing.T) {
	runner := NewRunner(units(), features.NewExtractor(testutil.SampleDecoder(t)), &recordingSink{}, nil, testutil.TestLogger(t))
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRunnerTagsDiagnosticsWithUnitIndex(t *testing.T) {
	log, logs := testutil.ObservedLogger(zapcore.DebugLevel)
	extractor := features.NewExtractor(testutil.SampleDecoder(t), features.WithLogger(log))

	runner := NewRunner(units("a", ""), extractor, &recordingSink{}, &Config{}, log)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	entries := logs.FilterMessage("error extracting inline features").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 1, fields[string(logger.UnitIndexKey)])
	assert.Equal(t, runner.RunID(), fields[string(logger.RunIDKey)])
}

func TestRunnerLogsProgress(t *testing.T) {
	log, logs := testutil.ObservedLogger(zapcore.InfoLevel)
	decoder := testutil.SampleDecoder(t)
	slow := features.DecoderFunc(func(ctx context.Context, unit []byte) ([]byte, error) {
		time.Sleep(30 * time.Millisecond)
		return decoder.Decode(ctx, unit)
	})

	runner := NewRunner(units("a", "b", "c"), features.NewExtractor(slow, features.WithLogger(zap.NewNop())),
		&recordingSink{}, &Config{ProgressInterval: 10 * time.Millisecond}, log)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Positive(t, logs.FilterMessage("extraction progress").Len())
	assert.Equal(t, 1, logs.FilterMessage("extraction run completed").Len())
}

func TestResourceMonitor(t *testing.T) {
	usage, err := NewResourceMonitor().GetResourceUsage()
	require.NoError(t, err)
	assert.Positive(t, usage.GoroutineCount)
	assert.Len(t, usage.Fields(), 4)
}
