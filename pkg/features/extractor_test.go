package features

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func observedExtractor(t *testing.T, d Decoder) (*Extractor, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewExtractor(d, WithLogger(zap.New(core))), logs
}

// callSiteTable builds the three-row callee_size/call_count table.
func callSiteTable(t *testing.T, mem memory.Allocator) *Table {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "callee_size", Type: arrow.PrimitiveTypes.Int64},
		{Name: "call_count", Type: arrow.PrimitiveTypes.Int64},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{10, 25, 7}, nil)
	b.Field(1).(*array.Int64Builder).AppendValues([]int64{1, 3, 2}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	table, err := NewTable(schema, rec.Columns())
	require.NoError(t, err)
	return table
}

func encode(t *testing.T, table *Table, opts ...ipc.Option) []byte {
	t.Helper()
	data, err := EncodeTable(table, opts...)
	require.NoError(t, err)
	return data
}

func TestExtractThreeRowTable(t *testing.T) {
	mem := memory.NewGoAllocator()
	want := callSiteTable(t, mem)
	defer want.Release()

	ext, logs := observedExtractor(t, StaticDecoder{Output: encode(t, want)})
	got, ok := ext.Extract(context.Background(), []byte("BC\xc0\xde"))
	require.True(t, ok)
	defer got.Release()

	assert.Equal(t, int64(3), got.NumRows())
	assert.Equal(t, []string{"callee_size", "call_count"}, got.ColumnNames())
	assert.True(t, want.Schema().Equal(got.Schema()))

	size, ok := got.ColumnByName("callee_size")
	require.True(t, ok)
	assert.Equal(t, []int64{10, 25, 7}, size.(*array.Int64).Int64Values())
	calls, ok := got.ColumnByName("call_count")
	require.True(t, ok)
	assert.Equal(t, []int64{1, 3, 2}, calls.(*array.Int64).Int64Values())

	assert.Zero(t, logs.FilterMessage("error extracting inline features").Len())
}

func TestExtractMalformedUnitIsAbsent(t *testing.T) {
	ext, logs := observedExtractor(t, StaticDecoder{Err: stderrors.New("invalid bitcode")})

	got, ok := ext.Extract(context.Background(), []byte{})
	assert.False(t, ok)
	assert.Nil(t, got)

	entries := logs.FilterMessage("error extracting inline features").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields["error"], "invalid bitcode")
	assert.Equal(t, StageDecode, fields["stage"])
	assert.EqualValues(t, 0, fields["unit_bytes"])
}

func TestExtractZeroRowsIsPresent(t *testing.T) {
	mem := memory.NewGoAllocator()
	empty, err := (&Module{Functions: map[string]Function{}}).InlineTable(mem)
	require.NoError(t, err)
	defer empty.Release()

	ext, logs := observedExtractor(t, StaticDecoder{Output: encode(t, empty)})
	got, ok := ext.Extract(context.Background(), []byte("unit"))
	require.True(t, ok)
	defer got.Release()

	assert.Zero(t, got.NumRows())
	assert.Equal(t, InlineSchema.NumFields(), got.NumCols())
	assert.Zero(t, logs.FilterMessage("error extracting inline features").Len())
}

func TestExtractIsDeterministic(t *testing.T) {
	data, err := SampleModule().EncodeInline()
	require.NoError(t, err)
	ext := NewExtractor(StaticDecoder{Output: data}, WithLogger(zaptest.NewLogger(t)))

	first, ok := ext.Extract(context.Background(), []byte("unit"))
	require.True(t, ok)
	defer first.Release()
	second, ok := ext.Extract(context.Background(), []byte("unit"))
	require.True(t, ok)
	defer second.Release()

	require.Equal(t, first.NumRows(), second.NumRows())
	for i := 0; i < first.NumCols(); i++ {
		assert.True(t, array.Equal(first.Column(i), second.Column(i)), "column %d", i)
	}
}

func TestExtractDecoderPanic(t *testing.T) {
	ext, logs := observedExtractor(t, DecoderFunc(func(context.Context, []byte) ([]byte, error) {
		panic("segfault in decoder")
	}))

	got, ok := ext.Extract(context.Background(), []byte("unit"))
	assert.False(t, ok)
	assert.Nil(t, got)

	entries := logs.FilterMessage("error extracting inline features").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, StageDecoderPanic, entries[0].ContextMap()["stage"])
	assert.Contains(t, entries[0].ContextMap()["error"], "segfault in decoder")
}

func TestExtractCorruptOutput(t *testing.T) {
	ext, logs := observedExtractor(t, StaticDecoder{Output: []byte("not arrow at all")})

	_, ok := ext.Extract(context.Background(), []byte("unit"))
	assert.False(t, ok)

	entries := logs.FilterMessage("error extracting inline features").All()
	require.Len(t, entries, 1)
	assert.Equal(t, StageDeserialize, entries[0].ContextMap()["stage"])
}

func TestExtractStreamFormat(t *testing.T) {
	mem := memory.NewGoAllocator()
	want := callSiteTable(t, mem)
	defer want.Release()

	// two batches in the stream format
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(want.Schema()))
	rec := want.Record()
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Write(rec))
	rec.Release()
	require.NoError(t, w.Close())

	ext, _ := observedExtractor(t, StaticDecoder{Output: buf.Bytes()})
	got, ok := ext.Extract(context.Background(), []byte("unit"))
	require.True(t, ok)
	defer got.Release()

	assert.Equal(t, int64(6), got.NumRows())
	size, _ := got.ColumnByName("callee_size")
	assert.Equal(t, []int64{10, 25, 7, 10, 25, 7}, size.(*array.Int64).Int64Values())
}

func TestExtractCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ext, logs := observedExtractor(t, StaticDecoder{Output: []byte("unused")})
	_, ok := ext.Extract(ctx, []byte("unit"))
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("error extracting inline features").Len())
}

func TestExtractWithoutDecoder(t *testing.T) {
	ext, logs := observedExtractor(t, nil)
	_, ok := ext.Extract(context.Background(), []byte("unit"))
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("error extracting inline features").Len())
}

func TestExtractReleasesMemory(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	data, err := SampleModule().EncodeInline()
	require.NoError(t, err)

	ext := NewExtractor(StaticDecoder{Output: data}, WithLogger(zaptest.NewLogger(t)), WithAllocator(mem))
	got, ok := ext.Extract(context.Background(), []byte("unit"))
	require.True(t, ok)
	got.Release()
}
