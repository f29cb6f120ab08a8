package columnar

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
)

func sampleTable(t *testing.T) *features.Table {
	t.Helper()
	table, err := features.SampleModule().InlineTable(memory.NewGoAllocator())
	require.NoError(t, err)
	t.Cleanup(table.Release)
	return table
}

func stringColumn(t *testing.T, table *features.Table, name string) []string {
	t.Helper()
	col, ok := table.ColumnByName(name)
	require.True(t, ok, "missing column %s", name)
	s := col.(*array.String)
	out := make([]string, s.Len())
	for i := range out {
		out[i] = s.Value(i)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		format      Format
		compression string
	}{
		{Arrow, "none"},
		{Arrow, "zstd"},
		{Arrow, "lz4"},
		{Parquet, "snappy"},
		{Parquet, "zstd"},
		{Parquet, "gzip"},
		{Avro, "none"},
		{Avro, "deflate"},
		{Avro, "snappy"},
	}

	for _, tc := range cases {
		t.Run(string(tc.format)+"/"+tc.compression, func(t *testing.T) {
			want := sampleTable(t)

			var buf bytes.Buffer
			n, err := WriteTable(&buf, want, &WriterConfig{Format: tc.format, Compression: tc.compression})
			require.NoError(t, err)
			assert.Equal(t, int64(buf.Len()), n)

			got, err := ReadTable(buf.Bytes(), tc.format, nil)
			require.NoError(t, err)
			defer got.Release()

			assert.Equal(t, want.NumRows(), got.NumRows())
			assert.Equal(t, want.ColumnNames(), got.ColumnNames())
			assert.Equal(t, stringColumn(t, want, "callee_name"), stringColumn(t, got, "callee_name"))

			ratio, _ := got.ColumnByName("caller_to_callee_instr_ratio")
			assert.InDelta(t, 42.0/18.0, ratio.(*array.Float64).Value(0), 1e-9)

			if GetFormatInfo(tc.format).Lossless {
				for i := 0; i < want.NumCols(); i++ {
					assert.True(t, array.Equal(want.Column(i), got.Column(i)), "column %s", want.Schema().Field(i).Name)
				}
			}
		})
	}
}

func TestAvroUnsignedBecomesSigned(t *testing.T) {
	want := sampleTable(t)
	var buf bytes.Buffer
	_, err := WriteTable(&buf, want, &WriterConfig{Format: Avro})
	require.NoError(t, err)

	got, err := ReadTable(buf.Bytes(), Avro, nil)
	require.NoError(t, err)
	defer got.Release()

	col, _ := got.ColumnByName("callee_instruction_count")
	assert.Equal(t, arrow.INT64, col.DataType().ID())
	assert.Equal(t, []int64{18, 12, 12, 3}, col.(*array.Int64).Int64Values())
}

func TestNullableColumns(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "size", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).AppendValues([]string{"a", "", "c"}, []bool{true, false, true})
	b.Field(1).(*array.Int64Builder).AppendValues([]int64{1, 2, 0}, []bool{true, true, false})
	rec := b.NewRecord()
	defer rec.Release()

	table, err := features.NewTable(schema, rec.Columns())
	require.NoError(t, err)
	defer table.Release()

	for _, format := range []Format{Arrow, Parquet, Avro} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			_, err := WriteTable(&buf, table, &WriterConfig{Format: format})
			require.NoError(t, err)

			got, err := ReadTable(buf.Bytes(), format, mem)
			require.NoError(t, err)
			defer got.Release()

			name, _ := got.ColumnByName("name")
			size, _ := got.ColumnByName("size")
			assert.True(t, name.IsNull(1))
			assert.True(t, size.IsNull(2))
			assert.Equal(t, "c", name.(*array.String).Value(2))
			assert.Equal(t, int64(2), size.(*array.Int64).Value(1))
		})
	}
}

func TestZeroRowTable(t *testing.T) {
	empty, err := (&features.Module{}).InlineTable(nil)
	require.NoError(t, err)
	defer empty.Release()

	for _, format := range []Format{Arrow, Parquet, Avro} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			_, err := WriteTable(&buf, empty, &WriterConfig{Format: format})
			require.NoError(t, err)

			got, err := ReadTable(buf.Bytes(), format, nil)
			require.NoError(t, err)
			defer got.Release()
			assert.Zero(t, got.NumRows())
			assert.Equal(t, empty.NumCols(), got.NumCols())
		})
	}
}

func TestWriterAppendsTables(t *testing.T) {
	table := sampleTable(t)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, table.Schema(), &WriterConfig{Format: Parquet, Compression: "snappy", RowGroupSize: 2})
	require.NoError(t, err)
	require.NoError(t, w.Write(table))
	require.NoError(t, w.Write(table))
	require.NoError(t, w.Close())
	assert.Equal(t, 2*table.NumRows(), w.RowsWritten())
	assert.Equal(t, Parquet, w.Format())

	got, err := ReadTable(buf.Bytes(), Parquet, nil)
	require.NoError(t, err)
	defer got.Release()
	assert.Equal(t, 2*table.NumRows(), got.NumRows())
}

func TestWriterRejectsOtherSchema(t *testing.T) {
	table := sampleTable(t)
	other := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)

	w, err := NewWriter(&bytes.Buffer{}, other, &WriterConfig{Format: Arrow})
	require.NoError(t, err)
	err = w.Write(table)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestFormatNames(t *testing.T) {
	f, err := ParseFormat(" Parquet ")
	require.NoError(t, err)
	assert.Equal(t, Parquet, f)

	f, err = ParseFormat("ipc")
	require.NoError(t, err)
	assert.Equal(t, Arrow, f)

	_, err = ParseFormat("orc")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	f, err = FormatFromPath("out/part-000001.avro")
	require.NoError(t, err)
	assert.Equal(t, Avro, f)

	_, err = FormatFromPath("out/part-000001.csv")
	assert.Error(t, err)
}

func TestCheckCompression(t *testing.T) {
	assert.NoError(t, CheckCompression(Arrow, "lz4"))
	assert.NoError(t, CheckCompression(Parquet, "brotli"))
	assert.NoError(t, CheckCompression(Avro, ""))
	assert.Error(t, CheckCompression(Arrow, "snappy"))
	assert.Error(t, CheckCompression(Avro, "zstd"))
	assert.Error(t, CheckCompression("orc", "none"))
}

func TestReadRejectsGarbage(t *testing.T) {
	for _, format := range []Format{Arrow, Parquet, Avro} {
		_, err := ReadTable([]byte("definitely not columnar"), format, nil)
		assert.Error(t, err, string(format))
	}
}
