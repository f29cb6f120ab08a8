package features

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

// arrowFileMagic starts every Arrow IPC file; its absence means the stream format.
var arrowFileMagic = []byte("ARROW1")

// ReadTable deserializes an Arrow IPC buffer, in either the file or the
// stream format. Record batches are concatenated column by column, so names,
// types and row order are preserved. An encoding without batches yields a
// zero-row table.
func ReadTable(data []byte, mem memory.Allocator) (*Table, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	var (
		schema  *arrow.Schema
		records []arrow.Record
		err     error
	)
	if bytes.HasPrefix(data, arrowFileMagic) {
		schema, records, err = readFileFormat(data, mem)
	} else {
		schema, records, err = readStreamFormat(data, mem)
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid arrow ipc encoding").
			WithDetail("bytes", len(data))
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()

	for i, field := range schema.Fields() {
		switch len(records) {
		case 0:
			b := array.NewBuilder(mem, field.Type)
			cols[i] = b.NewArray()
			b.Release()
		case 1:
			cols[i] = records[0].Column(i)
			cols[i].Retain()
		default:
			chunks := make([]arrow.Array, len(records))
			for j, rec := range records {
				chunks[j] = rec.Column(i)
			}
			col, err := array.Concatenate(chunks, mem)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to concatenate record batches").
					WithDetail("column", field.Name)
			}
			cols[i] = col
		}
	}

	table, err := NewTable(schema, cols)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decoded table is malformed")
	}
	return table, nil
}

func readFileFormat(data []byte, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	r, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	records := make([]arrow.Record, 0, r.NumRecords())
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.RecordAt(i)
		if err != nil {
			return nil, records, fmt.Errorf("record batch %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return r.Schema(), records, nil
}

func readStreamFormat(data []byte, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, err
	}
	defer r.Release()

	var records []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := r.Err(); err != nil && err != io.EOF {
		return nil, records, err
	}
	return r.Schema(), records, nil
}

// WriteTable writes t to w in the Arrow IPC file format as a single record
// batch. Options such as ipc.WithZstd() are passed to the writer.
func WriteTable(w io.Writer, t *Table, opts ...ipc.Option) error {
	opts = append([]ipc.Option{ipc.WithSchema(t.Schema())}, opts...)
	fw, err := ipc.NewFileWriter(w, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Arrow writer: %w", err)
	}

	rec := t.Record()
	defer rec.Release()
	if err := fw.Write(rec); err != nil {
		fw.Close() //nolint:errcheck
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return nil
}

// EncodeTable returns t as an Arrow IPC file buffer.
func EncodeTable(t *Table, opts ...ipc.Option) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, t, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
