// Package features turns compiled units into columnar feature tables.
//
// The heavy lifting (parsing LLVM bitcode and walking call sites) happens in
// an external Decoder that returns an Arrow IPC buffer. The Extractor
// deserializes that buffer into a Table and absorbs every failure, so a
// corrupt unit never stops a batch run:
//
//	decoder, err := features.NewCommandDecoder(cfg.Decoder)
//	if err != nil {
//		return err
//	}
//	extractor := features.NewExtractor(decoder, features.WithLogger(log))
//
//	table, ok := extractor.Extract(ctx, unit)
//	if !ok {
//		continue // already logged and counted
//	}
//	defer table.Release()
package features

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ErrShape is the cause of errors for tables whose columns disagree with
// the schema or with each other.
var ErrShape = fmt.Errorf("table is not rectangular")

// Table is an immutable set of named, typed columns of equal length.
type Table struct {
	schema *arrow.Schema
	cols   []arrow.Array
	rows   int64
}

// NewTable assembles a table from one array per schema field. Every column
// must match its field's type and all columns must have the same length.
// NewTable retains the columns; the caller keeps its own references.
func NewTable(schema *arrow.Schema, cols []arrow.Array) (*Table, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: schema is nil", ErrShape)
	}
	if len(cols) != schema.NumFields() {
		return nil, fmt.Errorf("%w: schema has %d fields but %d columns were given",
			ErrShape, schema.NumFields(), len(cols))
	}

	var rows int64
	for i, col := range cols {
		field := schema.Field(i)
		if col == nil {
			return nil, fmt.Errorf("%w: column %q is nil", ErrShape, field.Name)
		}
		if !arrow.TypeEqual(field.Type, col.DataType()) {
			return nil, fmt.Errorf("%w: column %q has type %s, schema says %s",
				ErrShape, field.Name, col.DataType(), field.Type)
		}
		if i == 0 {
			rows = int64(col.Len())
		} else if int64(col.Len()) != rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, expected %d",
				ErrShape, field.Name, col.Len(), rows)
		}
	}

	for _, col := range cols {
		col.Retain()
	}
	return &Table{schema: schema, cols: append([]arrow.Array(nil), cols...), rows: rows}, nil
}

// Schema returns the table schema
func (t *Table) Schema() *arrow.Schema { return t.schema }

// NumRows returns the number of rows
func (t *Table) NumRows() int64 { return t.rows }

// NumCols returns the number of columns
func (t *Table) NumCols() int { return len(t.cols) }

// Column returns the i-th column
func (t *Table) Column(i int) arrow.Array { return t.cols[i] }

// ColumnByName returns the first column called name.
func (t *Table) ColumnByName(name string) (arrow.Array, bool) {
	idx := t.schema.FieldIndices(name)
	if len(idx) == 0 {
		return nil, false
	}
	return t.cols[idx[0]], true
}

// ColumnNames returns the column names in order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, f := range t.schema.Fields() {
		names[i] = f.Name
	}
	return names
}

// Record returns the table as a single record batch. The caller must
// release it.
func (t *Table) Record() arrow.Record {
	return array.NewRecord(t.schema, t.cols, t.rows)
}

// Release drops the table's references to its columns. The table must not
// be used afterwards.
func (t *Table) Release() {
	for _, col := range t.cols {
		col.Release()
	}
	t.cols = nil
}

// String renders the schema and row count, e.g. "3 rows: callee_size:int64, call_count:int64".
func (t *Table) String() string {
	parts := make([]string, 0, t.schema.NumFields())
	for _, f := range t.schema.Fields() {
		parts = append(parts, f.Name+":"+f.Type.String())
	}
	return fmt.Sprintf("%d rows: %s", t.rows, strings.Join(parts, ", "))
}
