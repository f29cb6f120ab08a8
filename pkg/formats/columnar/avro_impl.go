package columnar

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
)

const avroRecordName = "features"

// avroWriter implements Writer for the Avro object container format
type avroWriter struct {
	out         *countingWriter
	arrowSchema *arrow.Schema
	avroTypes   []string
	ocfWriter   *goavro.OCFWriter
	rows        int64
	mu          sync.Mutex
}

func newAvroWriter(w *countingWriter, schema *arrow.Schema, config *WriterConfig) (*avroWriter, error) {
	avroSchema, types, err := arrowToAvroSchema(schema)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create Avro codec: %w", err)
	}
	compression, err := avroCompression(config.Compression)
	if err != nil {
		return nil, err
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: compression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Avro writer: %w", err)
	}
	return &avroWriter{out: w, arrowSchema: schema, avroTypes: types, ocfWriter: ocfWriter}, nil
}

func (aw *avroWriter) Write(t *features.Table) error {
	if err := checkSchema(aw.arrowSchema, t); err != nil {
		return err
	}
	aw.mu.Lock()
	defer aw.mu.Unlock()

	batch := make([]interface{}, 0, t.NumRows())
	for row := 0; row < int(t.NumRows()); row++ {
		datum := make(map[string]interface{}, t.NumCols())
		for i, f := range aw.arrowSchema.Fields() {
			col := t.Column(i)
			if col.IsNull(row) {
				datum[f.Name] = nil
				continue
			}
			v := avroValue(col, row)
			if f.Nullable {
				v = goavro.Union(aw.avroTypes[i], v)
			}
			datum[f.Name] = v
		}
		batch = append(batch, datum)
	}

	if len(batch) == 0 {
		return nil
	}
	if err := aw.ocfWriter.Append(batch); err != nil {
		return fmt.Errorf("failed to write Avro records: %w", err)
	}
	aw.rows += t.NumRows()
	return nil
}

// Close is a no-op: the container writer flushes each Append as a block.
func (aw *avroWriter) Close() error { return nil }

func (aw *avroWriter) Format() Format { return Avro }

func (aw *avroWriter) BytesWritten() int64 { return aw.out.n }

func (aw *avroWriter) RowsWritten() int64 { return aw.rows }

type avroField struct {
	Name string      `json:"name"`
	Type interface{} `json:"type"`
}

type avroRecord struct {
	Type   string      `json:"type"`
	Name   string      `json:"name"`
	Fields []avroField `json:"fields"`
}

// arrowToAvroSchema returns the Avro record schema and each field's primitive type.
func arrowToAvroSchema(schema *arrow.Schema) (string, []string, error) {
	rec := avroRecord{Type: "record", Name: avroRecordName}
	types := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		t, err := arrowToAvroType(f.Type)
		if err != nil {
			return "", nil, errors.Wrap(err, errors.ErrorTypeCapability, "avro output").
				WithDetail("field", f.Name)
		}
		types[i] = t
		if f.Nullable {
			rec.Fields = append(rec.Fields, avroField{Name: f.Name, Type: []string{"null", t}})
		} else {
			rec.Fields = append(rec.Fields, avroField{Name: f.Name, Type: t})
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", nil, err
	}
	return string(b), types, nil
}

func arrowToAvroType(dt arrow.DataType) (string, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return "boolean", nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.UINT8, arrow.UINT16:
		return "int", nil
	case arrow.INT64, arrow.UINT32, arrow.UINT64:
		return "long", nil
	case arrow.FLOAT32:
		return "float", nil
	case arrow.FLOAT64:
		return "double", nil
	case arrow.STRING, arrow.LARGE_STRING:
		return "string", nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return "bytes", nil
	default:
		return "", fmt.Errorf("unsupported type %s", dt)
	}
}

func avroValue(col arrow.Array, i int) interface{} {
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(i)
	case *array.Int8:
		return int32(c.Value(i))
	case *array.Int16:
		return int32(c.Value(i))
	case *array.Int32:
		return c.Value(i)
	case *array.Uint8:
		return int32(c.Value(i))
	case *array.Uint16:
		return int32(c.Value(i))
	case *array.Int64:
		return c.Value(i)
	case *array.Uint32:
		return int64(c.Value(i))
	case *array.Uint64:
		return int64(c.Value(i))
	case *array.Float32:
		return c.Value(i)
	case *array.Float64:
		return c.Value(i)
	case *array.String:
		return c.Value(i)
	case *array.LargeString:
		return c.Value(i)
	case *array.Binary:
		return c.Value(i)
	case *array.LargeBinary:
		return c.Value(i)
	default:
		return nil
	}
}

func avroToArrowType(t string) (arrow.DataType, error) {
	switch t {
	case "boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "int":
		return arrow.PrimitiveTypes.Int32, nil
	case "long":
		return arrow.PrimitiveTypes.Int64, nil
	case "float":
		return arrow.PrimitiveTypes.Float32, nil
	case "double":
		return arrow.PrimitiveTypes.Float64, nil
	case "string":
		return arrow.BinaryTypes.String, nil
	case "bytes":
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("unsupported avro type %q", t)
	}
}

// avroFieldType resolves a field type to its primitive name and nullability.
func avroFieldType(t interface{}) (string, bool, error) {
	switch v := t.(type) {
	case string:
		return v, false, nil
	case []interface{}:
		var prim string
		nullable := false
		for _, branch := range v {
			s, ok := branch.(string)
			if !ok {
				return "", false, fmt.Errorf("unsupported avro union %v", v)
			}
			if s == "null" {
				nullable = true
				continue
			}
			if prim != "" {
				return "", false, fmt.Errorf("unsupported avro union %v", v)
			}
			prim = s
		}
		return prim, nullable, nil
	default:
		return "", false, fmt.Errorf("unsupported avro type %v", t)
	}
}

func readAvro(data []byte, mem memory.Allocator) (*features.Table, error) {
	ocf, err := goavro.NewOCFReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid avro container")
	}

	var rec struct {
		Fields []avroField `json:"fields"`
	}
	if err := json.Unmarshal([]byte(ocf.Codec().Schema()), &rec); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid avro schema")
	}

	fields := make([]arrow.Field, len(rec.Fields))
	prims := make([]string, len(rec.Fields))
	for i, f := range rec.Fields {
		prim, nullable, err := avroFieldType(f.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCapability, "avro input").WithDetail("field", f.Name)
		}
		dt, err := avroToArrowType(prim)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCapability, "avro input").WithDetail("field", f.Name)
		}
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: nullable}
		prims[i] = prim
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid avro record")
		}
		m, ok := datum.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "avro datum is %T, not a record", datum)
		}
		for i, f := range fields {
			v := m[f.Name]
			if u, ok := v.(map[string]interface{}); ok {
				v = u[prims[i]]
			}
			if err := appendAvro(b.Field(i), v); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid avro value").WithDetail("field", f.Name)
			}
		}
	}
	if err := ocf.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid avro container")
	}

	out := b.NewRecord()
	defer out.Release()
	return features.NewTable(schema, out.Columns())
}

func appendAvro(b array.Builder, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	ok := true
	switch bb := b.(type) {
	case *array.BooleanBuilder:
		var x bool
		if x, ok = v.(bool); ok {
			bb.Append(x)
		}
	case *array.Int32Builder:
		var x int32
		if x, ok = v.(int32); ok {
			bb.Append(x)
		}
	case *array.Int64Builder:
		var x int64
		if x, ok = v.(int64); ok {
			bb.Append(x)
		}
	case *array.Float32Builder:
		var x float32
		if x, ok = v.(float32); ok {
			bb.Append(x)
		}
	case *array.Float64Builder:
		var x float64
		if x, ok = v.(float64); ok {
			bb.Append(x)
		}
	case *array.StringBuilder:
		var x string
		if x, ok = v.(string); ok {
			bb.Append(x)
		}
	case *array.BinaryBuilder:
		var x []byte
		if x, ok = v.([]byte); ok {
			bb.Append(x)
		}
	default:
		ok = false
	}
	if !ok {
		return fmt.Errorf("unexpected value %T", v)
	}
	return nil
}

func avroCompression(name string) (string, error) {
	switch strings.ToLower(name) {
	case "", "none", "null":
		return goavro.CompressionNullLabel, nil
	case "snappy":
		return goavro.CompressionSnappyLabel, nil
	case "deflate":
		return goavro.CompressionDeflateLabel, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "avro does not support %q compression", name)
	}
}
