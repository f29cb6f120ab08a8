// Package columnar writes and reads feature tables in on-disk columnar formats.
//
// Arrow IPC is the native format and round-trips any table exactly. Parquet
// is the usual choice for training datasets. Avro container files are
// offered for row-oriented consumers; Avro has no unsigned types, so unsigned
// columns come back as signed integers.
package columnar

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
)

// Format represents a columnar storage format
type Format string

const (
	// Arrow is the Arrow IPC file format
	Arrow Format = "arrow"
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
	// Avro is the Avro object container format
	Avro Format = "avro"
)

// Writer writes feature tables sharing one schema into a single file.
type Writer interface {
	// Write appends the rows of t. t must have the writer's schema.
	Write(t *features.Table) error
	// Close flushes and finalizes the file. It does not close the underlying io.Writer.
	Close() error
	// Format returns the columnar format
	Format() Format
	// BytesWritten returns bytes written
	BytesWritten() int64
	// RowsWritten returns rows written
	RowsWritten() int64
}

// WriterConfig configures columnar writers
type WriterConfig struct {
	Format Format
	// Compression is a codec name understood by the format: zstd or lz4 for
	// Arrow; snappy, zstd, gzip, lz4 for Parquet; snappy or deflate for Avro.
	// "none" or empty disables compression.
	Compression string
	// RowGroupSize caps the rows per Parquet row group
	RowGroupSize int64
	// Allocator is used for intermediate buffers; defaults to a Go allocator
	Allocator memory.Allocator
}

// DefaultWriterConfig returns default writer configuration
func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		Format:       Arrow,
		Compression:  "zstd",
		RowGroupSize: 64 * 1024,
	}
}

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case Arrow, Parquet, Avro:
		return f, nil
	case "ipc", "feather":
		return Arrow, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported columnar format: %q", name)
	}
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(p string) (Format, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".arrow", ".ipc", ".feather":
		return Arrow, nil
	case ".parquet", ".pq":
		return Parquet, nil
	case ".avro":
		return Avro, nil
	default:
		return "", errors.Newf(errors.ErrorTypeValidation, "cannot infer columnar format of %q", p)
	}
}

// NewWriter creates a writer for tables with the given schema.
func NewWriter(w io.Writer, schema *arrow.Schema, config *WriterConfig) (Writer, error) {
	if config == nil {
		config = DefaultWriterConfig()
	}
	if schema == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "schema is required")
	}
	cw := &countingWriter{w: w}

	switch config.Format {
	case Arrow:
		return newArrowWriter(cw, schema, config)
	case Parquet:
		return newParquetWriter(cw, schema, config)
	case Avro:
		return newAvroWriter(cw, schema, config)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported columnar format: %s", config.Format)
	}
}

// WriteTable writes t as a complete file and returns the bytes written.
func WriteTable(w io.Writer, t *features.Table, config *WriterConfig) (int64, error) {
	fw, err := NewWriter(w, t.Schema(), config)
	if err != nil {
		return 0, err
	}
	if err := fw.Write(t); err != nil {
		fw.Close() //nolint:errcheck
		return fw.BytesWritten(), err
	}
	if err := fw.Close(); err != nil {
		return fw.BytesWritten(), err
	}
	return fw.BytesWritten(), nil
}

// ReadTable reads a whole file written in format.
func ReadTable(data []byte, format Format, mem memory.Allocator) (*features.Table, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	switch format {
	case Arrow:
		return features.ReadTable(data, mem)
	case Parquet:
		return readParquet(data, mem)
	case Avro:
		return readAvro(data, mem)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported columnar format: %s", format)
	}
}

// CheckCompression reports whether format supports the named codec.
func CheckCompression(format Format, name string) error {
	var err error
	switch format {
	case Arrow:
		_, err = arrowCompression(name)
	case Parquet:
		_, err = parquetCompression(name)
	case Avro:
		_, err = avroCompression(name)
	default:
		err = errors.Newf(errors.ErrorTypeConfig, "unsupported columnar format: %s", format)
	}
	return err
}

// FormatInfo provides information about columnar formats
type FormatInfo struct {
	Format           Format
	Name             string
	FileExtension    string
	MIMEType         string
	SupportsCompress bool
	Lossless         bool
}

// GetFormatInfo returns information about a columnar format
func GetFormatInfo(format Format) *FormatInfo {
	switch format {
	case Arrow:
		return &FormatInfo{
			Format:           Arrow,
			Name:             "Apache Arrow IPC",
			FileExtension:    ".arrow",
			MIMEType:         "application/vnd.apache.arrow.file",
			SupportsCompress: true,
			Lossless:         true,
		}
	case Parquet:
		return &FormatInfo{
			Format:           Parquet,
			Name:             "Apache Parquet",
			FileExtension:    ".parquet",
			MIMEType:         "application/vnd.apache.parquet",
			SupportsCompress: true,
			Lossless:         true,
		}
	case Avro:
		return &FormatInfo{
			Format:           Avro,
			Name:             "Apache Avro",
			FileExtension:    ".avro",
			MIMEType:         "application/avro",
			SupportsCompress: true,
			Lossless:         false,
		}
	default:
		return nil
	}
}

// fromChunked flattens an arrow.Table into a feature table.
func fromChunked(tbl arrow.Table, mem memory.Allocator) (*features.Table, error) {
	cols := make([]arrow.Array, tbl.NumCols())
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()

	for i := range cols {
		chunks := tbl.Column(i).Data().Chunks()
		switch len(chunks) {
		case 0:
			b := array.NewBuilder(mem, tbl.Schema().Field(i).Type)
			cols[i] = b.NewArray()
			b.Release()
		case 1:
			cols[i] = chunks[0]
			cols[i].Retain()
		default:
			col, err := array.Concatenate(chunks, mem)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", tbl.Schema().Field(i).Name, err)
			}
			cols[i] = col
		}
	}
	return features.NewTable(tbl.Schema(), cols)
}

func checkSchema(want *arrow.Schema, t *features.Table) error {
	if !want.Equal(t.Schema()) {
		return errors.Newf(errors.ErrorTypeValidation, "table schema %s does not match writer schema %s",
			t.Schema(), want)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
