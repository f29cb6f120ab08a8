package columnar

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
)

// parquetWriter implements Writer for Parquet format
type parquetWriter struct {
	out         *countingWriter
	arrowSchema *arrow.Schema
	fileWriter  *pqarrow.FileWriter
	rows        int64
	mu          sync.Mutex
}

func newParquetWriter(w *countingWriter, schema *arrow.Schema, config *WriterConfig) (*parquetWriter, error) {
	pool := config.Allocator
	if pool == nil {
		pool = memory.NewGoAllocator()
	}
	codec, err := parquetCompression(config.Compression)
	if err != nil {
		return nil, err
	}

	opts := []parquet.WriterProperty{
		parquet.WithCompression(codec),
		parquet.WithAllocator(pool),
		parquet.WithCreatedBy("fastir"),
	}
	if config.RowGroupSize > 0 {
		opts = append(opts, parquet.WithMaxRowGroupLength(config.RowGroupSize))
	}
	props := parquet.NewWriterProperties(opts...)

	// Storing the Arrow schema keeps unsigned and string types exact on read.
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(pool),
		pqarrow.WithStoreSchema(),
	)

	fw, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	return &parquetWriter{out: w, arrowSchema: schema, fileWriter: fw}, nil
}

func (pw *parquetWriter) Write(t *features.Table) error {
	if err := checkSchema(pw.arrowSchema, t); err != nil {
		return err
	}
	pw.mu.Lock()
	defer pw.mu.Unlock()

	rec := t.Record()
	defer rec.Release()
	if err := pw.fileWriter.Write(rec); err != nil {
		return fmt.Errorf("failed to write Parquet row group: %w", err)
	}
	pw.rows += t.NumRows()
	return nil
}

func (pw *parquetWriter) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if err := pw.fileWriter.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

func (pw *parquetWriter) Format() Format { return Parquet }

func (pw *parquetWriter) BytesWritten() int64 { return pw.out.n }

func (pw *parquetWriter) RowsWritten() int64 { return pw.rows }

func readParquet(data []byte, mem memory.Allocator) (*features.Table, error) {
	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid parquet file")
	}
	defer tbl.Release()

	t, err := fromChunked(tbl, mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid parquet file")
	}
	return t, nil
}

func parquetCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "lz4", "lz4_raw":
		return compress.Codecs.Lz4Raw, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	default:
		return compress.Codecs.Uncompressed, errors.Newf(errors.ErrorTypeConfig, "parquet does not support %q compression", name)
	}
}
