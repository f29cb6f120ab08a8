package columnar

import (
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
)

// arrowWriter implements Writer for the Arrow IPC file format
type arrowWriter struct {
	out         *countingWriter
	arrowSchema *arrow.Schema
	fileWriter  *ipc.FileWriter
	rows        int64
	mu          sync.Mutex
}

func newArrowWriter(w *countingWriter, schema *arrow.Schema, config *WriterConfig) (*arrowWriter, error) {
	pool := config.Allocator
	if pool == nil {
		pool = memory.NewGoAllocator()
	}

	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(pool)}
	codec, err := arrowCompression(config.Compression)
	if err != nil {
		return nil, err
	}
	if codec != nil {
		opts = append(opts, codec)
	}

	fw, err := ipc.NewFileWriter(w, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow writer: %w", err)
	}
	return &arrowWriter{out: w, arrowSchema: schema, fileWriter: fw}, nil
}

func (aw *arrowWriter) Write(t *features.Table) error {
	if err := checkSchema(aw.arrowSchema, t); err != nil {
		return err
	}
	aw.mu.Lock()
	defer aw.mu.Unlock()

	rec := t.Record()
	defer rec.Release()
	if err := aw.fileWriter.Write(rec); err != nil {
		return fmt.Errorf("failed to write Arrow record batch: %w", err)
	}
	aw.rows += t.NumRows()
	return nil
}

func (aw *arrowWriter) Close() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if err := aw.fileWriter.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return nil
}

func (aw *arrowWriter) Format() Format { return Arrow }

func (aw *arrowWriter) BytesWritten() int64 { return aw.out.n }

func (aw *arrowWriter) RowsWritten() int64 { return aw.rows }

func arrowCompression(name string) (ipc.Option, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return nil, nil
	case "zstd":
		return ipc.WithZstd(), nil
	case "lz4", "lz4_frame":
		return ipc.WithLZ4(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "arrow ipc does not support %q compression", name)
	}
}
