package corpus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// parquetShard reads the payload column of a parquet shard batch by batch.
type parquetShard struct {
	fileReader   *file.Reader
	recordReader pqarrow.RecordReader
	spool        string

	batch [][]byte
	pos   int
}

// newParquetShard takes ownership of body. Parquet needs random access, so
// bodies that are not files are spooled to a temporary file first.
func newParquetShard(ctx context.Context, body io.ReadCloser, field string, batchSize int, spoolDir string) (*parquetShard, error) {
	f, spool, err := seekable(body, spoolDir)
	if err != nil {
		return nil, err
	}
	ps := &parquetShard{spool: spool}

	pf, err := file.NewParquetReader(f)
	if err != nil {
		f.Close() //nolint:errcheck
		ps.removeSpool()
		return nil, shardErr(err, "invalid parquet shard")
	}
	ps.fileReader = pf

	col := pf.MetaData().Schema.ColumnIndexByName(field)
	if col < 0 {
		ps.Close() //nolint:errcheck
		return nil, shardErr(fmt.Errorf("column %q not found", field), "invalid parquet shard")
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}, memory.NewGoAllocator())
	if err != nil {
		ps.Close() //nolint:errcheck
		return nil, shardErr(err, "failed to create arrow reader")
	}

	rr, err := fr.GetRecordReader(ctx, []int{col}, nil)
	if err != nil {
		ps.Close() //nolint:errcheck
		return nil, shardErr(err, "failed to create record reader")
	}
	ps.recordReader = rr
	return ps, nil
}

// Next returns the next non-null payload of the shard.
func (p *parquetShard) Next(ctx context.Context) ([]byte, error) {
	for p.pos >= len(p.batch) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.loadBatch(); err != nil {
			return nil, err
		}
	}
	unit := p.batch[p.pos]
	p.batch[p.pos] = nil
	p.pos++
	return unit, nil
}

func (p *parquetShard) loadBatch() error {
	p.batch, p.pos = p.batch[:0], 0
	if !p.recordReader.Next() {
		if err := p.recordReader.Err(); err != nil && err != io.EOF {
			return shardErr(err, "failed to decode parquet batch")
		}
		return io.EOF
	}

	rec := p.recordReader.Record()
	values, err := payloads(rec.Column(0))
	if err != nil {
		return err
	}
	p.batch = values
	return nil
}

// payloads copies the non-null values of a binary or string column out of
// arrow memory.
func payloads(col arrow.Array) ([][]byte, error) {
	out := make([][]byte, 0, col.Len()-col.NullN())
	switch c := col.(type) {
	case *array.Binary:
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) {
				out = append(out, bytes.Clone(c.Value(i)))
			}
		}
	case *array.LargeBinary:
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) {
				out = append(out, bytes.Clone(c.Value(i)))
			}
		}
	case *array.String:
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) {
				out = append(out, []byte(c.Value(i)))
			}
		}
	case *array.LargeString:
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) {
				out = append(out, []byte(c.Value(i)))
			}
		}
	default:
		return nil, shardErr(fmt.Errorf("unsupported payload type %s", col.DataType()), "invalid parquet shard")
	}
	return out, nil
}

// Close releases the readers and removes the spool file.
func (p *parquetShard) Close() error {
	if p.recordReader != nil {
		p.recordReader.Release()
		p.recordReader = nil
	}
	var err error
	if p.fileReader != nil {
		err = p.fileReader.Close()
		p.fileReader = nil
	}
	p.removeSpool()
	p.batch = nil
	return err
}

func (p *parquetShard) removeSpool() {
	if p.spool != "" {
		os.Remove(p.spool) //nolint:errcheck
		p.spool = ""
	}
}

// seekable returns body as a file. Non-file bodies are copied into a
// temporary file whose path is returned for removal.
func seekable(body io.ReadCloser, spoolDir string) (*os.File, string, error) {
	if f, ok := body.(*os.File); ok {
		return f, "", nil
	}
	defer body.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(spoolDir, "fastir-shard-*.parquet")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create spool file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return nil, "", fmt.Errorf("failed to spool shard: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return nil, "", fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return tmp, tmp.Name(), nil
}
