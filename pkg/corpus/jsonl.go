package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/fastir/pkg/compression"
)

// jsonlShard reads one JSON object per line. The payload field holds the
// unit as a base64 string or as an array of byte values.
type jsonlShard struct {
	body   io.ReadCloser
	src    io.ReadCloser
	reader *bufio.Reader
	field  string
	line   int
}

func newJSONLShard(body io.ReadCloser, alg compression.Algorithm, field string) (*jsonlShard, error) {
	src, err := compression.NewReader(body, alg)
	if err != nil {
		return nil, err
	}
	return &jsonlShard{
		body:   body,
		src:    src,
		reader: bufio.NewReaderSize(src, 1<<20),
		field:  field,
	}, nil
}

// Next returns the payload of the next non-blank line.
func (j *jsonlShard) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := j.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		j.line++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}

		unit, present, perr := j.parse(line)
		if perr != nil {
			return nil, perr
		}
		if !present {
			continue
		}
		return unit, nil
	}
}

// parse extracts the payload of one record. A null payload is reported as
// not present and skipped, as null parquet payloads are.
func (j *jsonlShard) parse(line []byte) ([]byte, bool, error) {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, false, shardErr(err, fmt.Sprintf("invalid json on line %d", j.line))
	}
	raw, ok := record[j.field]
	if !ok {
		return nil, false, shardErr(fmt.Errorf("field %q missing", j.field), fmt.Sprintf("invalid record on line %d", j.line))
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}
	unit, err := decodePayload(raw)
	if err != nil {
		return nil, false, shardErr(err, fmt.Sprintf("invalid payload on line %d", j.line))
	}
	return unit, true, nil
}

func decodePayload(raw []byte) ([]byte, error) {

	switch raw[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(encoded)
	case '[':
		var values []int
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, err
		}
		unit := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("byte value %d out of range at index %d", v, i)
			}
			unit[i] = byte(v)
		}
		return unit, nil
	default:
		return nil, fmt.Errorf("payload must be a base64 string or a byte array")
	}
}

// Close closes the decompressor and the underlying object.
func (j *jsonlShard) Close() error {
	err := j.src.Close()
	if cerr := j.body.Close(); err == nil {
		err = cerr
	}
	return err
}
