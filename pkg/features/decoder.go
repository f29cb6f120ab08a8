package features

import (
	"bytes"
	"context"
)

// Decoder converts one compiled unit into an Arrow IPC buffer describing it.
// Implementations report malformed input through the returned error; the
// error message is what ends up in the extraction diagnostic.
type Decoder interface {
	Decode(ctx context.Context, unit []byte) ([]byte, error)
}

// DecoderFunc adapts a function to the Decoder interface
type DecoderFunc func(ctx context.Context, unit []byte) ([]byte, error)

// Decode calls f(ctx, unit)
func (f DecoderFunc) Decode(ctx context.Context, unit []byte) ([]byte, error) {
	return f(ctx, unit)
}

// StaticDecoder returns the same output (or error) for every unit.
type StaticDecoder struct {
	Output []byte
	Err    error
}

// Decode returns a copy of Output, or Err when set.
func (d StaticDecoder) Decode(ctx context.Context, _ []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return bytes.Clone(d.Output), nil
}
