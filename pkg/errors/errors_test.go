package errors

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeData, "nothing to wrap"))
}

func TestIsTypeOnlyChecksOutermost(t *testing.T) {
	inner := New(ErrorTypeConnection, "bucket unreachable")
	outer := Wrap(inner, ErrorTypeFile, "failed to store feature table")

	assert.True(t, IsType(outer, ErrorTypeFile))
	assert.False(t, IsType(outer, ErrorTypeConnection))
	assert.True(t, HasType(outer, ErrorTypeConnection))
	assert.False(t, HasType(outer, ErrorTypeDecode))
	assert.False(t, HasType(io.EOF, ErrorTypeFile))
}

func TestWrapKeepsCauseAndStack(t *testing.T) {
	inner := New(ErrorTypeDecode, "invalid bitcode")
	outer := Wrap(inner, ErrorTypeInternal, "extraction failed")

	assert.Equal(t, inner.Stack, outer.Stack)
	assert.ErrorIs(t, outer, inner)
	assert.Equal(t, "internal: extraction failed: decode: invalid bitcode", outer.Error())

	std := Wrap(context.DeadlineExceeded, ErrorTypeTimeout, "decoder killed")
	assert.ErrorIs(t, std, context.DeadlineExceeded)
	assert.NotEmpty(t, std.Stack)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(ErrorTypeTimeout, "slow"), true},
		{New(ErrorTypeConnection, "reset"), true},
		{New(ErrorTypeSourceUnavailable, "hub returned 503"), true},
		{New(ErrorTypeDecode, "invalid bitcode"), false},
		{io.EOF, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), tt.err.Error())
	}
}

func TestWithDetail(t *testing.T) {
	err := Newf(ErrorTypeDecode, "exit status %d", 3).WithDetail("exit_code", 3)
	assert.Equal(t, 3, err.Details["exit_code"])
	assert.Equal(t, "decode: exit status 3", err.Error())
}
