// Package testutil provides testing utilities for fastir
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// ObservedLogger returns a logger whose entries at or above level are
// captured for assertions.
func ObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

// TestContext creates a test context with a 30-second timeout that is
// cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// SampleIPC returns the sample module's inline table as an Arrow IPC file.
func SampleIPC(t *testing.T) []byte {
	t.Helper()
	data, err := features.SampleModule().EncodeInline()
	require.NoError(t, err)
	return data
}

// SampleTable returns the sample module's inline table. It is released
// when the test completes.
func SampleTable(t *testing.T) *features.Table {
	t.Helper()
	table, err := features.SampleModule().InlineTable(nil)
	require.NoError(t, err)
	t.Cleanup(table.Release)
	return table
}

// SampleDecoder emits the sample inline table for every non-empty unit and
// rejects empty units with "invalid bitcode".
func SampleDecoder(t *testing.T) features.Decoder {
	t.Helper()
	data := SampleIPC(t)
	return features.DecoderFunc(func(_ context.Context, unit []byte) ([]byte, error) {
		if len(unit) == 0 {
			return nil, errors.New(errors.ErrorTypeDecode, "invalid bitcode")
		}
		return data, nil
	})
}
