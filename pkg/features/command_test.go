//go:build unix

package features

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

func shellDecoder(t *testing.T, script string, timeout time.Duration) *CommandDecoder {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cfg := DefaultCommandConfig()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", script}
	cfg.Timeout = timeout
	cfg.GracePeriod = 100 * time.Millisecond
	d, err := NewCommandDecoder(cfg)
	require.NoError(t, err)
	return d
}

func TestCommandDecoderPassesStdin(t *testing.T) {
	d := shellDecoder(t, "cat", time.Second*10)

	out, err := d.Decode(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(out))
}

func TestCommandDecoderStderrBecomesMessage(t *testing.T) {
	d := shellDecoder(t, "echo 'invalid bitcode' >&2; exit 3", time.Second*10)

	_, err := d.Decode(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
	assert.Contains(t, err.Error(), "invalid bitcode")

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Details["exit_code"])
}

func TestCommandDecoderTimeout(t *testing.T) {
	d := shellDecoder(t, "sleep 5", 100*time.Millisecond)

	start := time.Now()
	_, err := d.Decode(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommandDecoderThroughExtractor(t *testing.T) {
	d := shellDecoder(t, "echo 'invalid bitcode' >&2; exit 1", time.Second*10)
	ext, logs := observedExtractor(t, d)

	_, ok := ext.Extract(context.Background(), []byte{})
	assert.False(t, ok)

	entries := logs.FilterMessage("error extracting inline features").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Contains(t, entries[0].ContextMap()["error"], "invalid bitcode")
}

func TestNewCommandDecoderValidation(t *testing.T) {
	_, err := NewCommandDecoder(CommandConfig{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewCommandDecoder(CommandConfig{Command: "definitely-not-a-decoder-binary"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewCommandDecoder(CommandConfig{Command: "sh", Timeout: -time.Second})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
