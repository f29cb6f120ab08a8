package testutil

import (
	"context"
	"encoding/base64"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides base functionality for tests that run
// against real files and subprocesses.
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "fastir-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.T().Logf("Integration test suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}

	s.T().Logf("Integration test suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// CreateTempFile writes content under the suite's temporary directory,
// creating parent directories as needed.
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.tempDir, name)
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(s.T(), os.WriteFile(path, content, 0o644))
	return path
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RequireShell skips the test when no POSIX shell is available.
func RequireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// JSONLShard encodes units as a JSONL corpus shard with the payload
// base64-encoded under field.
func JSONLShard(t *testing.T, field string, units ...[]byte) []byte {
	t.Helper()
	var b strings.Builder
	for _, unit := range units {
		line, err := json.Marshal(map[string]string{field: base64.StdEncoding.EncodeToString(unit)})
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ShellDecoderArgs returns sh arguments for a decoder that rejects empty
// input with "invalid bitcode" and otherwise prints the file at fixture.
func ShellDecoderArgs(fixture string) []string {
	script := `n=$(wc -c); if [ "$n" -eq 0 ]; then echo 'invalid bitcode' >&2; exit 1; fi; cat '` + fixture + `'`
	return []string{"-c", script}
}
