package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/fastir/pkg/formats/columnar"
	"github.com/ajitpratap0/fastir/pkg/testutil"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fastir v"+version)
}

func TestFixtureAndInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.arrow")
	_, err := execute(t, "", "fixture", "--out", path, "--zstd")
	require.NoError(t, err)

	out, err := execute(t, "", "inspect", path, "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "4 rows, 17 columns")
	assert.Contains(t, out, "callee_name: utf8")
	assert.Contains(t, out, "parse_args")
	assert.Contains(t, out, "... 2 more rows")
}

func TestFixtureAsDecoderRejectsEmptyInput(t *testing.T) {
	_, err := execute(t, "", "fixture", "--decoder")
	require.Error(t, err)
	assert.Equal(t, "invalid bitcode", err.Error())

	out, err := execute(t, "BC\xc0\xde", "fixture", "--decoder")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ARROW1"))
}

func TestInspectUnknownExtension(t *testing.T) {
	_, err := execute(t, "", "inspect", filepath.Join(t.TempDir(), "features.csv"))
	assert.Error(t, err)
}

func TestConfigMasksSecrets(t *testing.T) {
	t.Setenv("FASTIR_STORAGE_HUB_TOKEN", "hf_abcdefghijklmnop")
	out, err := execute(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "corpus:")
	assert.NotContains(t, out, "hf_abcdefghijklmnop")
}

type ExtractSuite struct {
	testutil.IntegrationTestSuite
	fixture string
}

func TestExtractSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	testutil.RequireShell(t)
	suite.Run(t, new(ExtractSuite))
}

func (s *ExtractSuite) SetupSuite() {
	s.IntegrationTestSuite.SetupSuite()
	s.fixture = filepath.Join(s.TempDir(), "fixture.arrow")
	_, err := execute(s.T(), "", "fixture", "--out", s.fixture)
	s.Require().NoError(err)
}

func (s *ExtractSuite) writeConfig(name, corpusDir, outDir, format, compression string) string {
	args, err := json.Marshal(testutil.ShellDecoderArgs(s.fixture))
	s.Require().NoError(err)
	config := `
corpus:
  source: ` + corpusDir + `
  format: jsonl
decoder:
  command: sh
  args: ` + string(args) + `
output:
  destination: ` + outDir + `
  format: ` + format + `
  compression: ` + compression + `
pipeline:
  progress_interval: 0s
log:
  level: error
`
	return s.CreateTempFile(name, []byte(config))
}

type summary struct {
	RunID  string `json:"run_id"`
	Units  int64  `json:"units"`
	Tables int64  `json:"tables"`
	Absent int64  `json:"absent"`
	Rows   int64  `json:"rows"`
}

func (s *ExtractSuite) extract(args ...string) summary {
	out, err := execute(s.T(), "", append([]string{"extract"}, args...)...)
	s.Require().NoError(err)
	var sum summary
	s.Require().NoError(json.Unmarshal([]byte(strings.TrimSpace(out)), &sum))
	return sum
}

func (s *ExtractSuite) TestParquetOutputSkipsAbsentUnits() {
	s.CreateTempFile("parquet/corpus/train-0000.jsonl", testutil.JSONLShard(s.T(), "content",
		[]byte("BC\xc0\xde-one"), nil, []byte("BC\xc0\xde-three")))
	dir := filepath.Join(s.TempDir(), "parquet")
	outDir := filepath.Join(dir, "out")
	config := s.writeConfig("parquet/fastir.yaml", filepath.Join(dir, "corpus"), outDir, "parquet", "snappy")

	sum := s.extract("--config", config)
	s.NotEmpty(sum.RunID)
	s.Equal(int64(3), sum.Units)
	s.Equal(int64(2), sum.Tables)
	s.Equal(int64(1), sum.Absent)
	s.Equal(int64(8), sum.Rows)

	for _, name := range []string{"part-000000.parquet", "part-000002.parquet"} {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		s.Require().NoError(err)
		table, err := columnar.ReadTable(data, columnar.Parquet, nil)
		s.Require().NoError(err)
		s.Equal(int64(4), table.NumRows())
		table.Release()
	}
	_, err := os.Stat(filepath.Join(outDir, "part-000001.parquet"))
	s.True(os.IsNotExist(err))
}

func (s *ExtractSuite) TestFlagsOverrideConfig() {
	s.CreateTempFile("flags/corpus/train-0000.jsonl", testutil.JSONLShard(s.T(), "content",
		[]byte("a"), []byte("b"), []byte("c")))
	dir := filepath.Join(s.TempDir(), "flags")
	config := s.writeConfig("flags/fastir.yaml", filepath.Join(dir, "corpus"), filepath.Join(dir, "ignored"), "parquet", "snappy")
	outDir := filepath.Join(dir, "out")

	sum := s.extract("--config", config, "--output", outDir, "--format", "avro", "--limit", "2")
	s.Equal(int64(2), sum.Units)
	s.Equal(int64(2), sum.Tables)

	entries, err := os.ReadDir(outDir)
	s.Require().NoError(err)
	s.Len(entries, 2)
	data, err := os.ReadFile(filepath.Join(outDir, "part-000001.avro"))
	s.Require().NoError(err)
	table, err := columnar.ReadTable(data, columnar.Avro, nil)
	s.Require().NoError(err)
	s.Equal(int64(4), table.NumRows())
	table.Release()
}
