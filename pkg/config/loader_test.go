package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HF_TOKEN", "")
	cfg, err := Load(Options{SearchDirs: []string{t.TempDir()}})
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Corpus.Source, cfg.Corpus.Source)
	assert.Equal(t, def.Corpus.Split, cfg.Corpus.Split)
	assert.Equal(t, def.Corpus.Field, cfg.Corpus.Field)
	assert.Equal(t, def.Decoder.Timeout, cfg.Decoder.Timeout)
	assert.Equal(t, def.Pipeline, cfg.Pipeline)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
corpus:
  source: s3://corpus/compile
  split: test
decoder:
  command: fastir-decode
  args: ["--format", "arrow"]
  timeout: 5s
storage:
  s3:
    access_key: ${FASTIR_TEST_KEY}
    secret_key: ${FASTIR_TEST_SECRET}
pipeline:
  limit: 25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fastir.yaml"), []byte(content), 0o600))

	t.Setenv("FASTIR_TEST_KEY", "AKIA")
	t.Setenv("FASTIR_TEST_SECRET", "s3cr3t")
	t.Setenv("FASTIR_PIPELINE_LIMIT", "50")
	t.Setenv("FASTIR_OUTPUT_FORMAT", "parquet")

	cfg, err := Load(Options{SearchDirs: []string{dir}})
	require.NoError(t, err)

	assert.Equal(t, "s3://corpus/compile", cfg.Corpus.Source)
	assert.Equal(t, "test", cfg.Corpus.Split)
	assert.Equal(t, "content", cfg.Corpus.Field, "unset keys keep their defaults")
	assert.Equal(t, "fastir-decode", cfg.Decoder.Command)
	assert.Equal(t, []string{"--format", "arrow"}, cfg.Decoder.Args)
	assert.Equal(t, 5*time.Second, cfg.Decoder.Timeout)
	assert.Equal(t, "AKIA", cfg.Storage.S3.AccessKey)
	assert.Equal(t, "s3cr3t", cfg.Storage.S3.SecretKey)
	assert.EqualValues(t, 50, cfg.Pipeline.Limit, "environment wins over the file")
	assert.Equal(t, "parquet", cfg.Output.Format)
}

func TestLoadExplicitPathMissing(t *testing.T) {
	_, err := Load(Options{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  limit: -3\n"), 0o600))

	_, err := Load(Options{Path: path})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "pipeline.limit")
}

func TestLoadHubTokenFromEnvironment(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_abc")
	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "hf_abc", cfg.Storage.Hub.Token)
}

func TestDumpMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Storage.S3.SecretKey = "s3cr3t"
	cfg.Storage.Hub.Token = "hf_abc"

	data, err := Dump(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cr3t")
	assert.NotContains(t, string(data), "hf_abc")
	assert.Equal(t, "s3cr3t", cfg.Storage.S3.SecretKey, "dump must not modify its input")

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg.Corpus.Source, back.Corpus.Source)
	assert.Equal(t, "****", back.Storage.Hub.Token)
	assert.Equal(t, cfg.Decoder.Timeout, back.Decoder.Timeout)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("FASTIR_TEST_BUCKET", "corpus")
	assert.Equal(t, "s3://corpus/x", substituteEnvVars("s3://${FASTIR_TEST_BUCKET}/x"))
	assert.Equal(t, "a  b", substituteEnvVars("a ${FASTIR_TEST_UNSET_VAR} b"))
	assert.Equal(t, "${unterminated", substituteEnvVars("${unterminated"))
}
