package config

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/fastir/pkg/corpus"
	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/features"
	"github.com/ajitpratap0/fastir/pkg/logger"
	"github.com/ajitpratap0/fastir/pkg/observability"
	"github.com/ajitpratap0/fastir/pkg/sink"
	"github.com/ajitpratap0/fastir/pkg/storage"
)

// Config is the complete fastir configuration. Each section is owned by the
// package that consumes it; this package only assembles, defaults and
// validates them.
type Config struct {
	// Corpus selects where compiled units are read from
	Corpus corpus.Config `yaml:"corpus" mapstructure:"corpus"`

	// Storage holds credentials and endpoints shared by the corpus and the output
	Storage storage.Options `yaml:"storage" mapstructure:"storage"`

	// Decoder configures the external program that turns a compiled unit into
	// columnar bytes
	Decoder features.CommandConfig `yaml:"decoder" mapstructure:"decoder"`

	// Output configures where extracted feature tables are written
	Output sink.Config `yaml:"output" mapstructure:"output"`

	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`

	Log     logger.Config               `yaml:"log" mapstructure:"log"`
	Tracing observability.TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig               `yaml:"metrics" mapstructure:"metrics"`
}

// PipelineConfig controls a batch extraction run.
type PipelineConfig struct {
	// Limit stops the run after this many units (0 = whole corpus)
	Limit int64 `yaml:"limit" mapstructure:"limit"`
	// ProgressInterval is how often progress is logged (0 disables)
	ProgressInterval time.Duration `yaml:"progress_interval" mapstructure:"progress_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Default returns a configuration with every section defaulted. The defaults
// read the public ComPile dataset from the Hugging Face Hub.
func Default() *Config {
	return &Config{
		Corpus: corpus.DefaultConfig(),
		Storage: storage.Options{
			S3:   storage.S3Config{Region: "us-east-1"},
			Hub:  storage.HubConfig{Endpoint: "https://huggingface.co", Revision: "main", Config: "default"},
			HTTP: storage.DefaultHTTPConfig(),
		},
		Decoder: features.DefaultCommandConfig(),
		Output:  sink.DefaultConfig(),
		Pipeline: PipelineConfig{
			Limit:            0,
			ProgressInterval: 30 * time.Second,
		},
		Log: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Validate checks the sections that every command relies on. Sections only
// some commands need (the decoder, the output) are validated by their owners
// when they are constructed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "config is nil")
	}

	var problems []error
	if err := cfg.Corpus.Validate(); err != nil {
		problems = append(problems, err)
	}
	if cfg.Pipeline.Limit < 0 {
		problems = append(problems, fmt.Errorf("pipeline.limit cannot be negative"))
	}
	if cfg.Pipeline.ProgressInterval < 0 {
		problems = append(problems, fmt.Errorf("pipeline.progress_interval cannot be negative"))
	}
	if cfg.Log.Level != "" {
		if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
			problems = append(problems, fmt.Errorf("log.level: %w", err))
		}
	}
	switch cfg.Log.Encoding {
	case "", "json", "console":
	default:
		problems = append(problems, fmt.Errorf("log.encoding must be json or console, got %q", cfg.Log.Encoding))
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		problems = append(problems, fmt.Errorf("tracing.sampling_rate must be between 0 and 1"))
	}

	if len(problems) > 0 {
		return errors.Wrap(errors.Join(problems...), errors.ErrorTypeConfig, "invalid configuration")
	}
	return nil
}
