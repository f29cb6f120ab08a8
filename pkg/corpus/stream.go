// Package corpus provides pull-based streams of compiled units.
//
// A Stream is forward-only, single-pass and non-restartable: Open establishes
// the session, Next yields units in backing order, and once the corpus is
// exhausted every further Next returns ErrEndOfStream. Streams are not safe
// for concurrent use.
//
//	stream, err := corpus.New(ctx, cfg.Corpus, cfg.Storage, log)
//	if err != nil {
//		return err
//	}
//	defer stream.Close()
//
//	if err := stream.Open(ctx); err != nil {
//		return err // corpus.IsSourceUnavailable(err) for unknown datasets
//	}
//	for {
//		unit, err := stream.Next(ctx)
//		if err == corpus.ErrEndOfStream {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		handle(unit)
//	}
package corpus

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

// Unit is one compiled unit (an LLVM bitcode module) as opaque bytes. The
// stream does not retain a unit after yielding it.
type Unit []byte

// Stream is a lazy sequence of compiled units.
type Stream interface {
	// Open establishes the session with the backing corpus and positions the
	// stream at its first element. It may be called once per instance.
	Open(ctx context.Context) error

	// Next returns the next unit, or ErrEndOfStream when the corpus is
	// exhausted. Transport failures are reported as source-unavailable errors.
	Next(ctx context.Context) (Unit, error)

	// Close releases the session. It is safe to call more than once.
	Close() error
}

// ErrEndOfStream signals that no further units exist. It is io.EOF so that
// streams compose with io-style loops.
var ErrEndOfStream = io.EOF

var (
	// ErrAlreadyOpened is returned by a second call to Open.
	ErrAlreadyOpened = errors.New(errors.ErrorTypeValidation, "stream already opened")
	// ErrNotOpened is returned by Next before Open.
	ErrNotOpened = errors.New(errors.ErrorTypeValidation, "stream not opened")
	// ErrClosed is returned by Open or Next after Close.
	ErrClosed = errors.New(errors.ErrorTypeValidation, "stream closed")
)

// IsSourceUnavailable reports whether err means the corpus cannot be reached
// or does not exist.
func IsSourceUnavailable(err error) bool {
	return errors.HasType(err, errors.ErrorTypeSourceUnavailable)
}

func unavailable(err error, message string) error {
	if err == nil {
		return errors.New(errors.ErrorTypeSourceUnavailable, message)
	}
	return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, message)
}

// Shard formats
const (
	FormatAuto    = "auto"
	FormatParquet = "parquet"
	FormatJSONL   = "jsonl"
)

// Config selects and tunes the corpus.
type Config struct {
	// Source is the corpus location: hf://org/dataset, s3://bucket/prefix,
	// gs://bucket/prefix, file:///dir (or a bare path) or kafka://brokers/topic.
	Source string `yaml:"source" mapstructure:"source"`
	// Split is the dataset split. Object-store prefixes may reference it as {split}.
	Split string `yaml:"split" mapstructure:"split"`
	// Field names the record field holding the unit payload.
	Field string `yaml:"field" mapstructure:"field"`
	// Format forces the shard format instead of detecting it from the object name.
	Format string `yaml:"format" mapstructure:"format"`
	// BatchSize is the number of parquet rows decoded at a time.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// SpoolDir holds remote parquet shards while they are read; defaults to the system temp dir.
	SpoolDir string `yaml:"spool_dir" mapstructure:"spool_dir"`

	Kafka KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
}

// KafkaConfig tunes the Kafka client used by kafka:// sources.
type KafkaConfig struct {
	ClientID    string        `yaml:"client_id" mapstructure:"client_id"`
	Version     string        `yaml:"version" mapstructure:"version"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	// IdleTimeout bounds the wait for the next message of a partition.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DefaultConfig reads the train split of ComPile from the Hugging Face Hub.
func DefaultConfig() Config {
	return Config{
		Source:    "hf://llvm-ml/ComPile",
		Split:     "train",
		Field:     "content",
		Format:    FormatAuto,
		BatchSize: 64,
		Kafka: KafkaConfig{
			ClientID:    "fastir",
			DialTimeout: 30 * time.Second,
			IdleTimeout: 30 * time.Second,
		},
	}
}

// Validate checks the corpus section
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return errors.New(errors.ErrorTypeConfig, "corpus.source is required")
	}
	if c.Field == "" {
		return errors.New(errors.ErrorTypeConfig, "corpus.field is required")
	}
	switch c.Format {
	case "", FormatAuto, FormatParquet, FormatJSONL:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "corpus.format must be auto, parquet or jsonl, got %q", c.Format)
	}
	if c.BatchSize < 0 {
		return errors.New(errors.ErrorTypeConfig, "corpus.batch_size cannot be negative")
	}
	return nil
}

// lifecycle tracks the open/exhausted/closed state shared by all streams.
type lifecycle struct {
	opened bool
	done   bool
	closed bool
}

func (l *lifecycle) open() error {
	if l.closed {
		return ErrClosed
	}
	if l.opened {
		return ErrAlreadyOpened
	}
	l.opened = true
	return nil
}

// ready returns nil when Next may pull a unit.
func (l *lifecycle) ready() error {
	switch {
	case l.closed:
		return ErrClosed
	case !l.opened:
		return ErrNotOpened
	case l.done:
		return ErrEndOfStream
	}
	return nil
}

// finish marks the stream exhausted and returns ErrEndOfStream.
func (l *lifecycle) finish() error {
	l.done = true
	return ErrEndOfStream
}

// close reports whether this is the first Close.
func (l *lifecycle) close() bool {
	if l.closed {
		return false
	}
	l.closed = true
	return true
}
