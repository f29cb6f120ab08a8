package corpus

import (
	"context"
	"io"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fastir/pkg/compression"
	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/logger"
	"github.com/ajitpratap0/fastir/pkg/metrics"
	"github.com/ajitpratap0/fastir/pkg/observability"
	"github.com/ajitpratap0/fastir/pkg/storage"
)

// shardReader yields the units of one shard.
type shardReader interface {
	// Next returns the next unit of the shard or io.EOF.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// shard is one object of a sharded corpus
type shard struct {
	key         string
	format      string
	compression compression.Algorithm
}

// ShardStream streams a sharded dataset stored in an object store. Shards
// are listed at Open and read one at a time in listing order; only the
// current decoded batch of the current shard is held in memory.
type ShardStream struct {
	store  storage.Store
	prefix string
	cfg    Config
	logger *zap.Logger

	shards  []shard
	next    int
	current shardReader
	state   lifecycle
}

// NewShardStream creates a stream over the shards found under prefix in store.
func NewShardStream(store storage.Store, prefix string, cfg Config, log *zap.Logger) *ShardStream {
	if cfg.Field == "" {
		cfg.Field = DefaultConfig().Field
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &ShardStream{
		store:  store,
		prefix: prefix,
		cfg:    cfg,
		logger: logger.OrGlobal(log).With(zap.String("component", "shard_stream")),
	}
}

// Open lists the shards of the corpus. A missing container or a corpus with
// no shards is reported as source unavailable.
func (s *ShardStream) Open(ctx context.Context) error {
	if err := s.state.open(); err != nil {
		return err
	}

	objects, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return unavailable(err, "failed to list corpus shards")
	}

	for _, obj := range objects {
		if sh, ok := classify(obj.Key, s.cfg.Format); ok {
			s.shards = append(s.shards, sh)
		}
	}
	if len(s.shards) == 0 {
		return unavailable(nil, "no corpus shards found under "+quotePrefix(s.prefix))
	}

	s.logger.Info("corpus opened",
		zap.String("prefix", s.prefix),
		zap.Int("objects", len(objects)),
		zap.Int("shards", len(s.shards)))
	return nil
}

// Next returns the next unit, advancing across shard boundaries.
func (s *ShardStream) Next(ctx context.Context) (Unit, error) {
	if err := s.state.ready(); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if s.current == nil {
			if s.next >= len(s.shards) {
				return nil, s.state.finish()
			}
			reader, err := s.openShard(ctx, s.shards[s.next])
			if err != nil {
				return nil, err
			}
			s.current = reader
			s.next++
		}

		unit, err := s.current.Next(ctx)
		if err == io.EOF {
			if cerr := s.current.Close(); cerr != nil {
				s.logger.Warn("failed to close shard", zap.Error(cerr))
			}
			s.current = nil
			continue
		}
		if err != nil {
			return nil, unavailable(err, "failed to read corpus shard")
		}

		metrics.UnitsRead.WithLabelValues("shards").Inc()
		metrics.UnitBytes.Observe(float64(len(unit)))
		return unit, nil
	}
}

// Close releases the current shard.
func (s *ShardStream) Close() error {
	if !s.state.close() {
		return nil
	}
	var err error
	if s.current != nil {
		err = s.current.Close()
		s.current = nil
	}
	s.shards = nil
	return err
}

func (s *ShardStream) openShard(ctx context.Context, sh shard) (_ shardReader, err error) {
	ctx, span := observability.StartSpan(ctx, "corpus.open_shard",
		attribute.String("shard", sh.key),
		attribute.String("format", sh.format))
	defer func() { observability.EndSpan(span, err) }()

	body, err := s.store.Open(ctx, sh.key)
	if err != nil {
		return nil, unavailable(err, "failed to open corpus shard "+sh.key)
	}

	var reader shardReader
	switch sh.format {
	case FormatParquet:
		reader, err = newParquetShard(ctx, body, s.cfg.Field, s.cfg.BatchSize, s.cfg.SpoolDir)
	default:
		reader, err = newJSONLShard(body, sh.compression, s.cfg.Field)
	}
	if err != nil {
		body.Close() //nolint:errcheck
		return nil, unavailable(err, "failed to read corpus shard "+sh.key)
	}

	metrics.ShardsOpened.WithLabelValues(sh.format).Inc()
	s.logger.Debug("shard opened",
		zap.String(string(logger.ShardKey), sh.key),
		zap.String("format", sh.format),
		zap.Int("index", s.next),
		zap.Int("total", len(s.shards)))
	return reader, nil
}

// classify derives the shard format from an object key. Objects that are
// not shards (READMEs, hidden files, metadata) are rejected.
func classify(key, forced string) (shard, bool) {
	base := path.Base(key)
	if base == "" || strings.HasPrefix(base, ".") || strings.HasSuffix(strings.ToLower(base), ".md") {
		return shard{}, false
	}

	alg, name := compression.FromPath(key)
	ext := strings.ToLower(path.Ext(name))

	var format string
	switch ext {
	case ".parquet":
		format = FormatParquet
	case ".jsonl", ".ndjson", ".json":
		format = FormatJSONL
	}

	switch forced {
	case FormatParquet, FormatJSONL:
		format = forced
	}
	if format == "" {
		return shard{}, false
	}
	if format == FormatParquet && alg != compression.None {
		// Parquet compresses its pages itself.
		return shard{}, false
	}
	return shard{key: key, format: format, compression: alg}, true
}

func quotePrefix(prefix string) string {
	if prefix == "" {
		return "the corpus root"
	}
	return "\"" + prefix + "\""
}

// shardErr marks malformed shard content.
func shardErr(err error, message string) error {
	return errors.Wrap(err, errors.ErrorTypeData, message)
}

var _ Stream = (*ShardStream)(nil)
