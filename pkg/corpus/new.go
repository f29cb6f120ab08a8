package corpus

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/fastir/pkg/logger"
	"github.com/ajitpratap0/fastir/pkg/storage"
)

// New builds the stream for cfg.Source. The returned stream must still be
// opened; construction performs no network I/O beyond client setup.
func New(ctx context.Context, cfg Config, opts storage.Options, log *zap.Logger) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrGlobal(log)

	if strings.HasPrefix(strings.ToLower(cfg.Source), "kafka://") {
		brokers, topic, err := parseKafkaSource(cfg.Source)
		if err != nil {
			return nil, err
		}
		return NewKafkaStream(brokers, topic, cfg.Kafka, log), nil
	}

	loc, err := storage.ParseLocation(cfg.Source)
	if err != nil {
		return nil, err
	}
	if loc.Provider == storage.ProviderLocal {
		loc.Container = strings.ReplaceAll(loc.Container, "{split}", cfg.Split)
	}
	store, err := storage.Open(ctx, loc, opts, log)
	if err != nil {
		return nil, err
	}
	return &ownedShardStream{ShardStream: NewShardStream(store, shardPrefix(loc, cfg.Split), cfg, log), store: store}, nil
}

// shardPrefix resolves the listing prefix. The Hub lists by split; object
// stores use the location prefix with {split} expanded.
func shardPrefix(loc storage.Location, split string) string {
	if loc.Provider == storage.ProviderHub {
		return split
	}
	return strings.ReplaceAll(loc.Prefix, "{split}", split)
}

// ownedShardStream closes the store it was built on.
type ownedShardStream struct {
	*ShardStream
	store storage.Store
}

func (o *ownedShardStream) Close() error {
	err := o.ShardStream.Close()
	if o.store != nil {
		if serr := o.store.Close(); err == nil {
			err = serr
		}
		o.store = nil
	}
	return err
}
