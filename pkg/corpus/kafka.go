package corpus

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fastir/pkg/errors"
	"github.com/ajitpratap0/fastir/pkg/logger"
	"github.com/ajitpratap0/fastir/pkg/metrics"
)

// OffsetFunc resolves sarama.OffsetOldest or sarama.OffsetNewest for a partition.
type OffsetFunc func(topic string, partition int32, position int64) (int64, error)

type partitionRange struct {
	partition int32
	start     int64 // first offset to read
	end       int64 // high-water mark captured at Open
}

// KafkaStream treats a Kafka topic as a corpus: every message value is one
// unit. Partitions are read in ascending order from their oldest offset up to
// the high-water mark captured at Open, so the stream is finite even while
// producers keep appending.
type KafkaStream struct {
	topic   string
	connect func() (sarama.Consumer, OffsetFunc, io.Closer, error)
	idle    time.Duration
	logger  *zap.Logger

	consumer sarama.Consumer
	client   io.Closer
	ranges   []partitionRange
	cur      int
	pc       sarama.PartitionConsumer
	consumed int64
	state    lifecycle
}

// NewKafkaStream creates a stream over topic. No connection is made until Open.
func NewKafkaStream(brokers []string, topic string, cfg KafkaConfig, log *zap.Logger) *KafkaStream {
	connect := func() (sarama.Consumer, OffsetFunc, io.Closer, error) {
		saramaCfg, err := buildSaramaConfig(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		client, err := sarama.NewClient(brokers, saramaCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		consumer, err := sarama.NewConsumerFromClient(client)
		if err != nil {
			client.Close() //nolint:errcheck
			return nil, nil, nil, err
		}
		return consumer, client.GetOffset, client, nil
	}
	return newKafkaStream(topic, connect, cfg.IdleTimeout, log)
}

// NewKafkaStreamFromConsumer creates a stream on an existing consumer. The
// stream closes the consumer when it is closed.
func NewKafkaStreamFromConsumer(topic string, consumer sarama.Consumer, offsets OffsetFunc, log *zap.Logger) *KafkaStream {
	connect := func() (sarama.Consumer, OffsetFunc, io.Closer, error) {
		return consumer, offsets, nil, nil
	}
	return newKafkaStream(topic, connect, DefaultConfig().Kafka.IdleTimeout, log)
}

func newKafkaStream(topic string, connect func() (sarama.Consumer, OffsetFunc, io.Closer, error), idle time.Duration, log *zap.Logger) *KafkaStream {
	if idle <= 0 {
		idle = DefaultConfig().Kafka.IdleTimeout
	}
	return &KafkaStream{
		topic:   topic,
		connect: connect,
		idle:    idle,
		logger:  logger.OrGlobal(log).With(zap.String("component", "kafka_stream"), zap.String("topic", topic)),
	}
}

// Open connects to the cluster and captures the offset range of every
// partition. An unknown topic is reported as source unavailable.
func (k *KafkaStream) Open(ctx context.Context) error {
	if err := k.state.open(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	consumer, offsets, client, err := k.connect()
	if err != nil {
		return unavailable(err, "failed to connect to kafka")
	}
	k.consumer, k.client = consumer, client

	partitions, err := consumer.Partitions(k.topic)
	if err != nil {
		return unavailable(err, "failed to describe topic "+k.topic)
	}
	if len(partitions) == 0 {
		return unavailable(nil, "topic has no partitions: "+k.topic)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total int64
	for _, p := range partitions {
		start, err := offsets(k.topic, p, sarama.OffsetOldest)
		if err != nil {
			return unavailable(err, "failed to fetch oldest offset")
		}
		end, err := offsets(k.topic, p, sarama.OffsetNewest)
		if err != nil {
			return unavailable(err, "failed to fetch newest offset")
		}
		if end <= start {
			continue
		}
		k.ranges = append(k.ranges, partitionRange{partition: p, start: start, end: end})
		total += end - start
	}

	k.logger.Info("corpus opened",
		zap.Int("partitions", len(partitions)),
		zap.Int("non_empty_partitions", len(k.ranges)),
		zap.Int64("messages", total))
	return nil
}

// Next returns the value of the next message.
func (k *KafkaStream) Next(ctx context.Context) (Unit, error) {
	if err := k.state.ready(); err != nil {
		return nil, err
	}

	for {
		if k.pc == nil {
			if k.cur >= len(k.ranges) {
				return nil, k.state.finish()
			}
			r := k.ranges[k.cur]
			pc, err := k.consumer.ConsumePartition(k.topic, r.partition, r.start)
			if err != nil {
				return nil, unavailable(err, "failed to consume partition")
			}
			k.pc, k.consumed = pc, 0
			metrics.ShardsOpened.WithLabelValues("kafka").Inc()
		}

		r := k.ranges[k.cur]
		if k.consumed >= r.end-r.start {
			k.closePartition()
			k.cur++
			continue
		}

		timer := time.NewTimer(k.idle)
		select {
		case msg, ok := <-k.pc.Messages():
			timer.Stop()
			if !ok {
				return nil, unavailable(nil, "partition consumer closed unexpectedly")
			}
			k.consumed++
			if msg.Offset >= r.end-1 {
				// Compacted topics have offset gaps; the high-water mark ends the partition.
				k.consumed = r.end - r.start
			}
			if msg.Value == nil {
				// Tombstones carry no unit.
				continue
			}
			metrics.UnitsRead.WithLabelValues("kafka").Inc()
			metrics.UnitBytes.Observe(float64(len(msg.Value)))
			return msg.Value, nil
		case cerr := <-k.pc.Errors():
			timer.Stop()
			if cerr == nil {
				return nil, unavailable(nil, "partition consumer closed unexpectedly")
			}
			return nil, unavailable(cerr, "failed to consume partition")
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, errors.Wrap(
				errors.Newf(errors.ErrorTypeTimeout, "no message within %s", k.idle),
				errors.ErrorTypeSourceUnavailable, "kafka partition stalled").
				WithDetail("partition", r.partition)
		}
	}
}

// Close releases the partition consumer, the consumer and the client.
func (k *KafkaStream) Close() error {
	if !k.state.close() {
		return nil
	}
	k.closePartition()

	var errs []error
	if k.consumer != nil {
		if err := k.consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if k.client != nil {
		if err := k.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), errors.ErrorTypeConnection, "failed to close kafka stream")
	}
	return nil
}

func (k *KafkaStream) closePartition() {
	if k.pc == nil {
		return
	}
	if err := k.pc.Close(); err != nil {
		k.logger.Warn("failed to close partition consumer", zap.Error(err))
	}
	k.pc = nil
}

func buildSaramaConfig(cfg KafkaConfig) (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka version")
		}
		config.Version = version
	}
	if cfg.DialTimeout > 0 {
		config.Net.DialTimeout = cfg.DialTimeout
	}
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	return config, nil
}

// parseKafkaSource splits kafka://broker1:9092,broker2:9092/topic.
func parseKafkaSource(source string) ([]string, string, error) {
	rest := strings.TrimPrefix(source, "kafka://")
	hosts, topic, ok := strings.Cut(rest, "/")
	topic = strings.Trim(topic, "/")
	if !ok || hosts == "" || topic == "" {
		return nil, "", errors.New(errors.ErrorTypeConfig, "kafka source must be kafka://<brokers>/<topic>").
			WithDetail("source", source)
	}

	var brokers []string
	for _, b := range strings.Split(hosts, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers, topic, nil
}

var _ Stream = (*KafkaStream)(nil)
