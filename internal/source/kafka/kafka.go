// Package kafka implements source.Source on a Kafka consumer group.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lsm/microprice/internal/correlation"
	"github.com/lsm/microprice/internal/kafka"
	"github.com/lsm/microprice/internal/observability"
	"github.com/lsm/microprice/internal/source"
	"github.com/lsm/microprice/internal/stream"
	"github.com/lsm/microprice/internal/tracing"
)

const commitTimeout = 10 * time.Second

// Config holds Kafka source configuration.
type Config struct {
	Cluster       *kafka.ClusterConfig // Cluster config with auth/TLS (required)
	Topic         string
	ConsumerGroup string
	StartOffset   string // "earliest" or "latest" (default: "latest")
}

// consumer abstracts the kafka client methods used by Source for testing.
type consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	Close()
}

// Option configures a Source.
type Option func(*Source)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Source) { s.tracer = tracer }
}

// WithMetrics reports per-partition consumer lag.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

// Source consumes events from a Kafka topic, one record at a time.
type Source struct {
	client  consumer
	topic   string
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
}

// NewSource creates a new Kafka source.
func NewSource(cfg Config, logger *slog.Logger, opts ...Option) (*Source, error) {
	if cfg.Cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}

	var offset kgo.Offset
	switch cfg.StartOffset {
	case "", "latest":
		offset = kgo.NewOffset().AtEnd()
	case "earliest":
		offset = kgo.NewOffset().AtStart()
	default:
		return nil, fmt.Errorf("start offset %q is not valid (must be earliest or latest)", cfg.StartOffset)
	}

	clientOpts, err := kafka.ClientOptions(cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}

	// Add consumer-specific options
	clientOpts = append(clientOpts,
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
	)

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	return newSource(client, cfg.Topic, logger, opts...), nil
}

func newSource(client consumer, topic string, logger *slog.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		client: client,
		topic:  topic,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("kafka-source"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start consumes records and passes them to handler one at a time. A record
// is committed once handler returns. Cancellation is checked before each
// record so the record in flight is always finished first.
func (s *Source) Start(ctx context.Context, handler source.Handler) error {
	s.logger.Info("starting kafka consumer", "topic", s.topic)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			s.logger.Info("kafka client closed, consumer stopped", "topic", s.topic)
			return nil
		}

		var fatal error
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if kafka.IsUnrecoverable(err) {
				fatal = errors.Join(fatal, fmt.Errorf("fetch %s[%d]: %w", topic, partition, err))
				return
			}
			s.logger.Warn("fetch error", "topic", topic, "partition", partition, "error", err)
		})
		if fatal != nil {
			return stream.Fatal(fatal)
		}

		s.recordLag(fetches)

		iter := fetches.RecordIter()
		for !iter.Done() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.consume(ctx, iter.Next(), handler); err != nil {
				return err
			}
		}
	}
}

func (s *Source) consume(ctx context.Context, record *kgo.Record, handler source.Handler) error {
	evt := source.Event{
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
	}
	for _, h := range record.Headers {
		evt.Headers[h.Key] = string(h.Value)
	}

	corrID := correlation.ExtractOrGenerate(evt.Headers)
	evt.CorrelationID = corrID.Value

	recordCtx := correlation.ExtractTraceContext(ctx, evt.Headers)
	spanCtx, span := tracing.StartSpan(recordCtx, s.tracer, tracing.SpanKafkaConsume,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			tracing.KafkaTopicAttr(record.Topic),
			tracing.KafkaPartitionAttr(record.Partition),
			tracing.KafkaOffsetAttr(record.Offset),
			tracing.CorrelationAttr(corrID.Value),
		),
	)
	defer span.End()

	s.logger.Debug("event received",
		"correlation_id", corrID.Value,
		"correlation_source", corrID.Source,
		"topic", record.Topic,
		"partition", record.Partition,
		"offset", record.Offset,
	)

	if err := handler(spanCtx, evt); err != nil {
		tracing.SetSpanError(span, err)
		return err
	}

	// Commit after the handler returns (at-least-once). The commit must not
	// be lost to a shutdown that started while the record was in flight.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	s.client.MarkCommitRecords(record)
	if err := s.client.CommitMarkedOffsets(commitCtx); err != nil {
		tracing.SetSpanError(span, err)
		if kafka.IsUnrecoverable(err) {
			return stream.Fatal(fmt.Errorf("commit %s[%d]@%d: %w", record.Topic, record.Partition, record.Offset, err))
		}
		s.logger.Warn("commit error", "topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
		return nil
	}
	tracing.SetSpanOK(span)
	return nil
}

func (s *Source) recordLag(fetches kgo.Fetches) {
	if s.metrics == nil {
		return
	}
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if len(p.Records) == 0 {
			return
		}
		last := p.Records[len(p.Records)-1]
		lag := max(p.HighWatermark-last.Offset-1, 0)
		s.metrics.ConsumerLag.WithLabelValues(p.Topic, strconv.Itoa(int(p.Partition))).Set(float64(lag))
	})
}

// Close performs graceful shutdown of the Kafka client.
func (s *Source) Close() error {
	s.client.Close()
	return nil
}
