// Package kafka implements sink.Sink on a Kafka producer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lsm/microprice/internal/correlation"
	"github.com/lsm/microprice/internal/kafka"
	"github.com/lsm/microprice/internal/observability"
	"github.com/lsm/microprice/internal/retry"
	"github.com/lsm/microprice/internal/sink"
	"github.com/lsm/microprice/internal/stream"
	"github.com/lsm/microprice/internal/tracing"
)

// producer abstracts the kafka client methods used by Sink for testing.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Config holds Kafka sink configuration.
type Config struct {
	Cluster  *kafka.ClusterConfig // Cluster config with auth/TLS (required)
	Producer kafka.ProducerConfig
	Retry    retry.Config
}

// Option configures a Sink.
type Option func(*Sink)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Sink) { s.tracer = tracer }
}

// WithMetrics counts retried deliveries.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// Sink produces records synchronously. Each Deliver returns once the broker
// has acknowledged the record at the configured acks level.
type Sink struct {
	client  producer
	retry   retry.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
}

// NewSink creates a new Kafka sink.
func NewSink(cfg Config, logger *slog.Logger, opts ...Option) (*Sink, error) {
	if cfg.Cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}

	clientOpts, err := kafka.ClientOptions(cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}
	producerOpts, err := kafka.ProducerOptions(cfg.Producer)
	if err != nil {
		return nil, fmt.Errorf("producer options: %w", err)
	}
	clientOpts = append(clientOpts, producerOpts...)

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}

	return newSink(client, cfg.Retry, logger, opts...), nil
}

func newSink(client producer, rc retry.Config, logger *slog.Logger, opts ...Option) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig()
	}
	s := &Sink{
		client: client,
		retry:  rc,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("kafka-sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver produces rec and blocks until it is acknowledged. Retriable broker
// errors are retried with backoff. Errors that leave the client unusable
// wrap stream.ErrFatal.
func (s *Sink) Deliver(ctx context.Context, rec sink.Record) error {
	start := time.Now()
	corrID := rec.Headers[correlation.HeaderCorrelationID]

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanKafkaPublish,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			tracing.KafkaTopicAttr(rec.Topic),
			tracing.RoutingKeyAttr(rec.Key),
			tracing.CorrelationAttr(corrID),
		),
	)
	defer span.End()

	headers := correlation.InjectTraceContext(ctx, maps.Clone(rec.Headers))

	err := retry.DoNotify(ctx, s.retry, func() error {
		// kgo mutates produced records, so every attempt gets a fresh one.
		return classify(s.client.ProduceSync(ctx, toKafkaRecord(rec, headers)).FirstErr())
	}, func(attempt int, err error, backoff time.Duration) {
		if s.metrics != nil {
			s.metrics.DeliveryRetries.WithLabelValues(rec.Topic).Inc()
		}
		s.logger.Warn("delivery retry",
			"correlation_id", corrID,
			"topic", rec.Topic,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
	})
	if err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("kafka publish to %s: %w", rec.Topic, err)
	}

	tracing.SetSpanOK(span)
	s.logger.Debug("record delivered",
		"correlation_id", corrID,
		"topic", rec.Topic,
		"key", rec.Key,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// classify maps a produce error onto the retry and fatal taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case kafka.IsUnrecoverable(err):
		return retry.Permanent(stream.Fatal(err))
	case kerr.IsRetriable(err), errors.Is(err, kgo.ErrRecordTimeout):
		return err
	default:
		return retry.Permanent(err)
	}
}

func toKafkaRecord(rec sink.Record, headers map[string]string) *kgo.Record {
	kr := &kgo.Record{
		Topic: rec.Topic,
		Value: rec.Value,
	}
	if rec.Key != "" {
		kr.Key = []byte(rec.Key)
	}
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		kr.Headers = append(kr.Headers, kgo.RecordHeader{Key: k, Value: []byte(headers[k])})
	}
	return kr
}

// Close shuts down the Kafka producer.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
