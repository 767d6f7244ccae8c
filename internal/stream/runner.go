package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/lsm/microprice/internal/correlation"
	"github.com/lsm/microprice/internal/dlq"
	"github.com/lsm/microprice/internal/observability"
	"github.com/lsm/microprice/internal/sink"
	"github.com/lsm/microprice/internal/source"
	"github.com/lsm/microprice/internal/tracing"
)

// Message statuses reported in the messages_total metric.
const (
	StatusDelivered = "delivered"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Processing phases reported in the phase_duration metric.
const (
	PhaseDecode  = "decode"
	PhaseHandle  = "handle"
	PhaseDeliver = "deliver"
)

// Config holds runner configuration.
type Config struct {
	Name string // labels logs, metrics and the DLQ topic

	// HandleTimeout bounds each Handle call when positive. A call that
	// overruns is a recoverable HANDLE_TIMEOUT failure and its outputs are
	// discarded.
	HandleTimeout time.Duration
}

type options struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	dlq     *dlq.Handler
}

// Option configures a Runner.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithDLQ publishes the raw bytes of every unprocessable message to h.
func WithDLQ(h *dlq.Handler) Option {
	return func(o *options) { o.dlq = h }
}

// Runner drives one Processor between a source and a sink.
type Runner[In, Out any] struct {
	cfg     Config
	source  source.Source
	proc    Processor[In, Out]
	decode  DecodeFunc[In]
	encode  EncodeFunc[Out]
	sink    sink.Sink
	dlq     *dlq.Handler
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *observability.TraceLogger

	// Per-message failure logs are throttled; metrics stay exact.
	errLog rate.Sometimes
}

// New creates a Runner.
func New[In, Out any](cfg Config, src source.Source, proc Processor[In, Out], decode DecodeFunc[In], encode EncodeFunc[Out], sk sink.Sink, opts ...Option) *Runner[In, Out] {
	if cfg.Name == "" {
		cfg.Name = "stream"
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("stream")
	}

	return &Runner[In, Out]{
		cfg:     cfg,
		source:  src,
		proc:    proc,
		decode:  decode,
		encode:  encode,
		sink:    sk,
		dlq:     o.dlq,
		metrics: o.metrics,
		tracer:  o.tracer,
		logger:  observability.NewTraceLogger(o.logger.With("stream", cfg.Name)),
		errLog:  rate.Sometimes{First: 10, Interval: time.Second},
	}
}

// Run consumes the source until it is exhausted, ctx is cancelled or a fatal
// error occurs. It returns nil on exhaustion and on cancellation; any
// returned error wraps ErrFatal.
func (r *Runner[In, Out]) Run(ctx context.Context) error {
	r.logger.Info(ctx, "starting stream")

	err := r.source.Start(ctx, r.handle)
	switch {
	case err == nil:
		r.logger.Info(ctx, "inbound source exhausted, stream stopped")
		return nil
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		r.logger.Info(ctx, "stream stopped", "reason", ctx.Err())
		return nil
	case IsFatal(err):
		r.logger.Error(ctx, "stream terminated by fatal error", "error", err)
		return err
	default:
		r.logger.Error(ctx, "inbound source failed", "error", err)
		return Fatal(fmt.Errorf("source: %w", err))
	}
}

// handle processes one event. In-flight work is detached from cancellation
// so a started message always completes and its outputs are flushed; the
// source checks ctx before pulling the next one.
func (r *Runner[In, Out]) handle(ctx context.Context, evt source.Event) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.StartSpan(ctx, r.tracer, tracing.SpanProcess,
		trace.WithAttributes(
			tracing.StreamAttr(r.cfg.Name),
			tracing.KafkaTopicAttr(evt.Topic),
			tracing.KafkaPartitionAttr(evt.Partition),
			tracing.KafkaOffsetAttr(evt.Offset),
			tracing.CorrelationAttr(evt.CorrelationID),
		),
	)
	defer span.End()

	delivered, err := r.process(ctx, evt)
	span.SetAttributes(tracing.OutputCountAttr(delivered))
	if err == nil {
		status := StatusDelivered
		if delivered == 0 {
			status = StatusSkipped
		}
		r.metrics.Messages.WithLabelValues(r.cfg.Name, status).Inc()
		tracing.SetSpanOK(span)
		return nil
	}

	tracing.SetSpanError(span, err)
	if IsFatal(err) {
		r.metrics.Messages.WithLabelValues(r.cfg.Name, StatusFailed).Inc()
		return err
	}

	code := CodeHandleFailed
	var merr *MessageError
	if errors.As(err, &merr) {
		code = merr.Code
	}
	span.SetAttributes(tracing.ErrorCodeAttr(code))
	return r.fail(ctx, evt, code, err)
}

func (r *Runner[In, Out]) process(ctx context.Context, evt source.Event) (int, error) {
	start := time.Now()
	in, err := r.decode(evt)
	r.observe(PhaseDecode, start)
	if err != nil {
		return 0, &MessageError{Code: CodeDecodeFailed, Err: err}
	}

	start = time.Now()
	outs, err := r.invoke(ctx, in)
	r.observe(PhaseHandle, start)
	if err != nil {
		return 0, err
	}
	if len(outs) == 0 {
		return 0, nil
	}

	headers := r.headers(evt)
	records := make([]sink.Record, 0, len(outs))
	for _, out := range outs {
		env := Route(r.proc, out)
		value, err := r.encode(env.Value)
		if err != nil {
			return 0, &MessageError{Code: CodeEncodeFailed, Err: fmt.Errorf("encode output with key %q: %w", env.Key, err)}
		}
		records = append(records, sink.Record{
			Topic:   env.Topic,
			Key:     env.Key,
			Value:   value,
			Headers: maps.Clone(headers),
		})
	}

	start = time.Now()
	defer r.observe(PhaseDeliver, start)
	for i, rec := range records {
		if err := r.sink.Deliver(ctx, rec); err != nil {
			err = fmt.Errorf("deliver record %d/%d to %s: %w", i+1, len(records), rec.Topic, err)
			if IsFatal(err) {
				return i, err
			}
			return i, &MessageError{Code: CodeSinkDeliveryFailed, Err: err}
		}
		r.metrics.Records.WithLabelValues(r.cfg.Name, rec.Topic).Inc()
	}
	return len(records), nil
}

// invoke calls Handle, bounded by HandleTimeout when set. The call is never
// abandoned: a processor that ignores its context is waited for and its
// late result discarded, so at most one Handle is ever in flight.
func (r *Runner[In, Out]) invoke(ctx context.Context, in In) ([]Out, error) {
	if r.cfg.HandleTimeout <= 0 {
		outs, err := r.proc.Handle(ctx, in)
		if err != nil {
			return nil, &MessageError{Code: CodeHandleFailed, Err: err}
		}
		return outs, nil
	}

	hctx, cancel := context.WithTimeout(ctx, r.cfg.HandleTimeout)
	defer cancel()

	outs, err := r.proc.Handle(hctx, in)
	if errors.Is(hctx.Err(), context.DeadlineExceeded) {
		return nil, &MessageError{Code: CodeHandleTimeout, Err: fmt.Errorf("handle exceeded %s: %w", r.cfg.HandleTimeout, context.DeadlineExceeded)}
	}
	if err != nil {
		return nil, &MessageError{Code: CodeHandleFailed, Err: err}
	}
	return outs, nil
}

func (r *Runner[In, Out]) headers(evt source.Event) map[string]string {
	id := correlation.ID{Value: evt.CorrelationID}
	if id.Value == "" {
		id = correlation.ExtractOrGenerate(evt.Headers)
	}
	return correlation.AddToHeaders(nil, id)
}

// fail accounts for a recoverable failure. It only returns an error when the
// dead-letter publish hits a fatal sink condition.
func (r *Runner[In, Out]) fail(ctx context.Context, evt source.Event, code string, cause error) error {
	r.metrics.Messages.WithLabelValues(r.cfg.Name, StatusFailed).Inc()
	r.metrics.Errors.WithLabelValues(r.cfg.Name, code).Inc()

	r.errLog.Do(func() {
		r.logger.Warn(ctx, "message skipped",
			"code", code,
			"topic", evt.Topic,
			"partition", evt.Partition,
			"offset", evt.Offset,
			"correlation_id", evt.CorrelationID,
			"error", cause,
		)
	})

	if r.dlq == nil {
		return nil
	}
	err := r.dlq.Send(ctx, evt.Key, evt.Value, dlq.FailureInfo{
		OriginalTopic:     evt.Topic,
		OriginalPartition: evt.Partition,
		OriginalOffset:    evt.Offset,
		ErrorCode:         code,
		ErrorMessage:      cause.Error(),
		StreamName:        r.cfg.Name,
		CorrelationID:     evt.CorrelationID,
	})
	if err != nil {
		r.logger.Error(ctx, "failed to send to DLQ", "code", code, "offset", evt.Offset, "error", err)
		if IsFatal(err) {
			return err
		}
		return nil
	}
	r.metrics.DLQTotal.WithLabelValues(r.cfg.Name).Inc()
	return nil
}

func (r *Runner[In, Out]) observe(phase string, start time.Time) {
	r.metrics.PhaseDuration.WithLabelValues(r.cfg.Name, phase).Observe(time.Since(start).Seconds())
}
