package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the stream processor Prometheus metrics.
type Metrics struct {
	Messages        *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	Records         *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	DLQTotal        *prometheus.CounterVec
	DeliveryRetries *prometheus.CounterVec
	ConsumerLag     *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "microprice_stream_messages_total",
			Help: "Inbound messages by final processing status.",
		}, []string{"stream", "status"}),

		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "microprice_stream_errors_total",
			Help: "Recoverable per-message failures by error code.",
		}, []string{"stream", "code"}),

		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "microprice_stream_records_total",
			Help: "Outbound records accepted by the sink.",
		}, []string{"stream", "topic"}),

		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "microprice_stream_phase_duration_seconds",
			Help:    "Processing time per message phase.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"stream", "phase"}),

		DLQTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "microprice_stream_dlq_total",
			Help: "Inbound messages published to the dead-letter topic.",
		}, []string{"stream"}),

		DeliveryRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "microprice_sink_delivery_retries_total",
			Help: "Outbound delivery attempts retried after a transient failure.",
		}, []string{"topic"}),

		ConsumerLag: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "microprice_source_consumer_lag",
			Help: "Records between the last consumed offset and the high watermark.",
		}, []string{"topic", "partition"}),
	}
}
