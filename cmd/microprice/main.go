package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lsm/microprice/internal/config"
	"github.com/lsm/microprice/internal/dlq"
	"github.com/lsm/microprice/internal/filter"
	"github.com/lsm/microprice/internal/kafka"
	"github.com/lsm/microprice/internal/microprice"
	"github.com/lsm/microprice/internal/observability"
	kafkasink "github.com/lsm/microprice/internal/sink/kafka"
	kafkasource "github.com/lsm/microprice/internal/source/kafka"
	"github.com/lsm/microprice/internal/stream"
	"github.com/lsm/microprice/internal/tracing"
)

const (
	topicCheckTimeout = 15 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFlag   = flag.String("config", "", "Path to config file. Can also be set via MICROPRICE_CONFIG env var.")
		logLevelFlag = flag.String("log-level", "", "Log level (debug, info, warn, error). Can also be set via MICROPRICE_LOG_LEVEL env var.")
		validateFlag = flag.Bool("validate", false, "Validate the config file and exit")
	)
	flag.Parse()

	if *validateFlag {
		return validate(configPath(*configFlag), os.Stdout)
	}

	logger := observability.NewLogger("microprice", observability.GetLogLevel(*logLevelFlag))
	slog.SetDefault(logger)

	configPath := configPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logger.With("stream", cfg.Name)

	// Header propagation works even when span export is disabled.
	tracing.SetPropagator()
	tracer, shutdownTracing, err := tracing.Initialize(tracing.GetConfig(cfg.Name), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// Setup metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	health := observability.NewHealthServer()
	httpServer := newAdminServer(cfg.MetricsAddr, reg, health)
	go func() {
		logger.Info("metrics server starting", "addr", cfg.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	adminClient, err := newAdminClient(cfg)
	if err != nil {
		return err
	}
	defer adminClient.Close()

	checkCtx, checkCancel := context.WithTimeout(ctx, topicCheckTimeout)
	err = kafka.CheckTopics(checkCtx, kadm.NewClient(adminClient), cfg.Topics()...)
	checkCancel()
	if err != nil {
		return fmt.Errorf("topic check: %w", err)
	}
	health.AddCheck("kafka", kafka.PingCheck(adminClient))

	pricer, err := buildPricer(cfg)
	if err != nil {
		return err
	}

	src, err := kafkasource.NewSource(kafkasource.Config{
		Cluster:       &cfg.Kafka,
		Topic:         cfg.Input.Topic,
		ConsumerGroup: cfg.Input.ConsumerGroup,
		StartOffset:   cfg.Input.StartOffset,
	}, logger, kafkasource.WithTracer(tracer), kafkasource.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("kafka source: %w", err)
	}

	sk, err := kafkasink.NewSink(kafkasink.Config{
		Cluster:  &cfg.Kafka,
		Producer: cfg.Output.Producer,
		Retry:    cfg.ErrorHandling.Retry,
	}, logger, kafkasink.WithTracer(tracer), kafkasink.WithMetrics(metrics))
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("kafka sink: %w", err)
	}

	opts := []stream.Option{
		stream.WithLogger(logger),
		stream.WithMetrics(metrics),
		stream.WithTracer(tracer),
	}

	// Dead letters always use acks=all on their own producer.
	var dlqHandler *dlq.Handler
	if dl := cfg.ErrorHandling.DeadLetter; dl.Enabled {
		dlqSink, err := kafkasink.NewSink(kafkasink.Config{
			Cluster: &cfg.Kafka,
			Retry:   cfg.ErrorHandling.Retry,
		}, logger, kafkasink.WithTracer(tracer), kafkasink.WithMetrics(metrics))
		if err != nil {
			_ = src.Close()
			_ = sk.Close()
			return fmt.Errorf("dlq sink: %w", err)
		}
		dlqHandler = dlq.NewHandler(dlqSink, dlq.WithTopic(dl.Topic))
		opts = append(opts, stream.WithDLQ(dlqHandler))
	}

	runner := stream.New(
		stream.Config{Name: cfg.Name, HandleTimeout: cfg.HandleTimeout},
		src,
		stream.Processor[microprice.Quote, microprice.Record](pricer),
		microprice.DecodeEvent,
		microprice.NewEncoder(encoderConfig(cfg)),
		sk,
		opts...,
	)

	// Configuration is immutable; an edit stops the stream so the
	// supervisor restarts the process with the new file.
	watchCtx, stopWatch := context.WithCancel(ctx)
	go func() {
		err := config.Watch(watchCtx, configPath, logger, func() {
			logger.Info("configuration changed, stopping for restart", "path", configPath)
			cancel()
		})
		if err != nil {
			logger.Warn("config watcher error", "error", err)
		}
	}()

	health.SetReady(true)
	runErr := runner.Run(ctx)

	// Graceful shutdown
	health.SetReady(false)
	stopWatch()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := src.Close(); err != nil {
		logger.Error("source close error", "error", err)
	}
	if err := sk.Close(); err != nil {
		logger.Error("sink close error", "error", err)
	}
	if dlqHandler != nil {
		if err := dlqHandler.Close(); err != nil {
			logger.Error("dlq close error", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

// validate checks the config file, including the filter expression, without
// connecting to Kafka.
func validate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if _, err := buildPricer(cfg); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: configuration is valid (%s -> %s)\n", path, cfg.Input.Topic, cfg.Output.Topic)
	return nil
}

func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(config.EnvConfigPath); v != "" {
		return v
	}
	return config.DefaultConfigPath
}

// newAdminServer serves metrics and health probes on one listener.
func newAdminServer(addr string, reg *prometheus.Registry, health *observability.HealthServer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("GET /healthz", health.Handler())
	mux.Handle("GET /readyz", health.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "admin"),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newAdminClient(cfg *config.Config) (*kgo.Client, error) {
	opts, err := kafka.ClientOptions(&cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka admin client: %w", err)
	}
	return client, nil
}

func buildPricer(cfg *config.Config) (*microprice.Pricer, error) {
	opts := []microprice.Option{microprice.WithTopic(cfg.Output.Topic)}
	if cfg.Filter != "" {
		f, err := filter.New(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("quote filter: %w", err)
		}
		opts = append(opts, microprice.WithFilter(f))
	}
	return microprice.NewPricer(opts...), nil
}

func encoderConfig(cfg *config.Config) microprice.EncoderConfig {
	return microprice.EncoderConfig{
		CloudEvents:   cfg.Output.CloudEvents,
		EventType:     cfg.Output.EventType,
		Source:        cfg.Output.Source,
		TimestampUnit: cfg.Output.TimestampDuration(),
	}
}
