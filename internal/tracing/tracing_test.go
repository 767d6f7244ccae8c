package tracing

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGetConfig_Defaults(t *testing.T) {
	cfg := GetConfig("test-service")

	if cfg.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if cfg.Endpoint != "localhost:4317" {
		t.Errorf("expected endpoint localhost:4317, got %s", cfg.Endpoint)
	}
	if !cfg.Insecure {
		t.Error("expected insecure transport by default")
	}
	if cfg.ServiceName != "test-service" {
		t.Errorf("expected service name test-service, got %s", cfg.ServiceName)
	}
}

func TestGetConfig_FromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg := GetConfig("test-service")

	if cfg.Endpoint != "collector:4317" {
		t.Errorf("expected endpoint collector:4317, got %s", cfg.Endpoint)
	}
	if cfg.Insecure {
		t.Error("expected TLS transport")
	}
}

func TestGetConfig_EnabledCaseInsensitive(t *testing.T) {
	tests := []struct {
		name    string
		envVal  string
		enabled bool
	}{
		{"lowercase true", "true", true},
		{"uppercase TRUE", "TRUE", true},
		{"mixed case True", "True", true},
		{"false", "false", false},
		{"random", "random", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MICROPRICE_OTEL_ENABLED", tt.envVal)
			if got := GetConfig("svc").Enabled; got != tt.enabled {
				t.Errorf("expected enabled %v, got %v", tt.enabled, got)
			}
		})
	}
}

func TestInitialize_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tracer, shutdown, err := Initialize(Config{ServiceName: "test-service"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracer == nil {
		t.Error("expected non-nil tracer")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestSetPropagator(t *testing.T) {
	SetPropagator()
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected traceparent in propagator fields, got %v", fields)
	}
}

func TestStartSpan_NilTracer(t *testing.T) {
	ctx := context.Background()
	got, span := StartSpan(ctx, nil, SpanProcess)
	if got != ctx {
		t.Error("expected context to be returned unchanged")
	}
	if span == nil {
		t.Error("expected non-nil span")
	}
}

func TestSpanStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	_, okSpan := StartSpan(context.Background(), tracer, SpanKafkaPublish)
	SetSpanOK(okSpan)
	okSpan.End()

	_, errSpan := StartSpan(context.Background(), tracer, SpanKafkaConsume)
	SetSpanError(errSpan, errors.New("boom"))
	errSpan.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", spans[0].Status().Code)
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Errorf("unexpected error status %+v", spans[1].Status())
	}
}

func TestSetSpanError_NilSafe(t *testing.T) {
	SetSpanError(nil, errors.New("x"))
	SetSpanOK(nil)
}
