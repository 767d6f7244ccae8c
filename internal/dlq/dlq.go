// Package dlq publishes inbound messages that could not be processed to a
// dead-letter topic, annotated with the reason.
package dlq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lsm/microprice/internal/sink"
)

// Header names set on every dead-lettered record.
const (
	HeaderOriginalTopic     = "dlq-original-topic"
	HeaderOriginalPartition = "dlq-original-partition"
	HeaderOriginalOffset    = "dlq-original-offset"
	HeaderErrorCode         = "dlq-error-code"
	HeaderErrorMessage      = "dlq-error-message"
	HeaderFailedAt          = "dlq-failed-at"
	HeaderStreamName        = "dlq-stream-name"
	HeaderCorrelationID     = "dlq-correlation-id"
)

// FailureInfo contains metadata about why an event failed processing.
type FailureInfo struct {
	OriginalTopic     string
	OriginalPartition int32
	OriginalOffset    int64
	ErrorCode         string
	ErrorMessage      string
	StreamName        string
	CorrelationID     string
}

// Handler publishes failed events to a dead-letter topic through a sink.
type Handler struct {
	publisher sink.Sink
	topicFn   func(streamName string) string
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithTopic publishes every failure to a fixed topic.
func WithTopic(topic string) Option {
	return func(h *Handler) {
		h.topicFn = func(string) string { return topic }
	}
}

// WithTopicFunc overrides the default topic naming function.
func WithTopicFunc(fn func(streamName string) string) Option {
	return func(h *Handler) {
		h.topicFn = fn
	}
}

// NewHandler creates a new DLQ handler. By default failures of stream "x"
// go to topic "x-dlq".
func NewHandler(pub sink.Sink, opts ...Option) *Handler {
	h := &Handler{
		publisher: pub,
		topicFn:   func(streamName string) string { return streamName + "-dlq" },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send publishes the original key and value with failure headers.
func (h *Handler) Send(ctx context.Context, key, value []byte, info FailureInfo) error {
	topic := h.topicFn(info.StreamName)

	rec := sink.Record{
		Topic: topic,
		Key:   string(key),
		Value: value,
		Headers: map[string]string{
			HeaderOriginalTopic:     info.OriginalTopic,
			HeaderOriginalPartition: strconv.FormatInt(int64(info.OriginalPartition), 10),
			HeaderOriginalOffset:    strconv.FormatInt(info.OriginalOffset, 10),
			HeaderErrorCode:         info.ErrorCode,
			HeaderErrorMessage:      info.ErrorMessage,
			HeaderFailedAt:          h.now().UTC().Format(time.RFC3339),
			HeaderStreamName:        info.StreamName,
			HeaderCorrelationID:     info.CorrelationID,
		},
	}

	if err := h.publisher.Deliver(ctx, rec); err != nil {
		return fmt.Errorf("dlq publish to %s: %w", topic, err)
	}
	return nil
}

// Close releases resources held by the handler.
func (h *Handler) Close() error {
	return h.publisher.Close()
}
