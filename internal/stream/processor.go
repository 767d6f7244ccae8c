// Package stream binds a keyed transformation to a single-consumer,
// single-producer runtime.
//
// A Processor turns one decoded input into zero or more outputs and assigns
// each output a routing key and a destination topic. A Runner pulls one
// message at a time from a source.Source, decodes it, calls the processor,
// encodes and routes the outputs and hands them to a sink.Sink in the order
// the processor returned them. Failures that concern a single message are
// counted, logged and skipped; only errors wrapping ErrFatal stop the
// runner.
package stream

import (
	"context"

	"github.com/lsm/microprice/internal/source"
)

// Processor is a keyed stream transformation.
//
// Handle may block but is never called concurrently by a Runner. Returning
// no outputs and a nil error means the input produced nothing. Returning an
// error marks the input as unprocessable.
//
// Key and Topic must be pure functions of the output and must not fail; a
// processor with no natural key returns "".
type Processor[In, Out any] interface {
	Handle(ctx context.Context, in In) ([]Out, error)
	Key(out Out) string
	Topic(out Out) string
}

// DecodeFunc converts an inbound event into the processor input.
type DecodeFunc[In any] func(evt source.Event) (In, error)

// EncodeFunc serializes a processor output into the outbound payload.
type EncodeFunc[Out any] func(out Out) ([]byte, error)

// Envelope is an output with its resolved routing.
type Envelope[Out any] struct {
	Key   string
	Topic string
	Value Out
}

// Route resolves the key and topic of out.
func Route[In, Out any](p Processor[In, Out], out Out) Envelope[Out] {
	return Envelope[Out]{
		Key:   p.Key(out),
		Topic: p.Topic(out),
		Value: out,
	}
}

// Funcs adapts plain functions to Processor. Nil KeyFunc or TopicFunc
// resolve to "".
type Funcs[In, Out any] struct {
	HandleFunc func(ctx context.Context, in In) ([]Out, error)
	KeyFunc    func(out Out) string
	TopicFunc  func(out Out) string
}

func (f Funcs[In, Out]) Handle(ctx context.Context, in In) ([]Out, error) {
	return f.HandleFunc(ctx, in)
}

func (f Funcs[In, Out]) Key(out Out) string {
	if f.KeyFunc == nil {
		return ""
	}
	return f.KeyFunc(out)
}

func (f Funcs[In, Out]) Topic(out Out) string {
	if f.TopicFunc == nil {
		return ""
	}
	return f.TopicFunc(out)
}
