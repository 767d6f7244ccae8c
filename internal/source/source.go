package source

import "context"

// Event represents a raw message consumed from a source.
type Event struct {
	Key           []byte
	Value         []byte
	Headers       map[string]string
	Topic         string
	Partition     int32
	Offset        int64
	CorrelationID string
}

// Handler processes one event. A non-nil error is fatal: the source stops and
// returns it from Start.
type Handler func(context.Context, Event) error

// Source consumes events from an external system, one at a time, in the
// order the transport assigns them.
type Source interface {
	// Start delivers events to handler until the input is exhausted (returns
	// nil), ctx is cancelled (returns ctx.Err()), the handler fails, or the
	// transport reports an unrecoverable fault. ctx is checked before each
	// event; an event already handed to handler is never interrupted.
	Start(ctx context.Context, handler Handler) error

	// Close performs graceful shutdown.
	Close() error
}
