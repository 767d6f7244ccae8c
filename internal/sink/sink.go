package sink

import "context"

// Record is a routed outbound message.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Sink delivers processed records to a destination.
type Sink interface {
	// Deliver blocks until the destination accepts rec or fails. Errors
	// wrapping stream.ErrFatal mean the sink is permanently unusable; any
	// other error affects only rec.
	Deliver(ctx context.Context, rec Record) error

	// Close performs graceful shutdown.
	Close() error
}
