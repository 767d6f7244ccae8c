package stream

import (
	"errors"
	"fmt"
)

// ErrFatal marks a condition the runner cannot recover from, such as a
// transport whose credentials were revoked or whose client was closed.
var ErrFatal = errors.New("fatal stream error")

type fatalError struct {
	err error
}

func (e *fatalError) Error() string   { return e.err.Error() }
func (e *fatalError) Unwrap() []error { return []error{ErrFatal, e.err} }

// Fatal marks err as fatal. errors.Is(Fatal(err), err) still holds.
func Fatal(err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err wraps ErrFatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Error codes for recoverable per-message failures.
const (
	CodeDecodeFailed       = "DECODE_FAILED"
	CodeHandleFailed       = "HANDLE_FAILED"
	CodeHandleTimeout      = "HANDLE_TIMEOUT"
	CodeEncodeFailed       = "ENCODE_FAILED"
	CodeSinkDeliveryFailed = "SINK_DELIVERY_FAILED"
)

// MessageError is a recoverable failure confined to one inbound message.
type MessageError struct {
	Code string
	Err  error
}

func (e *MessageError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *MessageError) Unwrap() error { return e.Err }
