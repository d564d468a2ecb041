// Package errors defines the closed error taxonomy raised by transports,
// the Transport Manager, and the Model Selection Service. All failure
// paths in those packages surface one of the Kind values defined here.
package errors

import "fmt"

// Kind is the closed set of transport-core error kinds.
type Kind string

const (
	KindTransportUnavailable Kind = "TransportUnavailable"
	KindNotConnected         Kind = "NotConnected"
	KindCircuitOpen          Kind = "CircuitOpen"
	KindTimeout              Kind = "Timeout"
	KindProtocolError        Kind = "ProtocolError"
	KindNoSuitableTransport  Kind = "NoSuitableTransport"
	KindNoTransportAvailable Kind = "NoTransportAvailable"
	KindQueueFull            Kind = "QueueFull"
	KindCancelled            Kind = "Cancelled"
	KindBudgetExceeded       Kind = "BudgetExceeded"
	KindServiceUnavailable   Kind = "ServiceUnavailable"
)

// TransportError is the standardized error raised across the transport
// core. Transport is empty when the error is not attributable to a single
// transport (e.g. manager-level NoTransportAvailable).
type TransportError struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Transport string `json:"transport,omitempty"`
	Retryable bool   `json:"-"`
	Cause     error  `json:"-"`
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Transport != "" {
		return fmt.Sprintf("[%s] %s (transport=%s)", e.Kind, e.Message, e.Transport)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &TransportError{Kind: KindTimeout}) style
// matching on Kind alone, ignoring the other fields.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, transport, message string, retryable bool) *TransportError {
	return &TransportError{Kind: kind, Message: message, Transport: transport, Retryable: retryable}
}

// NewTransportUnavailable builds the error raised when a transport's
// underlying channel cannot be opened.
func NewTransportUnavailable(transport, message string) *TransportError {
	return newErr(KindTransportUnavailable, transport, message, true)
}

// NewNotConnected builds the error raised when send is attempted before
// connect completes or after the connection drops.
func NewNotConnected(transport string) *TransportError {
	return newErr(KindNotConnected, transport, "transport is not connected", true)
}

// NewCircuitOpen builds the error raised when the breaker short-circuits a
// send without attempting it.
func NewCircuitOpen(transport string) *TransportError {
	return newErr(KindCircuitOpen, transport, "circuit breaker is open", true)
}

// NewTimeout builds the error raised when a request deadline elapses
// without a correlated response.
func NewTimeout(transport string) *TransportError {
	return newErr(KindTimeout, transport, "request deadline exceeded", true)
}

// NewProtocolError builds the error raised on a malformed frame,
// unparseable JSON, or schema mismatch.
func NewProtocolError(transport, message string) *TransportError {
	return newErr(KindProtocolError, transport, message, false)
}

// NewNoSuitableTransport builds the error raised when no connected
// candidate satisfies a selection context.
func NewNoSuitableTransport(message string) *TransportError {
	return newErr(KindNoSuitableTransport, "", message, false)
}

// NewNoTransportAvailable builds the error raised when the manager has
// zero connected transports.
func NewNoTransportAvailable() *TransportError {
	return newErr(KindNoTransportAvailable, "", "no transport is connected", true)
}

// NewQueueFull builds the error raised when the filesystem outbox exceeds
// its configured bound.
func NewQueueFull(transport string) *TransportError {
	return newErr(KindQueueFull, transport, "outgoing queue is full", true)
}

// NewCancelled builds the error raised when an in-flight request is
// aborted by a disconnect or shutdown.
func NewCancelled(transport string) *TransportError {
	return newErr(KindCancelled, transport, "request was cancelled", false)
}

// NewBudgetExceeded builds the error raised by the selection service when
// a selected model's estimated cost exceeds the request's max_cost.
func NewBudgetExceeded(message string) *TransportError {
	return newErr(KindBudgetExceeded, "", message, false)
}

// NewServiceUnavailable builds the catch-all error for remote-side
// failures that don't fit a more specific kind.
func NewServiceUnavailable(transport, message string) *TransportError {
	return newErr(KindServiceUnavailable, transport, message, true)
}

// IsRetryable reports whether err, if a *TransportError, describes a
// condition the manager may retry on another transport.
func IsRetryable(err error) bool {
	te, ok := err.(*TransportError)
	if !ok {
		return false
	}
	return te.Retryable
}

// KindOf extracts the Kind of err if it is a *TransportError, returning
// ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	te, ok := err.(*TransportError)
	if !ok {
		return "", false
	}
	return te.Kind, true
}
