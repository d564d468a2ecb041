// Package transport defines the common contract every physical channel
// (HTTP/SSE, WebSocket, filesystem) implements, plus the BaseTransport
// template that supplies the cross-cutting behavior shared by all three:
// circuit breaking, health-record maintenance, and event dispatch.
package transport

import (
	"context"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// Transport is the contract the manager drives every physical channel
// through. Implementations embed *BaseTransport and override Connect,
// Disconnect, and Send.
type Transport interface {
	// Kind identifies which physical channel this is.
	Kind() types.TransportKind

	// Connect opens the underlying channel. Idempotent: calling Connect on
	// an already-connected transport is a no-op success.
	Connect(ctx context.Context) error

	// Disconnect closes the underlying channel, cancelling any outstanding
	// operations. Idempotent.
	Disconnect(ctx context.Context) error

	// Send delivers message and returns the correlated response, honoring
	// selCtx's deadline and realtime requirements. Fails with CircuitOpen,
	// NotConnected, or Timeout per the taxonomy in pkg/errors.
	Send(ctx context.Context, message *types.Message, selCtx types.SelectionContext) (*types.Response, error)

	// Capabilities is a pure accessor for the transport's static
	// capability descriptor.
	Capabilities() types.Capabilities

	// Health returns a point-in-time snapshot of the rolling health
	// record.
	Health() types.HealthSnapshot

	// State returns the current connection state.
	State() types.ConnectionState

	// On registers listener for event, returning a subscription handle
	// that Off accepts to unregister. Per spec §5, listeners for a single
	// event fire in registration order and a panicking/erroring listener
	// does not stop the rest.
	On(event EventName, listener Listener) SubscriptionID

	// Off removes a previously registered listener.
	Off(event EventName, id SubscriptionID)
}
