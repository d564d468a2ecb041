package transportmgr

import (
	"context"
	"sync"

	"github.com/obsidian-copilot/transport-core/internal/transport"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// fakeTransport is a minimal transport.Transport double for exercising
// Manager without a real HTTP/WebSocket/FileSystem channel underneath.
type fakeTransport struct {
	kind types.TransportKind
	caps types.Capabilities

	mu     sync.Mutex
	state  types.ConnectionState
	health types.HealthSnapshot

	connectFunc func(ctx context.Context) error
	sendFunc    func(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error)

	subMu  sync.Mutex
	nextID transport.SubscriptionID
	subs   []fakeSub
}

type fakeSub struct {
	id       transport.SubscriptionID
	event    transport.EventName
	listener transport.Listener
}

func newFakeTransport(kind types.TransportKind, caps types.Capabilities) *fakeTransport {
	return &fakeTransport{
		kind:   kind,
		caps:   caps,
		state:  types.StateDisconnected,
		health: types.HealthSnapshot{Transport: kind, CircuitState: types.CircuitClosed, ConnectionState: types.StateDisconnected},
	}
}

func (f *fakeTransport) Kind() types.TransportKind { return f.kind }

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectFunc != nil {
		if err := f.connectFunc(ctx); err != nil {
			return err
		}
	}
	f.setState(types.StateConnected)
	f.emit(transport.TransportEvent{Name: transport.EventConnected, Transport: f.kind})
	return nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.setState(types.StateDisconnected)
	f.emit(transport.TransportEvent{Name: transport.EventDisconnected, Transport: f.kind})
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
	if f.sendFunc != nil {
		return f.sendFunc(ctx, msg, selCtx)
	}
	return &types.Response{ID: msg.ID, CorrelationID: msg.ID, Success: true}, nil
}

func (f *fakeTransport) Capabilities() types.Capabilities { return f.caps }

func (f *fakeTransport) Health() types.HealthSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeTransport) State() types.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) setState(s types.ConnectionState) {
	f.mu.Lock()
	f.state = s
	f.health.ConnectionState = s
	f.mu.Unlock()
}

func (f *fakeTransport) setHealth(h types.HealthSnapshot) {
	f.mu.Lock()
	h.Transport = f.kind
	f.health = h
	f.mu.Unlock()
}

func (f *fakeTransport) setCircuitOpen() {
	f.mu.Lock()
	f.health.CircuitState = types.CircuitOpen
	f.mu.Unlock()
}

func (f *fakeTransport) On(event transport.EventName, listener transport.Listener) transport.SubscriptionID {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, fakeSub{id: id, event: event, listener: listener})
	return id
}

func (f *fakeTransport) Off(event transport.EventName, id transport.SubscriptionID) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

func (f *fakeTransport) emit(evt transport.TransportEvent) {
	f.subMu.Lock()
	subs := make([]fakeSub, 0, len(f.subs))
	for _, s := range f.subs {
		if s.event == evt.Name {
			subs = append(subs, s)
		}
	}
	f.subMu.Unlock()
	for _, s := range subs {
		s.listener(evt)
	}
}

// pushMessage simulates an inbound frame arriving on this transport.
func (f *fakeTransport) pushMessage(msg *types.Message) {
	f.emit(transport.TransportEvent{Name: transport.EventMessage, Transport: f.kind, Message: msg})
}

var _ transport.Transport = (*fakeTransport)(nil)
