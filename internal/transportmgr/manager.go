package transportmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidian-copilot/transport-core/internal/transport"
	transporterrors "github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// defaultConnectTimeout bounds how long Manager.Connect waits for any one
// transport's Connect call before treating it as a failed attempt.
const defaultConnectTimeout = 30 * time.Second

// ManagerState is the active-transport state machine described in spec
// §4.5: none at construction, initializing during Connect, active once a
// connected non-circuit-open transport is selected, degraded when the
// active transport's circuit opens but alternatives remain, offline when
// nothing is connected.
type ManagerState string

const (
	ManagerNone         ManagerState = "none"
	ManagerInitializing ManagerState = "initializing"
	ManagerActive       ManagerState = "active"
	ManagerDegraded     ManagerState = "degraded"
	ManagerOffline      ManagerState = "offline"
)

// Config tunes the manager's selection, failover, and monitoring behavior.
// Deliberately decoupled from internal/config.Config, the same way
// internal/transport's per-transport Config structs are: the composition
// root (cmd/bridge) translates the user-facing configuration file into
// this shape.
type Config struct {
	FallbackChain      []types.TransportKind
	SelectionWeights   SelectionWeights
	CostByTransport    map[types.TransportKind]float64
	RetryAttempts      int
	AutoFailover       bool
	MonitoringInterval time.Duration
	ConnectTimeout     time.Duration
}

// DefaultConfig mirrors spec §6's documented defaults: websocket-first
// fallback chain, auto failover on, 3 retry attempts, 30s monitoring
// interval.
func DefaultConfig() Config {
	return Config{
		FallbackChain:    []types.TransportKind{types.TransportWebSocket, types.TransportHTTP, types.TransportFileSystem},
		SelectionWeights: DefaultSelectionWeights(),
		CostByTransport: map[types.TransportKind]float64{
			types.TransportFileSystem: 0.0,
			types.TransportHTTP:       0.3,
			types.TransportWebSocket:  0.3,
		},
		RetryAttempts:      3,
		AutoFailover:       true,
		MonitoringInterval: defaultMonitoringInterval,
		ConnectTimeout:     defaultConnectTimeout,
	}
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return defaultConnectTimeout
}

// Manager is the single coordinator in front of every configured
// transport: it connects them, scores and selects which one carries a
// given send, fails over on error, fans out inbound pushes, and runs the
// periodic health monitor.
type Manager struct {
	cfg         Config
	transports  map[types.TransportKind]transport.Transport
	pending     *pendingTable
	emitter     *emitter
	logger      *slog.Logger
	monitor     *healthMonitor

	mu             sync.RWMutex
	state          ManagerState
	activeKind     types.TransportKind
	connectStarted bool
	connectErr     error

	subMu       sync.Mutex
	subscribers map[types.MessageType][]func(*types.Message)

	circuitMu   sync.Mutex
	lastCircuit map[types.TransportKind]types.CircuitState
}

// NewManager builds a Manager over transports, none of which need be
// connected yet. Each transport's message/connected/disconnected events
// are wired to the manager immediately so none are missed once Connect
// runs.
func NewManager(cfg Config, transports []transport.Transport, logger *slog.Logger, debug bool) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.FallbackChain) == 0 {
		cfg.FallbackChain = DefaultConfig().FallbackChain
	}

	m := &Manager{
		cfg:         cfg,
		transports:  make(map[types.TransportKind]transport.Transport, len(transports)),
		pending:     newPendingTable(),
		emitter:     newEmitter(logger, debug),
		logger:      logger,
		state:       ManagerNone,
		subscribers: make(map[types.MessageType][]func(*types.Message)),
		lastCircuit: make(map[types.TransportKind]types.CircuitState, len(transports)),
	}
	m.monitor = newHealthMonitor(m, cfg.MonitoringInterval)

	for _, tr := range transports {
		kind := tr.Kind()
		m.transports[kind] = tr
		m.lastCircuit[kind] = types.CircuitClosed

		tr.On(transport.EventMessage, func(evt transport.TransportEvent) {
			m.onTransportMessage(kind, evt.Message)
		})
		tr.On(transport.EventConnected, func(evt transport.TransportEvent) {
			m.emitter.emit(ManagerEvent{Name: EventTransportConnected, Transport: kind})
		})
		tr.On(transport.EventDisconnected, func(evt transport.TransportEvent) {
			m.emitter.emit(ManagerEvent{Name: EventTransportDisconnected, Transport: kind})
			m.reconcileStateAfterDrop()
		})
		tr.On(transport.EventHealthChanged, func(evt transport.TransportEvent) {
			m.reportCircuitTransition(kind, evt.Health.CircuitState)
			if evt.Health.CircuitState != types.CircuitOpen {
				return
			}
			for _, c := range m.candidates() {
				if c.Kind == kind {
					continue
				}
				m.mu.Lock()
				if m.state == ManagerActive && m.activeKind == kind {
					m.state = ManagerDegraded
				}
				m.mu.Unlock()
				return
			}
		})
	}

	return m
}

// reportCircuitTransition emits EventCircuitTransition the first time a
// transport's circuit breaker state differs from what was last observed,
// so listeners (the metrics collector in cmd/bridge) see each transition
// exactly once rather than once per health snapshot.
func (m *Manager) reportCircuitTransition(kind types.TransportKind, to types.CircuitState) {
	m.circuitMu.Lock()
	from, ok := m.lastCircuit[kind]
	if ok && from == to {
		m.circuitMu.Unlock()
		return
	}
	m.lastCircuit[kind] = to
	m.circuitMu.Unlock()

	m.emitter.emit(ManagerEvent{Name: EventCircuitTransition, Transport: kind, CircuitFrom: from, CircuitTo: to})
}

// Connect attempts to connect every configured transport in parallel,
// each bounded by cfg.ConnectTimeout, and waits for all attempts to
// settle. It succeeds once at least one transport reaches connected;
// partial failures are logged, not raised. Calling Connect a second time
// is a no-op returning the first call's outcome (idempotent, per spec
// §8's connect/disconnect law).
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connectStarted {
		err := m.connectErr
		m.mu.Unlock()
		return err
	}
	m.connectStarted = true
	m.state = ManagerInitializing
	m.mu.Unlock()

	type outcome struct {
		kind types.TransportKind
		err  error
	}
	results := make(chan outcome, len(m.transports))

	var wg sync.WaitGroup
	for kind, tr := range m.transports {
		wg.Add(1)
		go func(kind types.TransportKind, tr transport.Transport) {
			defer wg.Done()
			connectCtx, cancel := context.WithTimeout(ctx, m.cfg.connectTimeout())
			defer cancel()
			err := tr.Connect(connectCtx)
			results <- outcome{kind: kind, err: err}
		}(kind, tr)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var connected []types.TransportKind
	for res := range results {
		if res.err != nil {
			m.logger.Warn("transport connect failed", "transport", res.kind, "error", res.err)
			continue
		}
		connected = append(connected, res.kind)
		m.emitter.emit(ManagerEvent{Name: EventTransportConnected, Transport: res.kind})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(connected) == 0 {
		m.state = ManagerOffline
		m.connectErr = transporterrors.NewNoTransportAvailable()
		return m.connectErr
	}

	m.state = ManagerActive
	m.activeKind = m.pickDefaultLocked(connected)
	m.monitor.start()
	return nil
}

// pickDefaultLocked chooses the initial active transport among those that
// just connected, preferring fallbackChain order. Callers must hold m.mu.
func (m *Manager) pickDefaultLocked(connected []types.TransportKind) types.TransportKind {
	connectedSet := make(map[types.TransportKind]bool, len(connected))
	for _, k := range connected {
		connectedSet[k] = true
	}
	for _, k := range m.cfg.FallbackChain {
		if connectedSet[k] {
			return k
		}
	}
	return connected[0]
}

// Disconnect stops the health monitor and disconnects every transport,
// cancelling their outstanding sends. Idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.monitor.stopLoop()

	m.mu.Lock()
	m.state = ManagerNone
	m.mu.Unlock()

	var firstErr error
	for _, tr := range m.transports {
		if err := tr.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Send picks an active transport for message per selCtx, dispatches it,
// and on a retryable failure consults the fallback chain, bounded by
// min(cfg.RetryAttempts, candidate count). Preserves message.ID across
// attempts and re-binds streaming requests down to a non-streaming shape
// when the fallback transport can't carry a stream.
func (m *Manager) Send(ctx context.Context, message *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
	candidates := m.candidates()
	if len(candidates) == 0 {
		return nil, transporterrors.NewNoTransportAvailable()
	}

	attempts := m.cfg.RetryAttempts
	if attempts <= 0 || attempts > len(candidates) {
		attempts = len(candidates)
	}

	tried := make(map[types.TransportKind]bool, attempts)
	var lastErr error
	var lastKind types.TransportKind

	for i := 0; i < attempts; i++ {
		remaining := excludeTried(candidates, tried)
		if len(remaining) == 0 {
			break
		}

		kind, err := SelectTransport(remaining, selCtx, m.cfg.SelectionWeights, m.cfg.FallbackChain, m.cfg.CostByTransport)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		tr := m.transports[kind]
		if lastKind != "" && lastKind != kind {
			m.emitter.emit(ManagerEvent{Name: EventTransportSwitched, Transport: lastKind, FallbackTo: kind, Reason: errString(lastErr)})
		}
		lastKind = kind
		tried[kind] = true

		outbound := rebindForCapabilities(message, tr.Capabilities())

		m.pending.add(outbound.ID)
		start := time.Now()
		resp, sendErr := tr.Send(ctx, outbound, selCtx)
		latency := time.Since(start)
		m.pending.remove(outbound.ID)

		m.emitter.emit(ManagerEvent{
			Name:         EventMessageSent,
			Transport:    kind,
			MsgType:      outbound.Type,
			Success:      sendErr == nil,
			Latency:      latency,
			PendingCount: m.pending.len(),
		})

		if sendErr == nil {
			m.mu.Lock()
			m.activeKind = kind
			if m.state != ManagerActive {
				m.state = ManagerActive
			}
			m.mu.Unlock()
			return resp, nil
		}

		lastErr = sendErr
		if !m.cfg.AutoFailover || !transporterrors.IsRetryable(sendErr) {
			break
		}
	}

	m.emitter.emit(ManagerEvent{Name: EventTransportFailed, Transport: lastKind, Err: lastErr})
	if lastErr == nil {
		lastErr = transporterrors.NewNoSuitableTransport("no candidate transport accepted the send")
	}
	return nil, lastErr
}

// excludeTried returns the subset of candidates not already attempted.
func excludeTried(candidates []Candidate, tried map[types.TransportKind]bool) []Candidate {
	if len(tried) == 0 {
		return candidates
	}
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !tried[c.Kind] {
			out = append(out, c)
		}
	}
	return out
}

// rebindForCapabilities clones message and disables streaming when the
// target transport can't carry one, per spec §4.5's failover rule. Every
// other field, including ID, is preserved unchanged.
func rebindForCapabilities(message *types.Message, caps types.Capabilities) *types.Message {
	chat, ok := message.Payload.(types.ChatEnhancedPayload)
	if !ok || !chat.Stream || caps.Streaming {
		return message
	}

	clone := *message
	chatClone := chat
	chatClone.Stream = false
	clone.Payload = chatClone
	return &clone
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// candidates builds the scoring input from every currently connected
// transport whose circuit is not open (an open-circuit transport must
// never receive a send, per spec §8 invariant 2).
func (m *Manager) candidates() []Candidate {
	out := make([]Candidate, 0, len(m.transports))
	for kind, tr := range m.transports {
		if tr.State() != types.StateConnected {
			continue
		}
		health := tr.Health()
		if health.CircuitState == types.CircuitOpen {
			continue
		}
		out = append(out, Candidate{Kind: kind, Capabilities: tr.Capabilities(), Health: health})
	}
	return out
}

// GetActiveTransport returns the active transport: the default Connect
// picked, replaced by each successful send and by each health-monitor
// promotion. It is empty until Connect succeeds.
func (m *Manager) GetActiveTransport() types.TransportKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeKind
}

// GetAvailableTransports returns every transport currently in state
// connected.
func (m *Manager) GetAvailableTransports() []types.TransportKind {
	out := make([]types.TransportKind, 0, len(m.transports))
	for kind, tr := range m.transports {
		if tr.State() == types.StateConnected {
			out = append(out, kind)
		}
	}
	return out
}

// GetTransportHealth returns a snapshot of every configured transport's
// health record, keyed by kind.
func (m *Manager) GetTransportHealth() map[types.TransportKind]types.HealthSnapshot {
	out := make(map[types.TransportKind]types.HealthSnapshot, len(m.transports))
	for kind, tr := range m.transports {
		out[kind] = tr.Health()
	}
	return out
}

// State returns the manager's current active-transport state.
func (m *Manager) State() ManagerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// On registers listener for event, per spec §5's ordering guarantee.
func (m *Manager) On(event EventName, listener Listener) SubscriptionID {
	return m.emitter.On(event, listener)
}

// Off removes a previously registered listener.
func (m *Manager) Off(event EventName, id SubscriptionID) {
	m.emitter.Off(event, id)
}

// Subscribe registers handler to receive every unsolicited inbound
// message of msgType (one not correlated to a live Send call), in
// registration order.
func (m *Manager) Subscribe(msgType types.MessageType, handler func(*types.Message)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers[msgType] = append(m.subscribers[msgType], handler)
}

// onTransportMessage is wired to every transport's `message` event. A
// message correlated to a send currently awaited through this manager is
// surfaced only via the raw `message` manager event (its caller is
// already watching for that correlation id); anything else is additionally
// fanned out to type subscribers, per spec §4.5's inbound fan-out rule.
func (m *Manager) onTransportMessage(kind types.TransportKind, msg *types.Message) {
	if msg == nil {
		return
	}
	m.emitter.emit(ManagerEvent{Name: EventMessage, Transport: kind, Message: msg})

	if m.pending.has(msg.CorrelationID) {
		return
	}

	m.subMu.Lock()
	handlers := append([]func(*types.Message){}, m.subscribers[msg.Type]...)
	m.subMu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// maybePromoteActive re-scores every connected, non-circuit-open
// transport against the current active one and switches if a strictly
// better candidate exists, per the health monitor's proactive-rescoring
// rule. Run without a live selection context, so it operates over the raw
// candidate set rather than one filtered to a specific message type.
func (m *Manager) maybePromoteActive() {
	candidates := m.candidates()
	if len(candidates) < 2 {
		return
	}

	weights := m.cfg.SelectionWeights.Normalize()
	current := m.GetActiveTransport()

	var currentScore, winnerScore float64
	var currentFound bool
	winner := SelectTransportScored(candidates, weights, m.cfg.FallbackChain, m.cfg.CostByTransport)
	if winner == current {
		return
	}

	for _, c := range candidates {
		s := score(c, weights, m.cfg.CostByTransport)
		if c.Kind == current {
			currentScore, currentFound = s, true
		}
		if c.Kind == winner {
			winnerScore = s
		}
	}

	// Only switch away from a transport that is still itself a viable
	// candidate when the alternative is a strictly better scorer; a tie
	// stays put to avoid flapping.
	if currentFound && winnerScore <= currentScore {
		return
	}

	m.mu.Lock()
	m.activeKind = winner
	m.state = ManagerActive
	m.mu.Unlock()

	m.emitter.emit(ManagerEvent{Name: EventTransportSwitched, Transport: current, FallbackTo: winner, Reason: "proactive health re-scoring"})
}

// reconcileStateAfterDrop recomputes the manager's coarse state after a
// transport disconnects: offline if nothing remains connected, degraded if
// the active transport dropped but alternatives exist.
func (m *Manager) reconcileStateAfterDrop() {
	available := m.GetAvailableTransports()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(available) == 0 {
		m.state = ManagerOffline
		return
	}

	for _, k := range available {
		if k == m.activeKind {
			return
		}
	}
	m.state = ManagerDegraded
}
