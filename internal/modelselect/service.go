package modelselect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/obsidian-copilot/transport-core/internal/cache"
	"github.com/obsidian-copilot/transport-core/internal/pool"
	"github.com/obsidian-copilot/transport-core/internal/transportmgr"
	transporterrors "github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

const (
	healthCacheKey      = "modelselect:health"
	preferencesCacheKey = "modelselect:preferences"

	defaultHealthRefreshInterval = 30 * time.Second
	defaultCacheDuration         = 5 * time.Minute
)

// Config tunes the service's caching and periodic refresh behavior.
type Config struct {
	CacheDuration         time.Duration
	HealthRefreshInterval time.Duration
	Logger                *slog.Logger
	Debug                 bool
}

func (c Config) cacheDuration() time.Duration {
	if c.CacheDuration > 0 {
		return c.CacheDuration
	}
	return defaultCacheDuration
}

func (c Config) healthRefreshInterval() time.Duration {
	if c.HealthRefreshInterval > 0 {
		return c.HealthRefreshInterval
	}
	return defaultHealthRefreshInterval
}

// healthCacheEnvelope is the single value persisted under healthCacheKey so
// one cache read reconstructs both the snapshot and its freshness.
type healthCacheEnvelope struct {
	Health    map[types.TransportKind]types.HealthSnapshot `json:"health"`
	UpdatedAt time.Time                                    `json:"updated_at"`
}

// Service is the Enhanced Model Selection Service: a domain facade over
// transportmgr.Manager. It never owns durable state of its own — every
// field it caches is reconstructible from a fresh refreshModelHealth call
// or from transportmgr's own live accessors, per spec §6's "persisted
// state: none that the core owns".
type Service struct {
	manager       *transportmgr.Manager
	cache         cache.Cache
	cfg           Config
	logger        *slog.Logger
	emitter       *emitter
	fallbackTable map[types.TaskType]fallbackEntry

	mu    sync.RWMutex
	prefs types.UserPreferences

	monitorMu sync.Mutex
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewService builds a Service over an already-constructed manager and
// cache backend. The manager is not connected until Initialize runs.
func NewService(manager *transportmgr.Manager, c cache.Cache, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		manager:       manager,
		cache:         c,
		cfg:           cfg,
		logger:        logger,
		emitter:       newEmitter(logger, cfg.Debug),
		fallbackTable: defaultFallbackTable(),
		prefs:         types.DefaultUserPreferences(),
	}
}

// Initialize connects the manager, wires its events through to the
// service's own event surface, runs an initial health refresh, and starts
// the periodic refresh loop. Fails if the manager cannot reach any
// transport.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.loadPreferences(ctx); err != nil {
		s.logger.Debug("model selection: preferences cache unavailable, using defaults", "error", err)
	}

	if err := s.manager.Connect(ctx); err != nil {
		s.emitter.emit(ServiceEvent{Name: EventConnectionError, Err: err})
		return err
	}
	s.emitter.emit(ServiceEvent{Name: EventConnected})

	s.manager.On(transportmgr.EventTransportSwitched, func(evt transportmgr.ManagerEvent) {
		s.emitter.emit(ServiceEvent{Name: EventTransportChanged, Data: evt})
	})
	s.manager.On(transportmgr.EventTransportFailed, func(evt transportmgr.ManagerEvent) {
		s.emitter.emit(ServiceEvent{Name: EventConnectionError, Err: evt.Err})
	})
	s.manager.On(transportmgr.EventTransportDisconnected, func(evt transportmgr.ManagerEvent) {
		s.emitter.emit(ServiceEvent{Name: EventDisconnected, Data: evt.Transport})
	})

	s.manager.Subscribe(types.MessageTypeHealthUpdate, s.handleHealthUpdatePush)
	s.manager.Subscribe(types.MessageTypePerformanceMetrics, s.handlePerformanceMetricsPush)

	s.RefreshModelHealth(ctx)
	s.startMonitor()
	return nil
}

// handleHealthUpdatePush merges an unsolicited single-transport health
// snapshot, pushed outside of any RefreshModelHealth round-trip, into the
// cached health record and emits EventHealthUpdated — the same cache
// refresh RefreshModelHealth performs, triggered by the remote side
// instead of the local poll, per spec §4.5's push fan-out rule.
func (s *Service) handleHealthUpdatePush(msg *types.Message) {
	payload, ok := msg.Payload.(types.HealthUpdatePayload)
	if !ok {
		s.logger.Warn("model selection: health_update push has unexpected payload shape", "payload_type", fmt.Sprintf("%T", msg.Payload))
		return
	}

	health := s.manager.GetTransportHealth()
	health[types.TransportKind(payload.Transport)] = payload.Health
	if err := s.persistHealth(context.Background(), health); err != nil {
		s.logger.Warn("model selection: failed to persist pushed health snapshot", "error", err)
	}
	s.emitter.emit(ServiceEvent{Name: EventHealthUpdated, Data: health})
}

// handlePerformanceMetricsPush forwards a pushed performance sample batch
// to listeners as EventPerformanceMetrics. The service has no cache slot
// for raw samples — unlike health, nothing downstream reads them back —
// so this is a pure pass-through, per spec §4.5's push fan-out rule.
func (s *Service) handlePerformanceMetricsPush(msg *types.Message) {
	payload, ok := msg.Payload.(types.PerformanceMetricsPayload)
	if !ok {
		s.logger.Warn("model selection: performance_metrics push has unexpected payload shape", "payload_type", fmt.Sprintf("%T", msg.Payload))
		return
	}
	s.emitter.emit(ServiceEvent{Name: EventPerformanceMetrics, Data: payload})
}

// selectionPriority derives the priority band per spec §4.6: critical when
// high quality is requested with no cost ceiling, high when low quality
// (favoring speed) is requested, normal otherwise.
func selectionPriority(req types.ModelSelectionRequestPayload) types.Priority {
	switch {
	case req.QualityRequirement == types.QualityHigh && req.MaxCost == nil:
		return types.PriorityCritical
	case req.QualityRequirement == types.QualityLow:
		return types.PriorityHigh
	default:
		return types.PriorityNormal
	}
}

// effectivePreferences returns req's own UserPreferences when the caller
// populated one (a non-empty Priority is the signal), otherwise the
// service's stored process-wide preferences.
func (s *Service) effectivePreferences(req types.ModelSelectionRequestPayload) types.UserPreferences {
	if req.UserPreferences.Priority != "" {
		return req.UserPreferences
	}
	return s.GetUserPreferences()
}

// SelectModel builds a selection context from request and the caller's
// preferences, sends it through the manager, and on any manager failure
// (or an undecodable response) falls back to the static table when
// fallback_enabled, otherwise propagates the error.
func (s *Service) SelectModel(ctx context.Context, req types.ModelSelectionRequestPayload) (types.SelectionResponsePayload, error) {
	prefs := s.effectivePreferences(req)
	req.UserPreferences = prefs

	selCtx := types.SelectionContext{
		MessageType:      types.MessageTypeModelSelectionRequest,
		Priority:         selectionPriority(req),
		RequiresRealtime: req.TaskType == types.TaskChat,
		MaxLatencyMs:     req.TimeoutMs,
	}
	if selCtx.MaxLatencyMs <= 0 {
		selCtx.MaxLatencyMs = prefs.TimeoutPreferenceMs
	}

	msg := pool.NewMessage(types.MessageTypeModelSelectionRequest, req)
	defer pool.PutMessage(msg)
	resp, err := s.manager.Send(ctx, msg, selCtx)
	if err != nil {
		s.emitter.emit(ServiceEvent{Name: EventConnectionError, Err: err})
		return s.fallbackOrError(req.TaskType, prefs, err)
	}

	selected, err := decodeSelectionResponse(resp.Payload)
	if err != nil {
		s.logger.Warn("model selection: undecodable response, falling back", "error", err)
		return s.fallbackOrError(req.TaskType, prefs, err)
	}

	if req.MaxCost != nil && selected.EstimatedCost > *req.MaxCost {
		budgetErr := transporterrors.NewBudgetExceeded(fmt.Sprintf(
			"selected model %s costs an estimated %.6f, exceeding max_cost %.6f",
			selected.SelectedModel.ID, selected.EstimatedCost, *req.MaxCost,
		))
		s.logger.Warn("model selection: estimated cost exceeds max_cost", "error", budgetErr)
		return s.fallbackOrError(req.TaskType, prefs, budgetErr)
	}

	s.emitter.emit(ServiceEvent{Name: EventModelSelected, Data: selected})
	return selected, nil
}

func (s *Service) fallbackOrError(taskType types.TaskType, prefs types.UserPreferences, cause error) (types.SelectionResponsePayload, error) {
	if !prefs.FallbackEnabled {
		return types.SelectionResponsePayload{}, cause
	}
	fb := staticFallback(s.fallbackTable, taskType)
	s.emitter.emit(ServiceEvent{Name: EventModelSelected, Data: fb})
	return fb, nil
}

// decodeSelectionResponse coerces a Response.Payload — typically a
// map[string]any produced by a transport's generic JSON decode — into the
// concrete SelectionResponsePayload shape via a marshal/unmarshal
// round-trip, matching the teacher's own provider response-decoding idiom.
func decodeSelectionResponse(payload any) (types.SelectionResponsePayload, error) {
	if v, ok := payload.(types.SelectionResponsePayload); ok {
		return v, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return types.SelectionResponsePayload{}, transporterrors.NewProtocolError("", "model_selection_request response is not encodable")
	}
	var out types.SelectionResponsePayload
	if err := json.Unmarshal(encoded, &out); err != nil {
		return types.SelectionResponsePayload{}, transporterrors.NewProtocolError("", "model_selection_request response does not match the expected shape")
	}
	return out, nil
}

// UpdateUserPreferences merges update into the process-wide preferences
// record atomically, persists it, and best-effort notifies the remote side
// via a preferences_update message — failure to deliver that notification
// is logged, never raised, per spec §4.6.
func (s *Service) UpdateUserPreferences(ctx context.Context, update types.PreferencesUpdatePayload) types.UserPreferences {
	s.mu.Lock()
	s.prefs.ApplyUpdate(update)
	updated := s.prefs
	s.mu.Unlock()

	if err := s.persistPreferences(ctx, updated); err != nil {
		s.logger.Warn("model selection: failed to persist preferences", "error", err)
	}

	msg := pool.NewMessage(types.MessageTypePreferencesUpdate, update)
	defer pool.PutMessage(msg)
	selCtx := types.SelectionContext{MessageType: types.MessageTypePreferencesUpdate}
	if _, err := s.manager.Send(ctx, msg, selCtx); err != nil {
		s.logger.Debug("model selection: preferences_update notification failed", "error", err)
	}

	s.emitter.emit(ServiceEvent{Name: EventPreferencesUpdated, Data: updated})
	return updated
}

// GetUserPreferences returns a copy of the current preference record.
func (s *Service) GetUserPreferences() types.UserPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

func (s *Service) persistPreferences(ctx context.Context, prefs types.UserPreferences) error {
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, preferencesCacheKey, encoded, 0)
}

func (s *Service) loadPreferences(ctx context.Context) error {
	data, err := s.cache.Get(ctx, preferencesCacheKey)
	if err != nil || data == nil {
		return err
	}
	var prefs types.UserPreferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return err
	}
	s.mu.Lock()
	s.prefs = prefs
	s.mu.Unlock()
	return nil
}

// RefreshModelHealth sends a health_check_request (best-effort — its
// failure does not prevent the locally-known transport health from being
// cached) and returns the refreshed snapshot.
func (s *Service) RefreshModelHealth(ctx context.Context) map[types.TransportKind]types.HealthSnapshot {
	msg := pool.NewMessage(types.MessageTypeHealthCheckRequest, struct{}{})
	defer pool.PutMessage(msg)
	selCtx := types.SelectionContext{MessageType: types.MessageTypeHealthCheckRequest}
	if _, err := s.manager.Send(ctx, msg, selCtx); err != nil {
		s.logger.Debug("model selection: health_check_request failed", "error", err)
	}

	health := s.manager.GetTransportHealth()
	if err := s.persistHealth(ctx, health); err != nil {
		s.logger.Warn("model selection: failed to persist health snapshot", "error", err)
	}
	s.emitter.emit(ServiceEvent{Name: EventHealthUpdated, Data: health})
	return health
}

func (s *Service) persistHealth(ctx context.Context, health map[types.TransportKind]types.HealthSnapshot) error {
	envelope := healthCacheEnvelope{Health: health, UpdatedAt: time.Now()}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, healthCacheKey, encoded, s.cfg.cacheDuration())
}

// GetCachedHealth returns the last successful health snapshot, possibly
// stale if it predates cache_duration. A cache miss or decode failure
// falls back to the manager's live snapshot — the cache is an accelerator,
// never the source of truth.
func (s *Service) GetCachedHealth(ctx context.Context) map[types.TransportKind]types.HealthSnapshot {
	data, err := s.cache.Get(ctx, healthCacheKey)
	if err != nil || data == nil {
		return s.manager.GetTransportHealth()
	}
	var envelope healthCacheEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return s.manager.GetTransportHealth()
	}
	return envelope.Health
}

// IsHealthy reports whether the manager has at least one usable transport.
func (s *Service) IsHealthy() bool {
	switch s.manager.State() {
	case transportmgr.ManagerActive, transportmgr.ManagerDegraded:
		return true
	default:
		return false
	}
}

// GetConnectionStatus returns the manager's coarse active-transport state.
func (s *Service) GetConnectionStatus() transportmgr.ManagerState {
	return s.manager.State()
}

// GetTransportStatus returns a fresh, uncached health snapshot per transport.
func (s *Service) GetTransportStatus() map[types.TransportKind]types.HealthSnapshot {
	return s.manager.GetTransportHealth()
}

// Disconnect stops the periodic refresh loop and disconnects the manager.
func (s *Service) Disconnect(ctx context.Context) error {
	s.stopMonitor()
	err := s.manager.Disconnect(ctx)
	s.emitter.emit(ServiceEvent{Name: EventDisconnected})
	return err
}

// On registers listener for event.
func (s *Service) On(event EventName, listener Listener) SubscriptionID {
	return s.emitter.On(event, listener)
}

// Off removes a previously registered listener.
func (s *Service) Off(event EventName, id SubscriptionID) {
	s.emitter.Off(event, id)
}

func (s *Service) startMonitor() {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.monitorLoop()
}

func (s *Service) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.healthRefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RefreshModelHealth(context.Background())
		}
	}
}

func (s *Service) stopMonitor() {
	s.monitorMu.Lock()
	stop := s.stop
	s.stop = nil
	s.monitorMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	s.wg.Wait()
}
