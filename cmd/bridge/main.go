// Package main is the entry point for the transport-core bridge process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obsidian-copilot/transport-core/internal/cache"
	"github.com/obsidian-copilot/transport-core/internal/config"
	"github.com/obsidian-copilot/transport-core/internal/metrics"
	"github.com/obsidian-copilot/transport-core/internal/modelselect"
	"github.com/obsidian-copilot/transport-core/internal/observability"
	"github.com/obsidian-copilot/transport-core/internal/resilience"
	"github.com/obsidian-copilot/transport-core/internal/transport"
	"github.com/obsidian-copilot/transport-core/internal/transportmgr"
	"github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/bridge.yaml", "path to configuration file")
	addr := flag.String("addr", "127.0.0.1:7431", "address the local control surface listens on")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("starting transport-core bridge")

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer func() { _ = cfgManager.Close() }()

	cfg := cfgManager.Get()
	if cfg.DebugMode {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watchErr := cfgManager.Watch(ctx); watchErr != nil {
		logger.Warn("config hot-reload disabled", "error", watchErr)
	}

	tracerProvider, err := observability.InitTracing(ctx, buildTracingConfig(cfg))
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else if cfg.Observability.OTel.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Observability.OTel.Endpoint)
	}

	dispatcher, err := buildDispatcher(cfg, logger, tracerProvider)
	if err != nil {
		return fmt.Errorf("failed to build observability dispatcher: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutErr := dispatcher.Shutdown(shutdownCtx); shutErr != nil {
			logger.Error("observability shutdown error", "error", shutErr)
		}
	}()

	cacheBackend, err := cache.New(buildCacheConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build cache backend: %w", err)
	}
	defer func() { _ = cacheBackend.Close() }()

	transports := buildTransports(cfg, logger)
	mgr := transportmgr.NewManager(buildManagerConfig(cfg), transports, logger, cfg.DebugMode)

	collector := metrics.NewCollector()
	wireManagerObservability(mgr, dispatcher, collector, logger)

	svc := modelselect.NewService(mgr, cacheBackend, modelselect.Config{
		CacheDuration:         time.Duration(cfg.CacheDurationMs) * time.Millisecond,
		HealthRefreshInterval: time.Duration(cfg.MonitoringIntervalMs) * time.Millisecond,
		Logger:                logger,
		Debug:                 cfg.DebugMode,
	})

	if err := svc.Initialize(ctx); err != nil {
		logger.Warn("no transport reachable at startup, continuing in offline state", "error", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if discErr := svc.Disconnect(shutdownCtx); discErr != nil {
			logger.Error("service disconnect error", "error", discErr)
		}
	}()

	h := newHandler(svc, collector)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", h.status)
	mux.HandleFunc("GET /transports", h.transportStatus)
	mux.HandleFunc("GET /health/cached", h.cachedHealth)
	mux.HandleFunc("POST /health/refresh", h.refreshHealth)
	mux.HandleFunc("POST /select", h.selectModel)
	mux.HandleFunc("GET /preferences", h.getPreferences)
	mux.HandleFunc("POST /preferences", h.updatePreferences)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	var httpHandler http.Handler = mux
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	server := &http.Server{
		Addr:         *addr,
		Handler:      httpHandler,
		ReadTimeout:  time.Duration(cfg.TimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("bridge control surface listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down bridge...")
	case err := <-serverErr:
		return fmt.Errorf("control surface error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("control surface shutdown error", "error", err)
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}

	logger.Info("bridge stopped")
	return nil
}

// buildTracingConfig translates the top-level observability config into
// the OTel tracing pipeline's own config shape.
func buildTracingConfig(cfg *config.Config) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     cfg.Observability.OTel.Enabled,
		Endpoint:    cfg.Observability.OTel.Endpoint,
		ServiceName: cfg.Observability.OTel.ServiceName,
		SampleRate:  1.0,
		Insecure:    cfg.Observability.OTel.Insecure,
	}
}

// buildDispatcher wires every configured observability callback into a
// single Dispatcher, following the teacher's pattern of assembling
// cross-cutting collaborators from config before constructing the client.
func buildDispatcher(cfg *config.Config, logger *slog.Logger, tp *observability.TracerProvider) (*observability.Dispatcher, error) {
	obsLogger := observability.NewLogger(observability.LoggerConfig{
		Level:      slog.LevelInfo,
		JSONFormat: cfg.Logging.Format != "text",
	}, observability.NewRedactor())
	dispatcher := observability.NewDispatcher(obsLogger)

	if cfg.Observability.Prometheus.Enabled {
		dispatcher.Register(observability.NewPrometheusCallback())
	}
	if cfg.Observability.OTel.Enabled && tp != nil {
		dispatcher.Register(observability.NewOTelCallback(tp.Tracer()))
	}
	if cfg.Observability.Slack.Enabled {
		slackCb, err := observability.NewSlackCallback(observability.SlackConfig{
			WebhookURL:       cfg.Observability.Slack.WebhookURL,
			Username:         "Transport Core",
			IconEmoji:        ":satellite:",
			AlertOnFailure:   true,
			AlertOnCircuit:   true,
			MinErrorInterval: time.Minute,
			ErrorThreshold:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("slack callback: %w", err)
		}
		dispatcher.Register(slackCb)
	}
	if cfg.Observability.S3.Enabled {
		s3Cb, err := observability.NewS3Callback(observability.S3Config{
			BucketName:    cfg.Observability.S3.Bucket,
			Region:        cfg.Observability.S3.Region,
			PathPrefix:    cfg.Observability.S3.Prefix,
			FlushInterval: 10 * time.Second,
			BatchSize:     100,
			Filter:        observability.DefaultContentFilter(),
		})
		if err != nil {
			return nil, fmt.Errorf("s3 callback: %w", err)
		}
		dispatcher.Register(s3Cb)
	}

	logger.Info("observability callbacks registered", "callbacks", dispatcher.Callbacks())
	return dispatcher, nil
}

// buildCacheConfig translates config.CacheConfig into internal/cache's own
// Config, following the teacher's pattern of giving each subsystem a
// decoupled local config type that the composition root alone translates
// into.
func buildCacheConfig(cfg *config.Config) cache.Config {
	out := cache.DefaultConfig()
	switch strings.ToLower(cfg.Cache.Backend) {
	case "dual":
		out.Backend = cache.BackendDual
	default:
		out.Backend = cache.BackendMemory
	}
	out.Memory.DefaultTTL = time.Duration(cfg.CacheDurationMs) * time.Millisecond
	out.Redis = cache.RedisConfig{
		Addr:         cfg.Cache.Redis.Addr,
		Password:     cfg.Cache.Redis.Password,
		DB:           cfg.Cache.Redis.DB,
		Namespace:    cfg.Cache.Namespace,
		DefaultTTL:   time.Duration(cfg.CacheDurationMs) * time.Millisecond,
		DialTimeout:  cfg.Cache.Redis.DialTimeout,
		ReadTimeout:  cfg.Cache.Redis.ReadTimeout,
		WriteTimeout: cfg.Cache.Redis.WriteTimeout,
		PoolSize:     cfg.Cache.Redis.PoolSize,
		MinIdleConns: cfg.Cache.Redis.MinIdleConns,
		MaxRetries:   cfg.Cache.Redis.MaxRetries,
	}
	return out
}

// buildTransports constructs the three transport implementations from
// config, following spec §6's environment-input table. A transport whose
// required endpoint is unset is still constructed (Connect simply fails
// for it, excluding it from candidacy) rather than omitted, so the
// fallback chain's ordering always refers to a live Transport value.
func buildTransports(cfg *config.Config, logger *slog.Logger) []transport.Transport {
	cb := resilience.DefaultCircuitBreakerConfig()

	httpTransport := transport.NewHTTPTransport(transport.HTTPConfig{
		ServerURL:      cfg.ServerURL,
		APIKey:         cfg.APIKey,
		EnableSSE:      cfg.HTTP.EnableSSE,
		MaxConnections: cfg.HTTP.MaxConnections,
	}, cb, logger, cfg.DebugMode)

	wsTransport := transport.NewWebSocketTransport(transport.WebSocketConfig{
		URL:                  websocketURL(cfg.ServerURL),
		APIKey:               cfg.APIKey,
		HeartbeatInterval:    cfg.WebSocket.HeartbeatInterval,
		ReconnectDelay:       cfg.WebSocket.ReconnectDelay,
		MaxReconnectAttempts: cfg.WebSocket.MaxReconnectAttempts,
		PersistMessages:      cfg.WebSocket.PersistMessages,
	}, cb, logger, cfg.DebugMode)

	fsTransport := transport.NewFileSystemTransport(transport.FileSystemConfig{
		Root:          cfg.DevpipePath,
		WatchInterval: cfg.FileSystem.WatchInterval,
		LockTimeout:   cfg.FileSystem.LockTimeout,
		MaxQueueSize:  cfg.FileSystem.MaxQueueSize,
	}, cb, logger, cfg.DebugMode)

	return []transport.Transport{httpTransport, wsTransport, fsTransport}
}

// websocketURL derives the WebSocket endpoint from the configured HTTP
// server URL by swapping the scheme, per spec §6: "a single endpoint path
// ... derived by swapping the HTTP scheme to ws/wss".
func websocketURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws/obsidian"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws/obsidian"
	default:
		return serverURL
	}
}

// buildManagerConfig translates config.Config into transportmgr.Config.
func buildManagerConfig(cfg *config.Config) transportmgr.Config {
	return transportmgr.Config{
		FallbackChain: cfg.FallbackChain,
		SelectionWeights: transportmgr.SelectionWeights{
			Latency:     cfg.SelectionWeights.Latency,
			Reliability: cfg.SelectionWeights.Reliability,
			Capability:  cfg.SelectionWeights.Capability,
			Cost:        cfg.SelectionWeights.Cost,
		},
		CostByTransport: map[types.TransportKind]float64{
			types.TransportFileSystem: 0.0,
			types.TransportHTTP:       0.3,
			types.TransportWebSocket:  0.3,
		},
		RetryAttempts:      cfg.RetryAttempts,
		AutoFailover:       cfg.AutoFailover,
		MonitoringInterval: time.Duration(cfg.MonitoringIntervalMs) * time.Millisecond,
		ConnectTimeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
}

// wireManagerObservability fans manager events out to the metrics
// collector directly (for latency-free gauge/counter updates) and to the
// general-purpose event Dispatcher (for Slack/OTel/S3 callbacks).
func wireManagerObservability(mgr *transportmgr.Manager, dispatcher *observability.Dispatcher, collector *metrics.Collector, logger *slog.Logger) {
	mgr.On(transportmgr.EventTransportSwitched, func(evt transportmgr.ManagerEvent) {
		collector.RecordTransportSwitch(evt.Transport, evt.FallbackTo)
		dispatcher.Dispatch(context.Background(), observability.Event{
			Type: observability.EventTransportSwitched, Transport: evt.Transport, FallbackTo: evt.FallbackTo,
		})
	})
	mgr.On(transportmgr.EventTransportFailed, func(evt transportmgr.ManagerEvent) {
		logger.Warn("transport failed", "transport", evt.Transport, "error", evt.Err)
		dispatcher.Dispatch(context.Background(), observability.Event{
			Type: observability.EventTransportFailed, Transport: evt.Transport, Err: evt.Err,
		})
	})
	mgr.On(transportmgr.EventHealthUpdated, func(evt transportmgr.ManagerEvent) {
		for kind, snapshot := range evt.Health {
			snapshot := snapshot
			collector.RecordHealth(snapshot)
			dispatcher.Dispatch(context.Background(), observability.Event{
				Type: observability.EventHealthUpdated, Transport: kind, Health: &snapshot,
			})
		}
	})
	mgr.On(transportmgr.EventMessageSent, func(evt transportmgr.ManagerEvent) {
		collector.RecordMessage(evt.Transport, evt.MsgType, evt.Success, evt.Latency)
		collector.SetPendingRequests(evt.Transport, evt.PendingCount)
	})
	mgr.On(transportmgr.EventCircuitTransition, func(evt transportmgr.ManagerEvent) {
		collector.RecordCircuitTransition(evt.Transport, evt.CircuitFrom, evt.CircuitTo)
	})
	mgr.On(transportmgr.EventTransportConnected, func(evt transportmgr.ManagerEvent) {
		dispatcher.Dispatch(context.Background(), observability.Event{Type: observability.EventConnected, Transport: evt.Transport})
	})
	mgr.On(transportmgr.EventTransportDisconnected, func(evt transportmgr.ManagerEvent) {
		dispatcher.Dispatch(context.Background(), observability.Event{Type: observability.EventDisconnected, Transport: evt.Transport})
	})
}

// handler adapts modelselect.Service's programmatic surface to the
// bridge's local control HTTP surface consumed by the editor host process.
type handler struct {
	svc       *modelselect.Service
	collector *metrics.Collector
}

func newHandler(svc *modelselect.Service, collector *metrics.Collector) *handler {
	return &handler{svc: svc, collector: collector}
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy": h.svc.IsHealthy(),
		"state":   h.svc.GetConnectionStatus(),
	})
}

func (h *handler) transportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetTransportStatus())
}

func (h *handler) cachedHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetCachedHealth(r.Context()))
}

func (h *handler) refreshHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.RefreshModelHealth(r.Context()))
}

func (h *handler) selectModel(w http.ResponseWriter, r *http.Request) {
	var req types.ModelSelectionRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := h.svc.SelectModel(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	h.collector.RecordSelection(req.TaskType, resp.SelectionMeta.ConfidenceScore, resp.SelectionMeta.ConfidenceScore <= 0.3)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetUserPreferences())
}

func (h *handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var update types.PreferencesUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.UpdateUserPreferences(r.Context(), update))
}

// statusForError maps the closed error taxonomy to an HTTP status the
// editor host process can branch on without inspecting error strings.
func statusForError(err error) int {
	kind, ok := errors.KindOf(err)
	if !ok {
		return http.StatusBadGateway
	}
	switch kind {
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindCircuitOpen, errors.KindNoSuitableTransport, errors.KindNoTransportAvailable, errors.KindTransportUnavailable, errors.KindNotConnected:
		return http.StatusServiceUnavailable
	case errors.KindBudgetExceeded:
		return http.StatusUnprocessableEntity
	case errors.KindProtocolError:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
