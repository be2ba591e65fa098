package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/eventbus"
	"github.com/haasonsaas/nexus/internal/gate"
	"github.com/haasonsaas/nexus/internal/modelengine"
	"github.com/haasonsaas/nexus/internal/multiagent"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/providers/bedrock"
	"github.com/haasonsaas/nexus/internal/providers/venice"
	"github.com/haasonsaas/nexus/internal/recovery"
	"github.com/haasonsaas/nexus/internal/resilience"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/internal/tooldispatch"

	orchAudit "github.com/haasonsaas/nexus/internal/audit"
)

// bedrockModelPrefix marks a fallback-chain entry as a Bedrock-hosted
// model rather than a Venice-hosted one, e.g.
// "bedrock:anthropic.claude-3-5-sonnet-20240620-v1:0".
const bedrockModelPrefix = "bedrock:"

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the orchestrator core",
		Long:    "Construct every orchestrator component from configuration and run until SIGINT/SIGTERM, per the process's \"construct explicitly at startup, inject handles\" wiring discipline.",
		Example: "  orchestratord serve --config orchestrator.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug-level logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	configPath = resolveConfigPath(configPath)

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("loading configuration", "path", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("configuration loaded", "redis_addr", cfg.Store.RedisAddr, "default_model", firstFallbackModel(cfg))

	orch, shutdownTracer, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	metrics := observability.NewMetrics()
	_ = metrics // exercised via the /metrics handler below; no direct calls from this command.
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	logger.Info("orchestrator started", "host", cfg.Server.Host, "http_port", cfg.Server.HTTPPort)
	_ = orch // the orchestrator core is ready for an external router to drive; this command only owns its lifecycle.

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	if shutdownTracer != nil {
		_ = shutdownTracer(shutdownCtx)
	}

	return nil
}

func firstFallbackModel(cfg *config.Config) string {
	for model := range cfg.ModelEngine.FallbackChains {
		return model
	}
	return "(none configured)"
}

// buildOrchestrator constructs every process-wide singleton the five
// orchestrator operations compose, per spec.md §9's "construct
// explicitly at startup and inject handles" note. Nothing here is a
// global: every collaborator is built once and wired by hand.
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, func(context.Context) error, error) {
	kv, err := buildKVStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("kv store: %w", err)
	}

	auditSink, err := buildAuditSink(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("audit sink: %w", err)
	}

	limiter := resilience.NewUserLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.PerMinute)
	breakers := resilience.NewRegistry(resilience.CircuitConfig{
		FailureThreshold: int64(cfg.Breaker.Threshold),
		Cooldown:         cfg.Breaker.Cooldown(),
	})
	bulkheads := resilience.NewPool()
	for name, capacity := range map[string]int64{
		"model_inference":    cfg.Bulkhead.ModelInference,
		"session_management": cfg.Bulkhead.SessionManagement,
		"tool_execution":      cfg.Bulkhead.ToolExecution,
		"voice_processing":    cfg.Bulkhead.VoiceProcessing,
	} {
		if capacity <= 0 {
			capacity = resilience.DefaultCapacities[name]
		}
		bulkheads.GetOrCreate(name, capacity)
	}

	quota := gate.QuotaLimits{HourlyLimit: cfg.Quota.RequestsPerHour, DailyLimit: cfg.Quota.RequestsPerDay}
	g := gate.NewGate(gate.DefaultPermissionTable(), limiter, quota, kv, auditSink)

	sessionStore := sessions.NewRedisStore(kv, cfg.Session.IdleTTL())
	bus := eventbus.New(cfg.Event.BufferPerSession, cfg.Event.BufferPerSession/2+1)
	sessionMgr := sessions.NewManager(sessionStore, bus, sessions.Config{
		MaxConcurrentPerUser: cfg.Session.MaxConcurrentPerUser,
		IdleTTL:              cfg.Session.IdleTTL(),
		MaxTTL:               cfg.Session.MaxTTL(),
	}, logger)

	registry := multiagent.DefaultRegistry()
	router := multiagent.NewRouter(registry)

	engine := modelengine.NewEngine(
		modelengine.NewResponseCache(modelengine.CacheConfig{
			TTL:                cfg.Cache.ResponseTTL(),
			AllowStaleOnOutage: cfg.Cache.AllowStaleOnOutage,
			StaleWindow:        cfg.Cache.StaleWindow(),
		}),
		modelengine.NewFallbackChain(cfg.ModelEngine.FallbackChains),
		breakers,
		bulkheads,
		modelengine.EngineConfig{
			RetryPolicy: resilience.RetryPolicy{
				MaxAttempts: cfg.Retry.MaxAttempts,
				BaseDelay:   time.Second,
				Multiplier:  2,
				Jitter:      0.2,
				Retryable:   func(error) bool { return true },
			},
			CallTimeout: cfg.ModelEngine.CallTimeout(),
		},
		logger,
	)
	if err := registerModelPools(engine, cfg, logger); err != nil {
		return nil, nil, err
	}

	dispatcher := tooldispatch.NewDispatcher(defaultToolCatalog(), registry, unimplementedExecutor{}, bulkheads, auditSink)

	rec := recovery.New(sessionMgr, engine, bus, recovery.Config{}, logger)

	orchCfg := orchestrator.Config{DefaultModel: firstFallbackModel(cfg)}
	orch := orchestrator.New(g, sessionMgr, sessionStore, router, engine, dispatcher, bus, rec, nil, nil, orchCfg, logger)

	_, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.OTLPEndpoint,
	})

	return orch, shutdownTracer, nil
}

func buildKVStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.RedisAddr == "" {
		return store.NewMemoryStore(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.RedisAddr,
		DB:       cfg.Store.RedisDB,
		Password: cfg.Store.RedisPassword,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.DialTimeout)
	defer cancel()
	if cfg.Store.DialTimeout <= 0 {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Store.RedisAddr, err)
	}
	return store.NewRedisStore(rdb), nil
}

// auditBoth satisfies both gate.AuditEmitter and tooldispatch.AuditSink
// over the same underlying sink, so the gate and the dispatcher share
// one audit trail instead of two.
type auditBoth interface {
	gate.AuditEmitter
	tooldispatch.AuditSink
}

func buildAuditSink(cfg *config.Config) (auditBoth, error) {
	if cfg.Audit.PostgresDSN != "" {
		return orchAudit.NewPostgresSink(cfg.Audit.PostgresDSN, cfg.Audit.RetentionDuration())
	}
	return orchAudit.NewLogger(orchAudit.Config{Enabled: true, Format: orchAudit.FormatJSON})
}

// registerModelPools wires one modelengine.Pool per model named in
// cfg.ModelEngine.FallbackChains (every key plus every step that names
// another model, deduplicated). A step prefixed "bedrock:" is backed by
// an AWS Bedrock Backend using ambient AWS credentials; every other step
// is backed by a Venice provider client sharing the single
// VENICE_API_KEY environment credential (Venice's provider contract is
// single-account, so per-model endpoints are not distinguished).
func registerModelPools(engine *modelengine.Engine, cfg *config.Config, logger *slog.Logger) error {
	seen := make(map[string]struct{})
	for model, steps := range cfg.ModelEngine.FallbackChains {
		seen[model] = struct{}{}
		for _, step := range steps {
			if step != "cached_response" && step != "canned_degraded_message" {
				seen[step] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return fmt.Errorf("model_engine.fallback_chains must name at least one model")
	}

	var apiKey string
	for model := range seen {
		if !strings.HasPrefix(model, bedrockModelPrefix) {
			apiKey = os.Getenv("VENICE_API_KEY")
			if apiKey == "" {
				return fmt.Errorf("VENICE_API_KEY is required to register model pools")
			}
			break
		}
	}

	for model := range seen {
		if strings.HasPrefix(model, bedrockModelPrefix) {
			modelID := strings.TrimPrefix(model, bedrockModelPrefix)
			backend, err := bedrock.NewBackend(context.Background(), cfg.ModelEngine.BedrockRegion, modelID)
			if err != nil {
				return fmt.Errorf("bedrock backend for %s: %w", model, err)
			}
			engine.Register(model, modelengine.NewPool(model, backend, cfg.ModelEngine.PoolSize))
			continue
		}

		if info := venice.GetModelInfo(model); info != nil {
			logger.Info("registering venice model pool", "model", model, "privacy", info.Privacy, "reasoning", info.Reasoning)
		} else {
			logger.Warn("registering venice model pool for a model absent from the known catalog; Venice may still serve it via its proxy", "model", model)
		}

		provider, err := venice.NewVeniceProvider(venice.VeniceConfig{APIKey: apiKey, DefaultModel: model})
		if err != nil {
			return fmt.Errorf("venice provider for %s: %w", model, err)
		}
		backend := venice.NewBackend(provider)
		engine.Register(model, modelengine.NewPool(model, backend, cfg.ModelEngine.PoolSize))
	}
	return nil
}

// unimplementedExecutor is the default tooldispatch.Executor until a
// real tool-implementation backend (shell exec, internal service calls)
// is wired in; every call fails loudly rather than silently no-opping.
type unimplementedExecutor struct{}

func (unimplementedExecutor) Execute(ctx context.Context, toolName string, params json.RawMessage) (string, error) {
	return "", fmt.Errorf("tool %q has no execution backend configured", toolName)
}
