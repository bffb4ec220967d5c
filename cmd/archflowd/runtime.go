package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/archflow/archflow/archflowerr"
	"github.com/archflow/archflow/audit"
	"github.com/archflow/archflow/conversation"
	"github.com/archflow/archflow/eventbus"
	"github.com/archflow/archflow/flow"
	"github.com/archflow/archflow/internal/config"
	"github.com/archflow/archflow/internal/server"
	"github.com/archflow/archflow/mcp"
	"github.com/archflow/archflow/metrics"
	"github.com/archflow/archflow/provider"
	"github.com/archflow/archflow/toolregistry"
)

// runtime wires the whole archflow core together. Components are constructed
// in the order Provider registry → Event Bus → MCP server → Tool registry →
// Conversation Manager → Flow Engine; the Event Bus and the Conversation
// Manager come before the Flow Engine because NewEngine takes both. Shutdown
// stops what Start brought up in reverse order.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	providers         *provider.Registry
	tools             *toolregistry.Registry
	engine            *flow.Engine
	events            *eventbus.Bus
	conversation      *conversation.Manager
	conversationStore *conversation.RedisStore
	gate              *conversation.ConfirmationGate
	auditHook         *audit.Hook
	metrics           *metrics.Collector
	mcpServer         *mcp.Server
	hotReload         *config.HotReloadManager

	mcpListener net.Listener
	httpMgr     *server.Manager
	metricsMgr  *server.Manager
}

// newRuntime constructs every component but starts none of them.
func newRuntime(cfg *config.Config, configPath string, logger *zap.Logger) (*runtime, error) {
	r := &runtime{cfg: cfg, logger: logger}

	// 1. Provider registry: register a factory per configured provider entity.
	r.providers = provider.NewRegistry()
	for _, p := range cfg.Providers {
		pc := p
		r.providers.Register(pc.Name, providerFactory(pc))
	}

	// Event Bus is constructed early because the Tool registry, the Func-Agent
	// runners, and the Conversation Manager all publish through it.
	r.events = eventbus.New(logger)

	// 2. MCP surface: a tool-serving server; transports are attached in Start.
	r.mcpServer = mcp.NewServer("archflow", version, logger)

	// 3. Tool registry.
	r.tools = toolregistry.New(logger)

	// Conversation Manager backs both funcagent.ConfirmationGate and
	// flow.SuspensionGate: archflow has exactly one mechanism for "a running
	// workflow is waiting on a human", and both seams point at it.
	r.conversation = conversation.New(conversation.Config{
		TTL:             cfg.Conversation.TTL,
		JanitorInterval: cfg.Conversation.JanitorInterval,
	}, r.events, logger)
	r.gate = &conversation.ConfirmationGate{Manager: r.conversation}

	if cfg.Conversation.RedisAddr != "" {
		store, err := conversation.NewRedisStore(conversation.RedisStoreConfig{
			Addr:     cfg.Conversation.RedisAddr,
			Password: cfg.Conversation.RedisPassword,
			DB:       cfg.Conversation.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting conversation store: %w", err)
		}
		r.conversation.SetStore(store)
		r.conversationStore = store
	}

	r.metrics = metrics.New(cfg.Metrics.Namespace, logger)
	r.auditHook = audit.New(audit.Config{
		AsyncQueueSize: cfg.Audit.AsyncQueueSize,
		AsyncWorkers:   cfg.Audit.AsyncWorkers,
	}, r.events, logger, audit.NewMemoryBackend(10000))

	// 4. Flow Engine.
	r.engine = flow.NewEngine(flow.Config{
		DefaultTimeoutMs: cfg.FlowEngine.DefaultTimeoutMs,
		MaxParallel:      cfg.FlowEngine.MaxParallel,
		CircuitBreaker: flow.CircuitBreakerConfig{
			FailureThreshold:           cfg.FlowEngine.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:            cfg.FlowEngine.CircuitBreaker.RecoveryTimeout,
			HalfOpenMaxProbes:          cfg.FlowEngine.CircuitBreaker.HalfOpenMaxProbes,
			SuccessThresholdInHalfOpen: cfg.FlowEngine.CircuitBreaker.SuccessThresholdInHalfOpen,
		},
		Suspend: r.conversation,
		Events:  r.events,
		Logger:  logger,
	})

	r.hotReload = config.NewHotReloadManager(cfg, configPath, logger)
	r.hotReload.OnReload(func(_, newCfg *config.Config) {
		r.cfg = newCfg
		logger.Info("configuration reloaded")
	})

	return r, nil
}

// registerWorkflow compiles def against this runtime's resolver and
// registers it on the Flow Engine under name.
func (r *runtime) registerWorkflow(name string, def *flow.Definition) error {
	resolver := newRunnerResolver(r.providers, r.tools, r.gate, r.events, r.logger)
	g, err := flow.Compile(def, resolver.Resolve)
	if err != nil {
		return fmt.Errorf("compiling workflow %q: %w", name, err)
	}
	return r.engine.Register(name, g)
}

// Start brings up the MCP listener and the HTTP health/metrics server, and
// starts the hot reload watcher and the Conversation Manager's janitor.
func (r *runtime) Start(ctx context.Context) error {
	r.conversation.Start(ctx)
	r.events.Subscribe("metrics", r.recordMetrics, eventbus.SubscriberConfig{
		BufferSize:   256,
		Policy:       eventbus.DropOldest,
		BlockTimeout: 2 * time.Second,
	})

	if err := r.hotReload.Start(ctx); err != nil {
		return fmt.Errorf("starting hot reload manager: %w", err)
	}

	if r.cfg.MCP.ListenAddr != "" {
		ln, err := net.Listen("tcp", r.cfg.MCP.ListenAddr)
		if err != nil {
			return fmt.Errorf("listening for mcp on %s: %w", r.cfg.MCP.ListenAddr, err)
		}
		r.mcpListener = ln
		go r.acceptMCP(ctx, ln)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.httpMgr = server.NewManager(mux, server.Config{Addr: ":8090"}, r.logger)
	if err := r.httpMgr.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}

	if r.cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		r.metricsMgr = server.NewManager(metricsMux, server.Config{Addr: r.cfg.Metrics.ListenAddr}, r.logger)
		if err := r.metricsMgr.Start(); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
	}

	return nil
}

// recordMetrics translates the Flow Engine's Audit and Tool events into
// Prometheus counters. It is the only subscriber that cares about every
// domain, so it stays a single dispatch rather than per-domain handlers.
func (r *runtime) recordMetrics(env eventbus.Envelope) {
	switch env.Domain {
	case "Audit":
		if env.Type != "TraceEnd" {
			return
		}
		executionID, _ := env.Payload["executionId"].(string)
		status, _ := env.Payload["status"].(string)
		r.metrics.RecordWorkflowExecution(executionID, status)
	case "Tool":
		if env.Type == "ToolStart" {
			return
		}
		stepID, _ := env.Payload["stepId"].(string)
		status := "ok"
		if env.Type == "ToolError" {
			status = "error"
		}
		r.metrics.RecordToolInvocation(stepID, status)
	}
}

func (r *runtime) acceptMCP(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				r.logger.Warn("mcp accept failed", zap.Error(err))
				return
			}
		}
		go func() {
			defer conn.Close()
			transport := mcp.NewLineTransport(conn, conn, r.logger)
			if err := r.mcpServer.Serve(ctx, transport); err != nil {
				r.logger.Debug("mcp connection closed", zap.Error(err))
			}
		}()
	}
}

// Shutdown tears components down in reverse init order.
func (r *runtime) Shutdown(ctx context.Context) error {
	if r.metricsMgr != nil {
		_ = r.metricsMgr.Shutdown(ctx)
	}
	if r.httpMgr != nil {
		_ = r.httpMgr.Shutdown(ctx)
	}
	if r.mcpListener != nil {
		_ = r.mcpListener.Close()
	}
	_ = r.hotReload.Stop()
	r.auditHook.Close()
	if r.conversationStore != nil {
		_ = r.conversationStore.Close()
	}
	return nil
}

func providerFactory(pc config.ProviderConfig) provider.Factory {
	return func() provider.Adapter {
		var adapter provider.Adapter
		switch pc.Provider {
		case "anthropic":
			adapter = provider.NewAnthropicAdapter()
		case "openai":
			adapter = provider.NewOpenAIAdapter()
		default:
			adapter = provider.NewMockAdapter()
		}
		cfg := provider.Config{
			Provider:    pc.Provider,
			Model:       pc.Model,
			APIKey:      pc.APIKey,
			Endpoint:    pc.Endpoint,
			Deployment:  pc.Deployment,
			Region:      pc.Region,
			Temperature: pc.Temperature,
			TopP:        pc.TopP,
			MaxTokens:   pc.MaxTokens,
			Timeout:     durationFromMs(pc.TimeoutMs),
		}
		if err := adapter.Configure(cfg); err != nil {
			panic(archflowerr.Wrap(archflowerr.KindInternal, "provider_configure_failed", fmt.Sprintf("configuring provider %q", pc.Name), err))
		}
		if pc.RateLimitRPS > 0 {
			return provider.NewRateLimitedAdapter(adapter, pc.RateLimitRPS, pc.RateLimitBurst)
		}
		return adapter
	}
}

func durationFromMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
