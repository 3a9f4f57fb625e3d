package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/api/handlers"
	"github.com/BaSui01/relayflow/config"
	"github.com/BaSui01/relayflow/handoff"
	icache "github.com/BaSui01/relayflow/internal/cache"
	"github.com/BaSui01/relayflow/internal/database"
	"github.com/BaSui01/relayflow/internal/metrics"
	"github.com/BaSui01/relayflow/internal/server"
	"github.com/BaSui01/relayflow/realtime"
	"github.com/BaSui01/relayflow/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 RelayFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	store      handoff.Store
	bus        *icache.RedisBus
	cache      *handoff.ThreadCache
	service    *handoff.Service
	middleware *handoff.Middleware
	hub        *realtime.Hub

	// Handlers
	healthHandler  *handlers.HealthHandler
	handoffHandler *handlers.HandoffHandler
	agentHandler   *handlers.AgentHandler
	messageHandler *handlers.MessageHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 后台任务生命周期
	cancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector(s.logger)

	// 2. 初始化核心引擎
	if err := s.initEngine(ctx); err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("redis_broadcast", s.cfg.Redis.Enabled),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initEngine 初始化存储、缓存、分配引擎和路由中间件
func (s *Server) initEngine(ctx context.Context) error {
	// 数据库与存储层
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	store, err := handoff.NewGormStore(db, s.logger)
	if err != nil {
		return err
	}
	s.store = store

	// 跨进程广播总线（可选）
	var bus handoff.Broadcaster
	if s.cfg.Redis.Enabled {
		redisBus, err := icache.NewRedisBus(icache.Config{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
			Channel:  s.cfg.Redis.Channel,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis bus: %w", err)
		}
		s.bus = redisBus
		bus = redisBus
	}

	// 线程缓存
	s.cache = handoff.NewThreadCache(
		s.cfg.Cache.MaxEntries,
		s.cfg.Cache.TTL,
		bus,
		s.logger,
	).WithMetrics(s.metricsCollector)

	// 实时推送
	webhook := realtime.NewWebhookSink(s.cfg.Webhook, s.metricsCollector, s.logger)
	s.hub = realtime.NewHub(webhook, s.metricsCollector, s.logger)

	// 消息管道连接器
	connector := NewHTTPConnector(s.cfg.Connector, s.logger)

	// 生命周期服务
	s.service = handoff.NewService(handoff.ServiceDeps{
		Store:    s.store,
		Cache:    s.cache,
		Pipeline: connector,
		Threads:  connector,
		Dialogs:  connector,
		Realtime: s.hub,
		Metrics:  s.metricsCollector,
		Config:   s.cfg.Assignment,
		Messages: s.cfg.Messages,
		Logger:   s.logger,
	})
	s.middleware = handoff.NewMiddleware(s.service, nil)

	// 缓存预热 + 周期对账
	if err := s.service.Warmup(ctx); err != nil {
		s.logger.Warn("cache warm-up failed, continuing with cold cache", zap.Error(err))
	}
	s.service.StartReconciler(ctx, s.cfg.Cache.ReconcileInterval)

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.CheckFunc{
		CheckName: "store",
		Fn:        s.store.Ping,
	})
	if s.bus != nil {
		s.healthHandler.RegisterCheck(handlers.CheckFunc{
			CheckName: "redis",
			Fn:        s.bus.Ping,
		})
	}

	s.handoffHandler = handlers.NewHandoffHandler(s.service, s.logger)
	s.agentHandler = handlers.NewAgentHandler(s.service, s.logger)
	s.messageHandler = handlers.NewMessageHandler(s.service, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)

	// Handoff 生命周期
	mux.HandleFunc("GET /v1/handoffs", s.handoffHandler.HandleList)
	mux.HandleFunc("POST /v1/handoffs", s.handoffHandler.HandleCreate)
	mux.HandleFunc("GET /v1/handoffs/{id}", s.handoffHandler.HandleGet)
	mux.HandleFunc("POST /v1/handoffs/{id}/assign", s.handoffHandler.HandleAssign)
	mux.HandleFunc("POST /v1/handoffs/{id}/reassign", s.handoffHandler.HandleReassign)
	mux.HandleFunc("POST /v1/handoffs/{id}/resolve", s.handoffHandler.HandleResolve)
	mux.HandleFunc("POST /v1/handoffs/{id}/reject", s.handoffHandler.HandleReject)
	mux.HandleFunc("PUT /v1/handoffs/{id}/tags", s.handoffHandler.HandleUpdateTags)
	mux.HandleFunc("POST /v1/handoffs/{id}/comments", s.handoffHandler.HandleCreateComment)
	mux.HandleFunc("GET /v1/handoffs/{id}/assignments", s.handoffHandler.HandleListAssignments)

	// 操作员
	mux.HandleFunc("GET /v1/agents", s.agentHandler.HandleListAgents)
	mux.HandleFunc("POST /v1/agents", s.agentHandler.HandleRegister)
	mux.HandleFunc("PUT /v1/agents/{id}/presence", s.agentHandler.HandlePresence)

	// 消息日志
	mux.HandleFunc("GET /v1/messages", s.messageHandler.HandleListMessages)

	// 入站事件（连接器回调入口：经过路由中间件）
	mux.HandleFunc("POST /v1/events", s.handleInboundEvent)

	// 实时推送
	mux.Handle("GET /v1/ws", s.hub)

	// 中间件链
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

// startMetricsServer 启动 Prometheus 指标服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// handleInboundEvent 接收连接器推来的入站事件并交给路由中间件。
// 事件不属于任何 handoff 时交回连接器的默认 bot 流程（响应中 routed=false）。
func (s *Server) handleInboundEvent(w http.ResponseWriter, r *http.Request) {
	var ev types.Event
	if err := handlers.DecodeJSONBody(w, r, &ev, s.logger); err != nil {
		return
	}

	routed := true
	err := s.middleware.Handle(r.Context(), &ev, func(ctx context.Context) error {
		routed = false
		return nil
	})
	if err != nil {
		handlers.WriteError(w, err, s.logger)
		return
	}
	handlers.WriteSuccess(w, map[string]bool{"routed": routed})
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞等待退出信号并优雅关闭
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.metricsManager != nil {
		_ = s.metricsManager.Shutdown(ctx)
	}
	if s.hub != nil {
		_ = s.hub.Close()
	}
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
}
