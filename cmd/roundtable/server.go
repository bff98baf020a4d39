package main

import (
	"context"
	"net/http"

	"github.com/BaSui01/roundtable/config"
	"github.com/BaSui01/roundtable/internal/server"
	"github.com/BaSui01/roundtable/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 管理 HTTP 与 Metrics 两个端口，以及编排组件的生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	app    *App
	otel   *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 中间件后台 goroutine 的生命周期
	cancel context.CancelFunc
}

// NewServer 创建服务器；otel 可为 nil
func NewServer(cfg *config.Config, app *App, otel *telemetry.Providers, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		app:    app,
		otel:   otel,
	}
}

// Handler 返回挂载全部中间件后的业务处理器
func (s *Server) Handler(ctx context.Context) http.Handler {
	return Chain(s.app.Routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		Metrics(s.app.Metrics),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.app.Metrics, s.logger),
		JWTAuth(s.cfg.Auth, s.logger),
	)
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动 HTTP 与 Metrics 服务器（非阻塞）
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.httpManager = server.NewManager(s.Handler(ctx), server.ConfigFor(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(mux, server.ConfigFor(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("auth_enabled", s.cfg.Auth.Enabled),
	)
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号或服务异常后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	server.WaitForSignal(ctx, s.logger, s.httpManager, s.metricsManager)
	s.Shutdown()
}

// Shutdown 先停止接收请求，再停止编排与存储，最后刷新遥测
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx, cancel := context.WithTimeout(context.Background(), server.ConfigFor(s.cfg.Server, 0).ShutdownTimeout)
	defer cancel()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}

	if err := s.app.Close(); err != nil {
		s.logger.Error("Application shutdown error", zap.Error(err))
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
