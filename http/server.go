// Package http 提供预测服务的 HTTP 接口
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		RateLimit:      50,
		RateBurst:      100,
		MaxUploadBytes: 16 << 20,
	}
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, h *Handlers) *Server {
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           NewHandler(config, h),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
	}
}

// NewHandler 组装路由与中间件链
func NewHandler(config ServerConfig, h *Handlers) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)

	chain := Chain(
		RecoveryMiddleware,                    // 1. 捕获panic
		LoggerMiddleware,                      // 2. 访问日志
		MetricsMiddleware(mux, h.metrics),     // 3. 请求计数
		SecurityHeadersMiddleware,             // 4. 安全头
		CORSMiddleware(config.AllowedOrigins), // 5. CORS
		RateLimitMiddleware(config.RateLimit, config.RateBurst),
		TimeoutMiddleware(config.Timeout),
	)
	return chain(mux)
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return eris.Wrapf(err, "listen %s", s.Addr())
	}
	zap.L().Info("starting http server",
		zap.String("addr", s.Addr()),
		zap.String("websocket", fmt.Sprintf("ws://localhost%s/api/ws/predictions", s.Addr())),
	)
	return s.Serve(l)
}

// Serve 在指定 listener 上提供服务
func (s *Server) Serve(l net.Listener) error {
	if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server failed")
	}
	return nil
}

// Stop 优雅停止
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	zap.L().Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return eris.Wrap(err, "server forced to shutdown")
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
