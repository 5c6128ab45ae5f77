package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"AgentKit-Chain/internal/agent"
	"AgentKit-Chain/internal/auth"
	xerrors "AgentKit-Chain/internal/errors"
	obsmetrics "AgentKit-Chain/internal/observability/metrics"
	"AgentKit-Chain/pkg/logger"
)

// Server 负责暴露监控与控制接口。
type Server struct {
	addr      string
	agent     *agent.Agent
	collector *obsmetrics.Collector
	auth      *auth.Service
	log       *slog.Logger
	engine    *gin.Engine
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithCollector 在 /metrics 上暴露 Prometheus 指标。
func WithCollector(c *obsmetrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithAuth 要求读取接口持有 agent:read、控制接口持有 agent:control 权限。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithLogger 设置请求日志使用的记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, opts ...Option) *Server {
	s := &Server{addr: addr, agent: ag}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("api")
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	read := s.auth.Require(auth.PermissionRead)
	control := s.auth.Require(auth.PermissionControl)

	v1 := engine.Group("/api/v1")
	v1.GET("/agent", read, s.handleAgent)
	v1.GET("/agent/actions", read, s.handleActions)
	v1.POST("/agent/:op", control, s.handleLifecycle)

	engine.GET("/metrics", s.handleMetrics)
	engine.GET("/ws", read, s.handleStream)
	return engine
}

// Handler 返回完整的路由，便于嵌入其他服务或测试。
func (s *Server) Handler() http.Handler { return s.engine }

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.engine),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("监控服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type agentView struct {
	Name            string           `json:"name"`
	Type            agent.Type       `json:"type"`
	Autonomy        agent.Autonomy   `json:"autonomy"`
	Triggers        []string         `json:"triggers"`
	Network         string           `json:"network,omitempty"`
	ContractAddress string           `json:"contractAddress,omitempty"`
	State           agent.AgentState `json:"state"`
}

func (s *Server) handleAgent(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	cfg := s.agent.Config()
	network := cfg.Network
	if chain := s.agent.Chain(); chain != nil {
		network = chain.Network().Name
	}
	c.JSON(http.StatusOK, agentView{
		Name:            cfg.Name,
		Type:            cfg.Type,
		Autonomy:        cfg.Autonomy,
		Triggers:        cfg.Triggers,
		Network:         network,
		ContractAddress: cfg.ContractAddress,
		State:           s.agent.State(),
	})
}

func (s *Server) handleActions(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.agent.Journal().ListLatest(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleLifecycle(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	ops := map[string]func(context.Context) error{
		"start":  s.agent.Start,
		"stop":   s.agent.Stop,
		"pause":  s.agent.Pause,
		"resume": s.agent.Resume,
	}
	op, ok := ops[c.Param("op")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "未知操作: " + c.Param("op")})
		return
	}
	if err := op(c.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		if xerrors.IsConfiguration(err) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "code": xerrors.CodeOf(err)})
		return
	}
	c.JSON(http.StatusOK, s.agent.State())
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.collector == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "未启用指标"})
		return
	}
	s.collector.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) ready(c *gin.Context) bool {
	if s.agent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Agent 未初始化"})
		return false
	}
	return true
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP 请求",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
