package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"fable/internal/app"
	"fable/internal/config"
	"fable/internal/handler"
	pipelineHandler "fable/internal/handler/pipeline"
	"fable/internal/pkg/jwt"
	"fable/internal/server/middleware"
)

// Server HTTP 服务器
// 只承载即时接口：创建任务、查询状态、入队重试和合并。
// 多分钟的视频生成和 FFmpeg 处理全部在 worker 进程里执行
type Server struct {
	cfg    *config.Config
	app    *app.App
	engine *gin.Engine
}

// New 创建服务器实例
func New(cfg *config.Config, a *app.App) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &Server{
		cfg:    cfg,
		app:    a,
		engine: gin.New(),
	}

	srv.setupRoutes()
	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1
	v1 := s.engine.Group("/api/v1")

	if s.app.Pipeline == nil {
		log.Warn().Msg("流水线服务未装配，pipeline 路由不可用")
		return
	}

	// JWT 校验，user_id 注入 context
	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret 未配置，使用默认值（生产环境不安全）")
	}
	accessTokenExpiry := s.cfg.Auth.AccessTokenExpiry
	if accessTokenExpiry == 0 {
		accessTokenExpiry = 24 * time.Hour
	}
	jwtUtil := jwt.NewJWT(jwtSecret, accessTokenExpiry)

	ph := pipelineHandler.NewHandler(s.app.Pipeline, s.app.Redis)

	protected := v1.Group("/pipeline")
	protected.Use(middleware.Auth(jwtUtil))
	{
		protected.POST("/jobs", ph.CreateJob)
		protected.GET("/jobs", ph.ListJobs)
		protected.GET("/jobs/:id", ph.GetJob)
		protected.GET("/jobs/:id/segments", ph.ListSegments)
		protected.POST("/jobs/:id/retry", ph.RetryJob)

		protected.POST("/merges", ph.CreateMerge)
		protected.POST("/merges/preview", ph.PreviewMerge)
		protected.GET("/merges/:id", ph.GetMerge)
	}
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	// 启动服务器
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待关闭信号或错误
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")
		s.app.Close(context.Background())
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
