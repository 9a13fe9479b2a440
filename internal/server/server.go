package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/notifier/internal/audit/domain"
	"github.com/smallbiznis/notifier/internal/config"
	"github.com/smallbiznis/notifier/internal/observability"
	obslogger "github.com/smallbiznis/notifier/internal/observability/logger"
	obstracing "github.com/smallbiznis/notifier/internal/observability/tracing"
	"github.com/smallbiznis/notifier/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module serves the ops endpoints next to the scheduler loop.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(provideRunner),
	fx.Provide(provideHealthCheck),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

// Runner triggers a scheduler batch on demand.
type Runner interface {
	RunOnce(ctx context.Context) (scheduler.Summary, error)
}

// HealthCheck reports whether the record store is reachable.
type HealthCheck func(ctx context.Context) error

func provideRunner(s *scheduler.Scheduler) Runner { return s }

func provideHealthCheck(db *gorm.DB) HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obstracing.GinMiddleware())
	r.Use(obslogger.GinMiddleware(log.Named("http"), obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())
	return r
}

type Params struct {
	fx.In

	Engine   *gin.Engine
	Config   config.Config
	Log      *zap.Logger
	AuditSvc auditdomain.Service
	Runner   Runner
	Health   HealthCheck
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	auditSvc auditdomain.Service
	runner   Runner
	health   HealthCheck
}

func NewServer(p Params) *Server {
	return &Server{
		engine:   p.Engine,
		cfg:      p.Config,
		log:      p.Log.Named("server"),
		auditSvc: p.AuditSvc,
		runner:   p.Runner,
		health:   p.Health,
	}
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) RegisterRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	v1.GET("/notification-logs", s.ListNotificationLogs)
	v1.POST("/runs", s.TriggerRun)
}

func (s *Server) Healthz(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.cfg.AppVersion})
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.OpsHTTPAddr
	if addr == "" {
		addr = ":9090"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("ops server stopped", zap.String("addr", addr), zap.Error(err))
				}
			}()
			log.Info("ops server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
