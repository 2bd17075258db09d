package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"github.com/LoohanZinho/enemaccess/internal/config"
	"github.com/LoohanZinho/enemaccess/internal/observability"
	obsmiddleware "github.com/LoohanZinho/enemaccess/internal/observability/logger"
	obsmetrics "github.com/LoohanZinho/enemaccess/internal/observability/metrics"
	obstracing "github.com/LoohanZinho/enemaccess/internal/observability/tracing"
	"github.com/LoohanZinho/enemaccess/internal/renewal"
	webhookdomain "github.com/LoohanZinho/enemaccess/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					// Stop through fx so OnStop hooks still run.
					log.Error("http server failed", zap.Error(err))
					if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
						log.Error("shutdown request failed", zap.Error(shutdownErr))
					}
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	keySvc     accesskeydomain.Service
	webhookSvc webhookdomain.Service
	renewals   *renewal.Coordinator
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	KeySvc     accesskeydomain.Service
	WebhookSvc webhookdomain.Service
	Renewals   *renewal.Coordinator
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		keySvc:     p.KeySvc,
		webhookSvc: p.WebhookSvc,
		renewals:   p.Renewals,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerKeyRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
}

func (s *Server) registerKeyRoutes() {
	s.engine.GET("/verify-key/:token", s.VerifyKey)
	s.engine.POST("/use-key/:token", s.UseKey)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")

	internal.POST("/renew", s.RenewSubscription)
	internal.POST("/revoke-key/:token", s.RevokeKey)
}
