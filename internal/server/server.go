package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/netmeterhq/netmeter/internal/billing"
	billingdomain "github.com/netmeterhq/netmeter/internal/billing/domain"
	"github.com/netmeterhq/netmeter/internal/config"
	"github.com/netmeterhq/netmeter/internal/device"
	devicedomain "github.com/netmeterhq/netmeter/internal/device/domain"
	"github.com/netmeterhq/netmeter/internal/ingest"
	ingestdomain "github.com/netmeterhq/netmeter/internal/ingest/domain"
	"github.com/netmeterhq/netmeter/internal/observability"
	obsmiddleware "github.com/netmeterhq/netmeter/internal/observability/logger"
	obsmetrics "github.com/netmeterhq/netmeter/internal/observability/metrics"
	obstracing "github.com/netmeterhq/netmeter/internal/observability/tracing"
	"github.com/netmeterhq/netmeter/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	ingest.Module,
	device.Module,
	billing.Module,
	ratelimit.Module,
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

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	ingestSvc    ingestdomain.Service
	deviceSvc    devicedomain.Service
	billingSvc   billingdomain.Service
	obsMetrics   *obsmetrics.Metrics
	usageLimiter *ratelimit.UsageIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	IngestSvc    ingestdomain.Service
	DeviceSvc    devicedomain.Service
	BillingSvc   billingdomain.Service
	ObsMetrics   *obsmetrics.Metrics           `optional:"true"`
	UsageLimiter *ratelimit.UsageIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		ingestSvc:    p.IngestSvc,
		deviceSvc:    p.DeviceSvc,
		billingSvc:   p.BillingSvc,
		obsMetrics:   p.ObsMetrics,
		usageLimiter: p.UsageLimiter,
	}

	svc.registerRootRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRootRoutes() {
	s.engine.GET("/", s.Index)
	s.engine.GET("/health", s.Health)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// Agents keep the original /api/health path.
	api.GET("/health", s.Health)

	api.POST("/usage", s.APIKeyRequired(), s.UsageIngestRateLimit(), s.IngestUsage)

	api.GET("/devices", s.ListDevices)
	api.PUT("/devices/:device_id", s.UpdateDevice)

	api.GET("/usage/summary", s.UsageSummary)
	api.GET("/billing", s.BillingReport)
}
