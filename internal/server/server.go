package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	affiliatedomain "github.com/smallbiznis/splitledger/internal/affiliate/domain"
	auditdomain "github.com/smallbiznis/splitledger/internal/audit/domain"
	"github.com/smallbiznis/splitledger/internal/config"
	feeconfigdomain "github.com/smallbiznis/splitledger/internal/feeconfig/domain"
	"github.com/smallbiznis/splitledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/splitledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/splitledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/splitledger/internal/observability/tracing"
	paymentproviderdomain "github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
	"github.com/smallbiznis/splitledger/internal/ratelimit"
	settlementdomain "github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
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

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine             *gin.Engine
	cfg                config.Config
	webhookSvc         *webhook.Service
	settlementSvc      settlementdomain.Service
	feeConfigSvc       feeconfigdomain.Service
	affiliateSvc       affiliatedomain.Service
	paymentProviderSvc paymentproviderdomain.Service
	auditSvc           auditdomain.Service
	apiLimiter         *ratelimit.APILimiter
}

type ServerParams struct {
	fx.In

	Gin                *gin.Engine
	Cfg                config.Config
	WebhookSvc         *webhook.Service
	SettlementSvc      settlementdomain.Service
	FeeConfigSvc       feeconfigdomain.Service
	AffiliateSvc       affiliatedomain.Service
	PaymentProviderSvc paymentproviderdomain.Service
	AuditSvc           auditdomain.Service
	APILimiter         *ratelimit.APILimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:             p.Gin,
		cfg:                p.Cfg,
		webhookSvc:         p.WebhookSvc,
		settlementSvc:      p.SettlementSvc,
		feeConfigSvc:       p.FeeConfigSvc,
		affiliateSvc:       p.AffiliateSvc,
		paymentProviderSvc: p.PaymentProviderSvc,
		auditSvc:           p.AuditSvc,
		apiLimiter:         p.APILimiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleSettlementWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIRateLimit())

	api.GET("/sales/:id/settlement", s.GetSaleSettlement)
	api.GET("/virtual-accounts/:id/balance", s.GetVirtualAccountBalance)
	api.GET("/virtual-accounts/:id/transactions", s.ListVirtualTransactions)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.Use(s.AdminAuthRequired())
	admin.Use(OrgContext())

	// -------- Payment Providers --------
	admin.GET("/payment-providers/catalog", s.ListPaymentProviderCatalog)
	admin.GET("/payment-providers", s.ListPaymentProviderConfigs)
	admin.PUT("/payment-providers/:provider", s.PutPaymentProviderConfig)
	admin.PATCH("/payment-providers/:provider", s.SetPaymentProviderStatus)

	// -------- Platform fee --------
	admin.GET("/fee-config", s.GetFeeConfig)
	admin.PUT("/fee-config", s.UpsertFeeConfig)

	// -------- Affiliate commissions --------
	admin.GET("/sales/:id/commission", s.GetAffiliateCommission)
	admin.POST("/sales/:id/commission", s.RecordAffiliateCommission)

	// -------- Operations --------
	admin.POST("/settlement/release", s.TriggerRelease)
	admin.POST("/settlement/backfill-fees", s.TriggerFeeBackfill)

	admin.GET("/audit-logs", s.ListAuditLogs)
}
