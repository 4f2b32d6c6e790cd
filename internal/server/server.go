package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/compliancehub/internal/auth"
	authdomain "github.com/smallbiznis/compliancehub/internal/auth/domain"
	"github.com/smallbiznis/compliancehub/internal/booking"
	"github.com/smallbiznis/compliancehub/internal/config"
	"github.com/smallbiznis/compliancehub/internal/invoice"
	invoicedomain "github.com/smallbiznis/compliancehub/internal/invoice/domain"
	"github.com/smallbiznis/compliancehub/internal/notification"
	notificationdomain "github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/smallbiznis/compliancehub/internal/notification/realtime"
	"github.com/smallbiznis/compliancehub/internal/observability"
	obsmiddleware "github.com/smallbiznis/compliancehub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/compliancehub/internal/observability/metrics"
	obstracing "github.com/smallbiznis/compliancehub/internal/observability/tracing"
	"github.com/smallbiznis/compliancehub/internal/payment"
	paymentdomain "github.com/smallbiznis/compliancehub/internal/payment/domain"
	"github.com/smallbiznis/compliancehub/internal/providers/billing"
	"github.com/smallbiznis/compliancehub/internal/ratelimit"
	"github.com/smallbiznis/compliancehub/internal/user"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the full customer API.
var Module = fx.Module("http.server",
	auth.Module,
	user.Module,
	booking.Module,
	billing.Module,
	notification.Module,
	invoice.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// WebhookModule serves only the provider webhook, for isolated deployment.
var WebhookModule = fx.Module("http.webhook",
	notification.Module,
	invoice.Module,
	payment.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewWebhookServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
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
	if httpMetrics != nil {
		r.Use(obsmetrics.GinMiddleware(httpMetrics))
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSAllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	tokens          authdomain.TokenService
	invoiceSvc      invoicedomain.Service
	notificationSvc notificationdomain.Service
	paymentSvc      paymentdomain.Service
	hub             *realtime.Hub
	invoiceGuard    *ratelimit.InvoiceGuard
	obsMetrics      *obsmetrics.Metrics

	streamHeartbeat time.Duration
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Tokens          authdomain.TokenService
	InvoiceSvc      invoicedomain.Service
	NotificationSvc notificationdomain.Service
	PaymentSvc      paymentdomain.Service
	Hub             *realtime.Hub           `optional:"true"`
	InvoiceGuard    *ratelimit.InvoiceGuard `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := newServer(p)
	s.registerAPIRoutes()
	s.registerWebhookRoutes()
	return s
}

type WebhookServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
}

func NewWebhookServer(p WebhookServerParams) *Server {
	s := newServer(ServerParams{
		Gin:        p.Gin,
		Cfg:        p.Cfg,
		Log:        p.Log,
		PaymentSvc: p.PaymentSvc,
	})
	s.registerWebhookRoutes()
	return s
}

func newServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		tokens:          p.Tokens,
		invoiceSvc:      p.InvoiceSvc,
		notificationSvc: p.NotificationSvc,
		paymentSvc:      p.PaymentSvc,
		hub:             p.Hub,
		invoiceGuard:    p.InvoiceGuard,
		obsMetrics:      p.ObsMetrics,
		streamHeartbeat: 15 * time.Second,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Invoices --------
	api.POST("/invoices", s.BearerAuthRequired(), s.InvoiceCreateGuard(), s.CreateInvoice)
	api.GET("/invoices", s.BearerAuthRequired(), s.ListInvoices)
	api.GET("/invoices/:id", s.BearerAuthRequired(), s.GetInvoiceByID)

	// -------- Notifications --------
	api.GET("/notifications", s.BearerAuthRequired(), s.ListNotifications)
	api.GET("/notifications/unread-count", s.BearerAuthRequired(), s.UnreadNotificationCount)
	api.POST("/notifications/read-all", s.BearerAuthRequired(), s.MarkAllNotificationsRead)
	api.POST("/notifications/read", s.BearerAuthRequired(), s.MarkNotificationsRead)
	api.GET("/notifications/stream", s.StreamAuthRequired(), s.StreamNotifications)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}
