package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/sitegen-backend/internal/http/handlers"
	httpMW "github.com/yungbote/sitegen-backend/internal/http/middleware"
	"github.com/yungbote/sitegen-backend/internal/observability"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware

	WebhookHandler      *httpH.WebhookHandler
	OperationHandler    *httpH.OperationHandler
	AdminHandler        *httpH.AdminHandler
	ConfirmationHandler *httpH.ConfirmationHandler
	HealthHandler       *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	// Webhooks (signature checked in ingestion)
	if cfg.WebhookHandler != nil {
		r.POST("/webhooks/payment", cfg.WebhookHandler.Payment)
		r.POST("/webhooks/deployment", cfg.WebhookHandler.Deployment)
	}

	api := r.Group("/api")
	{
		if cfg.OperationHandler != nil {
			api.POST("/operations", cfg.OperationHandler.Create)
			api.GET("/operations/:id", cfg.OperationHandler.Get)
		}
		if cfg.ConfirmationHandler != nil {
			api.POST("/projects/:name/confirmation", cfg.ConfirmationHandler.Issue)
			api.POST("/projects/:name/confirmation/verify", cfg.ConfirmationHandler.Verify)
		}
	}

	admin := api.Group("/admin")
	{
		if cfg.AuthMiddleware != nil {
			admin.Use(cfg.AuthMiddleware.RequireAdmin())
		}
		if cfg.AdminHandler != nil {
			admin.POST("/operations/:id/generate", cfg.AdminHandler.Generate)
			admin.POST("/projects/:name/reconcile", cfg.AdminHandler.Reconcile)
		}
	}

	return r
}
