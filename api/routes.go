package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/superkabe/healthstack/api/handlers"
	"github.com/superkabe/healthstack/api/middleware"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, h *handlers.APIHandlers, apikey string) {
	if h == nil {
		panic("Handlers cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)

	// provider webhooks authenticate with signatures, not the API key
	monitor := r.Group("/monitor")
	monitor.Use(middleware.CustomContextMiddleware(utils.AppSource))
	monitor.Use(middleware.TracingMiddleware())
	{
		monitor.POST("/:hook", h.Webhooks.Receive())
	}

	api := r.Group("/v1")
	api.Use(middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.APIKeyHeader,
		ValidAPIKey: apikey,
	}))
	api.Use(middleware.OrganizationMiddleware())
	api.Use(middleware.CustomContextMiddleware(utils.AppSource))
	api.Use(middleware.TracingMiddleware())
	{
		api.POST("/gate/check", h.Gate.Check())
		api.GET("/audit", h.Audit.List())

		mailboxes := api.Group("/mailboxes")
		{
			mailboxes.PUT("/:id", h.Operators.UpsertMailbox())
			mailboxes.GET("/:id/health", h.Health.Mailbox())
			mailboxes.POST("/:id/connectivity", h.Operators.ReportConnectivity())
			mailboxes.POST("/:id/clear-intervention", h.Operators.ClearIntervention())
		}

		api.GET("/domains/:id/health", h.Health.Domain())

		campaigns := api.Group("/campaigns")
		{
			campaigns.PUT("/:id", h.Operators.UpsertCampaign())
			campaigns.GET("/:id/health", h.Health.Campaign())
			campaigns.PUT("/:id/assignments", h.Operators.SetAssignments())
			campaigns.POST("/:id/pause", h.Operators.PauseCampaign())
			campaigns.POST("/:id/resume", h.Operators.ResumeCampaign())
		}

		reports := api.Group("/reports")
		{
			reports.GET("/load-balancing", h.Reports.LoadBalancing())
			reports.POST("/load-balancing/suggestions/:id/apply", h.Reports.ApplySuggestion())
			reports.GET("/risk", h.Reports.Risk())
		}
	}
}
