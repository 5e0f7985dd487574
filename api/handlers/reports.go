package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/engine"
	"github.com/superkabe/healthstack/services/report"
)

type ReportHandler struct {
	engine *engine.Engine
	risk   *report.Service
}

func NewReportHandler(e *engine.Engine, risk *report.Service) *ReportHandler {
	return &ReportHandler{engine: e, risk: risk}
}

// LoadBalancing regenerates the redistribution report. In ENFORCE mode safe
// suggestions are applied as part of generation.
func (h *ReportHandler) LoadBalancing() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ReportHandler.LoadBalancing")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		r, err := h.engine.GenerateLoadBalancing(ctx, organizationID)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

func (h *ReportHandler) ApplySuggestion() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ReportHandler.ApplySuggestion")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		s, err := h.engine.ApplySuggestion(ctx, organizationID, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func (h *ReportHandler) Risk() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ReportHandler.Risk")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		r, err := h.risk.Generate(ctx, organizationID)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, r)
	}
}
