package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	apierrors "github.com/superkabe/healthstack/api/errors"
	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

func organizationID(ctx context.Context, span opentracing.Span, c *gin.Context) (string, bool) {
	tenant := utils.GetTenantFromContext(ctx)
	if tenant == "" {
		respondError(c, span, hserrors.ErrTenantMissing)
		return "", false
	}
	return tenant, true
}

func respondError(c *gin.Context, span opentracing.Span, err error) {
	status := apierrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		tracing.TraceErr(span, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	span.LogKV("status", status, "error", err.Error())
	c.JSON(status, gin.H{"error": err.Error()})
}
