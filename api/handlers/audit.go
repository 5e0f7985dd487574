package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/tracing"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

type AuditHandler struct {
	audit interfaces.AuditRepository
}

func NewAuditHandler(audit interfaces.AuditRepository) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List returns the audit trail of the organization, newest first, optionally
// narrowed to one entity.
func (h *AuditHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AuditHandler.List")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}

		limit := defaultAuditLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(parsed, maxAuditLimit)
		}

		events, err := h.audit.List(ctx, interfaces.AuditFilter{
			OrganizationID: organizationID,
			EntityType:     enum.EntityType(c.Query("entityType")),
			EntityID:       c.Query("entityId"),
			Limit:          limit,
		})
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}
