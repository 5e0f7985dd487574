package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/internal/tracing"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

type HealthHandler struct {
	mailboxes interfaces.MailboxHealthRepository
	domains   interfaces.DomainHealthRepository
	campaigns interfaces.CampaignHealthRepository
}

func NewHealthHandler(repos *repository.Repositories) *HealthHandler {
	return &HealthHandler{
		mailboxes: repos.MailboxHealthRepository,
		domains:   repos.DomainHealthRepository,
		campaigns: repos.CampaignHealthRepository,
	}
}

// Records of another organization are reported as not found.

func (h *HealthHandler) Mailbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "HealthHandler.Mailbox")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		mb, err := h.mailboxes.GetByID(ctx, c.Param("id"))
		if err == nil && mb.OrganizationID != organizationID {
			err = errors.Wrap(hserrors.ErrMailboxNotFound, c.Param("id"))
		}
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, mb)
	}
}

func (h *HealthHandler) Domain() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "HealthHandler.Domain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		d, err := h.domains.GetByID(ctx, c.Param("id"))
		if err == nil && d.OrganizationID != organizationID {
			err = errors.Wrap(hserrors.ErrDomainNotFound, c.Param("id"))
		}
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func (h *HealthHandler) Campaign() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "HealthHandler.Campaign")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		camp, err := h.campaigns.GetByID(ctx, c.Param("id"))
		if err == nil && camp.OrganizationID != organizationID {
			err = errors.Wrap(hserrors.ErrCampaignNotFound, c.Param("id"))
		}
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, camp)
	}
}
