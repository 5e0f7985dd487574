package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/engine"
)

type ConnectionRequest struct {
	ImapServer   string `json:"imapServer"`
	ImapPort     int    `json:"imapPort"`
	ImapUsername string `json:"imapUsername"`
	ImapPassword string `json:"imapPassword"`
	ImapTLS      *bool  `json:"imapTls"`
	SmtpServer   string `json:"smtpServer"`
	SmtpPort     int    `json:"smtpPort"`
	SmtpUsername string `json:"smtpUsername"`
	SmtpPassword string `json:"smtpPassword"`
	SmtpTLS      *bool  `json:"smtpTls"`
}

type UpsertMailboxRequest struct {
	Email      string             `json:"email" binding:"required"`
	Active     *bool              `json:"active"`
	Connection *ConnectionRequest `json:"connection"`
}

type UpsertCampaignRequest struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

type AssignmentsRequest struct {
	MailboxIDs []string `json:"mailboxIds"`
}

type ConnectivityRequest struct {
	OK     *bool  `json:"ok" binding:"required"`
	Reason string `json:"reason"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

// OperatorHandler exposes the provider sync and the manual operator actions.
// These apply in every system mode.
type OperatorHandler struct {
	engine *engine.Engine
}

func NewOperatorHandler(e *engine.Engine) *OperatorHandler {
	return &OperatorHandler{engine: e}
}

func (h *OperatorHandler) UpsertMailbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OperatorHandler.UpsertMailbox")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		var req UpsertMailboxRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		mb, err := h.engine.UpsertMailbox(ctx, engine.MailboxInput{
			ID:             c.Param("id"),
			OrganizationID: organizationID,
			Email:          req.Email,
			Active:         req.Active,
			Connection:     req.Connection.toModel(c.Param("id")),
		})
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, mb)
	}
}

func (r *ConnectionRequest) toModel(mailboxID string) *models.MailboxConnection {
	if r == nil {
		return nil
	}
	return &models.MailboxConnection{
		MailboxID:    mailboxID,
		ImapServer:   r.ImapServer,
		ImapPort:     r.ImapPort,
		ImapUsername: r.ImapUsername,
		ImapPassword: r.ImapPassword,
		ImapTLS:      r.ImapTLS == nil || *r.ImapTLS,
		SmtpServer:   r.SmtpServer,
		SmtpPort:     r.SmtpPort,
		SmtpUsername: r.SmtpUsername,
		SmtpPassword: r.SmtpPassword,
		SmtpTLS:      r.SmtpTLS == nil || *r.SmtpTLS,
	}
}

func (h *OperatorHandler) ReportConnectivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OperatorHandler.ReportConnectivity")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		var req ConnectivityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		mb, err := h.engine.ReportConnectivity(ctx, organizationID, c.Param("id"), *req.OK, req.Reason)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, mb)
	}
}

func (h *OperatorHandler) ClearIntervention() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OperatorHandler.ClearIntervention")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		mb, err := h.engine.ClearIntervention(ctx, organizationID, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, mb)
	}
}

func (h *OperatorHandler) UpsertCampaign() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OperatorHandler.UpsertCampaign")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		var req UpsertCampaignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		camp, err := h.engine.UpsertCampaign(ctx, engine.CampaignInput{
			ID:             c.Param("id"),
			OrganizationID: organizationID,
			Name:           req.Name,
			Completed:      req.Completed,
		})
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, camp)
	}
}

func (h *OperatorHandler) SetAssignments() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OperatorHandler.SetAssignments")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		var req AssignmentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		camp, err := h.engine.SetCampaignAssignments(ctx, organizationID, c.Param("id"), req.MailboxIDs)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, camp)
	}
}

func (h *OperatorHandler) PauseCampaign() gin.HandlerFunc {
	return h.campaignAction("OperatorHandler.PauseCampaign", h.engine.PauseCampaign)
}

func (h *OperatorHandler) ResumeCampaign() gin.HandlerFunc {
	return h.campaignAction("OperatorHandler.ResumeCampaign", h.engine.ResumeCampaign)
}

type campaignActionFunc func(ctx context.Context, organizationID, campaignID, reason string) (*models.CampaignHealth, error)

func (h *OperatorHandler) campaignAction(operation string, action campaignActionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), operation)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		organizationID, ok := organizationID(ctx, span, c)
		if !ok {
			return
		}
		// body is optional
		var req ReasonRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		camp, err := action(ctx, organizationID, c.Param("id"), req.Reason)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, camp)
	}
}
