package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	apierrors "github.com/superkabe/healthstack/api/errors"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/gate"
)

type GateCheckRequest struct {
	MailboxID  string `json:"mailboxId"`
	CampaignID string `json:"campaignId"`
}

type GateHandler struct {
	gate *gate.Gate
}

func NewGateHandler(g *gate.Gate) *GateHandler {
	return &GateHandler{gate: g}
}

// Check answers whether a mailbox may send for a campaign right now.
func (h *GateHandler) Check() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "GateHandler.Check")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req GateCheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		validation := apierrors.NewMultiErrors()
		if req.MailboxID == "" {
			validation.Add("mailboxId", "is required", nil)
		}
		if req.CampaignID == "" {
			validation.Add("campaignId", "is required", nil)
		}
		if validation.HasErrors() {
			respondError(c, span, validation)
			return
		}
		tracing.TagEntity(span, req.MailboxID)

		decision := h.gate.CanSend(ctx, req.MailboxID, req.CampaignID)
		c.JSON(http.StatusOK, decision)
	}
}
