package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	apierrors "github.com/superkabe/healthstack/api/errors"
	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services/ingest"
)

const webhookSuffix = "-webhook"

type WebhookIngestor interface {
	Ingest(ctx context.Context, req ingest.IngestRequest) (*ingest.IngestResult, error)
}

type WebhookHandler struct {
	log          logger.Logger
	ingestor     WebhookIngestor
	timeout      time.Duration
	maxBodyBytes int64
}

func NewWebhookHandler(log logger.Logger, ingestor WebhookIngestor, timeout time.Duration, maxBodyBytes int64) *WebhookHandler {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{
		log:          log,
		ingestor:     ingestor,
		timeout:      timeout,
		maxBodyBytes: maxBodyBytes,
	}
}

// Receive handles POST /monitor/{provider}-webhook. The raw payload is persisted
// before the response; risk and health evaluation run off the bus.
func (h *WebhookHandler) Receive() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "WebhookHandler.Receive")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagComponentWebhook(span)

		hook := c.Param("hook")
		if !strings.HasSuffix(hook, webhookSuffix) {
			respondError(c, span, errors.Wrapf(hserrors.ErrUnknownProvider, "%q", hook))
			return
		}
		provider := strings.TrimSuffix(hook, webhookSuffix)

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
		if err != nil {
			respondError(c, span, errors.Wrap(hserrors.ErrMalformedPayload, err.Error()))
			return
		}

		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		organizationID := strings.TrimSpace(c.GetHeader(utils.OrganizationIdHeader))
		result, err := h.ingestor.Ingest(ctx, ingest.IngestRequest{
			Provider:       provider,
			OrganizationID: organizationID,
			Headers:        c.Request.Header,
			Body:           body,
		})
		if err != nil {
			if apierrors.HTTPStatus(err) >= http.StatusInternalServerError {
				h.log.Errorf("webhook %s for organization %s failed: %v", provider, organizationID, err)
			}
			respondError(c, span, err)
			return
		}

		response := gin.H{
			"rawEventId": result.RawEventID,
			"accepted":   len(result.Accepted),
			"duplicates": result.Duplicates,
			"skipped":    result.Skipped,
		}
		if result.AllDuplicates() {
			c.JSON(http.StatusOK, response)
			return
		}
		c.JSON(http.StatusAccepted, response)
	}
}
