package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/dto"
	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/metrics"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

type restCommander struct {
	cfg    *config.ProviderConfig
	client *retryClient
	log    logger.Logger
}

// NewCommander posts commands to the configured provider endpoint. Without a
// base URL every command is only logged.
func NewCommander(cfg *config.ProviderConfig, log logger.Logger) interfaces.ProviderCommander {
	if cfg == nil || cfg.BaseURL == "" {
		return &noopCommander{log: log}
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &restCommander{
		cfg: cfg,
		log: log,
		client: &retryClient{
			client:     &http.Client{Timeout: cfg.Timeout},
			limiter:    limiter,
			log:        log,
			maxRetries: maxRetries,
			baseDelay:  cfg.BaseDelay,
			maxDelay:   cfg.MaxDelay,
		},
	}
}

func (c *restCommander) PauseCampaign(ctx context.Context, organizationID, campaignID, reason string) error {
	return c.send(ctx, &dto.ProviderCommand{
		Type:           dto.CommandPauseCampaign,
		OrganizationID: organizationID,
		CampaignID:     campaignID,
		Reason:         reason,
	})
}

func (c *restCommander) ResumeCampaign(ctx context.Context, organizationID, campaignID string) error {
	return c.send(ctx, &dto.ProviderCommand{
		Type:           dto.CommandResumeCampaign,
		OrganizationID: organizationID,
		CampaignID:     campaignID,
	})
}

func (c *restCommander) RemoveMailboxFromCampaign(ctx context.Context, organizationID, mailboxID, campaignID string) error {
	return c.send(ctx, &dto.ProviderCommand{
		Type:           dto.CommandRemoveMailbox,
		OrganizationID: organizationID,
		MailboxID:      mailboxID,
		CampaignID:     campaignID,
	})
}

func (c *restCommander) AddMailboxToCampaign(ctx context.Context, organizationID, mailboxID, campaignID string) error {
	return c.send(ctx, &dto.ProviderCommand{
		Type:           dto.CommandAddMailbox,
		OrganizationID: organizationID,
		MailboxID:      mailboxID,
		CampaignID:     campaignID,
	})
}

func (c *restCommander) ConfigureWarmup(ctx context.Context, organizationID, mailboxID string, dailyLimit, rampUp int) error {
	return c.send(ctx, &dto.ProviderCommand{
		Type:           dto.CommandConfigureWarmup,
		OrganizationID: organizationID,
		MailboxID:      mailboxID,
		DailyLimit:     dailyLimit,
		RampUp:         rampUp,
	})
}

func (c *restCommander) send(ctx context.Context, cmd *dto.ProviderCommand) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ProviderCommander."+string(cmd.Type))
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, cmd.OrganizationID)

	cmd.ID = utils.GenerateNanoIDWithPrefix("cmd", 16)
	cmd.IssuedAt = utils.Now()
	tracing.LogObjectAsJson(span, "command", cmd)

	body, err := json.Marshal(cmd)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "marshal provider command")
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/commands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "build provider request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", cmd.ID)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req = tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ProviderCommandFailures.WithLabelValues(string(cmd.Type)).Inc()
		err = errors.Wrapf(hserrors.ErrProviderCommandFailed, "%s: %v", cmd.Type, err)
		tracing.TraceErr(span, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metrics.ProviderCommandFailures.WithLabelValues(string(cmd.Type)).Inc()
		err = errors.Wrapf(hserrors.ErrProviderCommandFailed, "%s: status %d: %s", cmd.Type, resp.StatusCode, strings.TrimSpace(string(msg)))
		tracing.TraceErr(span, err)
		return err
	}

	span.SetTag("http.status_code", resp.StatusCode)
	c.log.Infof("provider command %s sent for org %s (mailbox=%s campaign=%s)", cmd.Type, cmd.OrganizationID, cmd.MailboxID, cmd.CampaignID)
	return nil
}

type noopCommander struct {
	log logger.Logger
}

func (n *noopCommander) PauseCampaign(_ context.Context, organizationID, campaignID, reason string) error {
	n.log.Infof("provider endpoint not configured, skipping pause of campaign %s (%s): %s", campaignID, organizationID, reason)
	return nil
}

func (n *noopCommander) ResumeCampaign(_ context.Context, organizationID, campaignID string) error {
	n.log.Infof("provider endpoint not configured, skipping resume of campaign %s (%s)", campaignID, organizationID)
	return nil
}

func (n *noopCommander) RemoveMailboxFromCampaign(_ context.Context, organizationID, mailboxID, campaignID string) error {
	n.log.Infof("provider endpoint not configured, skipping removal of %s from %s (%s)", mailboxID, campaignID, organizationID)
	return nil
}

func (n *noopCommander) AddMailboxToCampaign(_ context.Context, organizationID, mailboxID, campaignID string) error {
	n.log.Infof("provider endpoint not configured, skipping add of %s to %s (%s)", mailboxID, campaignID, organizationID)
	return nil
}

func (n *noopCommander) ConfigureWarmup(_ context.Context, organizationID, mailboxID string, dailyLimit, rampUp int) error {
	n.log.Infof("provider endpoint not configured, skipping warmup %d/day (+%d) for %s (%s)", dailyLimit, rampUp, mailboxID, organizationID)
	return nil
}
