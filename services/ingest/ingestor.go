package ingest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/dto"
	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/metrics"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

type Config struct {
	Production         bool
	Secrets            map[enum.Provider]string
	SoftBounceRepeats  int
	SoftBounceLookback time.Duration
	ComplaintWeight    int
}

func NewConfig(app *config.AppConfig, webhook *config.WebhookConfig, risk *config.RiskConfig) Config {
	return Config{
		Production: app.IsProduction(),
		Secrets: map[enum.Provider]string{
			enum.ProviderSmartlead: webhook.SmartleadSecret,
			enum.ProviderInstantly: webhook.InstantlySecret,
			enum.ProviderGeneric:   webhook.GenericSecret,
		},
		SoftBounceRepeats:  risk.SoftBounceRepeats,
		SoftBounceLookback: time.Duration(risk.SoftBounceLookbackDays) * 24 * time.Hour,
		ComplaintWeight:    risk.ComplaintWeight,
	}
}

type IngestRequest struct {
	Provider       string
	OrganizationID string
	Headers        http.Header
	Body           []byte
}

type IngestResult struct {
	RawEventID     string
	SignatureState enum.SignatureState
	Accepted       []*models.DeliveryEvent
	Duplicates     int
	Skipped        int
}

// AllDuplicates is true when every mapped event had already been ingested.
func (r *IngestResult) AllDuplicates() bool {
	return len(r.Accepted) == 0 && r.Duplicates > 0
}

type Ingestor struct {
	log       logger.Logger
	cfg       Config
	repos     *repository.Repositories
	mappers   map[enum.Provider]Mapper
	dedup     Deduplicator
	archive   interfaces.RawEventArchive
	publisher interfaces.EventPublisher
}

func NewIngestor(log logger.Logger, cfg Config, repos *repository.Repositories, dedup Deduplicator,
	archive interfaces.RawEventArchive, publisher interfaces.EventPublisher) *Ingestor {
	if cfg.SoftBounceRepeats <= 0 {
		cfg.SoftBounceRepeats = 3
	}
	if cfg.SoftBounceLookback <= 0 {
		cfg.SoftBounceLookback = 7 * 24 * time.Hour
	}
	if cfg.ComplaintWeight <= 0 {
		cfg.ComplaintWeight = 2
	}
	if dedup == nil {
		dedup = noopDeduplicator{}
	}
	return &Ingestor{
		log:       log,
		cfg:       cfg,
		repos:     repos,
		mappers:   DefaultMappers(),
		dedup:     dedup,
		archive:   archive,
		publisher: publisher,
	}
}

// Ingest validates, persists and publishes one webhook delivery. The raw payload is
// stored before mapping so a payload that fails later can still be inspected.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Ingestor.Ingest")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, req.OrganizationID)
	span.LogKV("provider", req.Provider, "bodySize", len(req.Body))

	provider := enum.Provider(strings.ToLower(req.Provider))
	mapper, ok := i.mappers[provider]
	if !ok {
		metrics.EventsRejected.WithLabelValues(req.Provider, "unknown_provider").Inc()
		return nil, errors.Wrapf(hserrors.ErrUnknownProvider, "provider %q", req.Provider)
	}
	if _, err := uuid.Parse(req.OrganizationID); err != nil {
		metrics.EventsRejected.WithLabelValues(provider.String(), "invalid_organization").Inc()
		return nil, errors.Wrapf(hserrors.ErrInvalidOrganization, "%q", req.OrganizationID)
	}

	state, err := i.signatureState(provider, req)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(provider.String(), "signature").Inc()
		tracing.TraceErr(span, err)
		return nil, err
	}

	raw := &models.RawWebhookEvent{
		ID:             utils.GenerateNanoIDWithPrefix("raw", 16),
		OrganizationID: req.OrganizationID,
		Provider:       provider,
		Headers:        headerMap(req.Headers),
		Payload:        string(req.Body),
		SignatureState: state,
		ReceivedAt:     utils.Now(),
	}
	if err := i.repos.RawWebhookEventRepository.Create(ctx, raw); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "persist raw webhook event")
	}
	result := &IngestResult{RawEventID: raw.ID, SignatureState: state}

	mapped, err := mapper.Map(req.Body)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(provider.String(), "malformed").Inc()
		i.log.Warnf("Malformed %s payload %s: %v", provider, raw.ID, err)
		if markErr := i.repos.RawWebhookEventRepository.MarkError(ctx, raw.ID, err.Error()); markErr != nil {
			i.log.Errorf("Failed to mark raw event %s: %v", raw.ID, markErr)
		}
		tracing.TraceErr(span, err)
		return result, err
	}

	for _, canonical := range mapped {
		event, err := i.build(ctx, provider, req.OrganizationID, raw, canonical)
		if err != nil {
			if errors.Is(err, hserrors.ErrUnknownMailbox) {
				result.Skipped++
				metrics.EventsRejected.WithLabelValues(provider.String(), "unknown_mailbox").Inc()
				i.log.Warnf("Skipping %s event %s: %v", provider, canonical.ProviderEventID, err)
				continue
			}
			tracing.TraceErr(span, err)
			return result, err
		}

		inserted, err := i.persist(ctx, provider, event)
		if err != nil {
			tracing.TraceErr(span, err)
			_ = i.repos.RawWebhookEventRepository.MarkError(ctx, raw.ID, err.Error())
			return result, err
		}
		if !inserted {
			result.Duplicates++
			continue
		}
		metrics.EventsIngested.WithLabelValues(provider.String(), event.Type.String()).Inc()
		result.Accepted = append(result.Accepted, event)
	}

	i.archiveRaw(ctx, raw)

	for _, event := range result.Accepted {
		err := i.publisher.PublishDeliveryEvent(ctx, dto.DeliveryEventReceived{
			DeliveryEventID: event.ID,
			OrganizationID:  event.OrganizationID,
			MailboxID:       event.MailboxID,
			Type:            event.Type,
			OccurredAt:      event.OccurredAt,
		})
		if err != nil {
			// the event stays unprocessed and is picked up by the replay job
			i.log.Errorf("Failed to publish delivery event %s: %v", event.ID, err)
		}
	}

	span.LogKV("accepted", len(result.Accepted), "duplicates", result.Duplicates, "skipped", result.Skipped)
	return result, nil
}

func (i *Ingestor) signatureState(provider enum.Provider, req IngestRequest) (enum.SignatureState, error) {
	secret := i.cfg.Secrets[provider]
	signature := req.Headers.Get(SignatureHeader)

	switch {
	case secret == "":
		if i.cfg.Production {
			i.log.Warnf("No webhook secret configured for %s, accepting unsigned payload", provider)
		}
		return enum.SignatureUnsigned, nil
	case signature != "" && VerifySignature(secret, req.Body, signature):
		return enum.SignatureVerified, nil
	case i.cfg.Production:
		return "", errors.Wrapf(hserrors.ErrInvalidSignature, "provider %s", provider)
	case signature == "":
		i.log.Warnf("Unsigned %s webhook accepted outside production", provider)
		return enum.SignatureUnsigned, nil
	}
	i.log.Warnf("Invalid %s webhook signature accepted outside production", provider)
	return enum.SignatureInvalidAccepted, nil
}

func (i *Ingestor) resolveMailbox(ctx context.Context, organizationID string, ev *CanonicalEvent) (*models.MailboxHealth, error) {
	var (
		mailbox *models.MailboxHealth
		err     error
	)
	if ev.MailboxID != "" {
		mailbox, err = i.repos.MailboxHealthRepository.GetByID(ctx, ev.MailboxID)
		if err == nil && mailbox.OrganizationID != organizationID {
			err = hserrors.ErrMailboxNotFound
		}
	} else {
		mailbox, err = i.repos.MailboxHealthRepository.GetByEmail(ctx, organizationID, ev.MailboxEmail)
	}
	if errors.Is(err, hserrors.ErrMailboxNotFound) {
		return nil, errors.Wrapf(hserrors.ErrUnknownMailbox, "mailbox %s%s", ev.MailboxID, ev.MailboxEmail)
	}
	return mailbox, err
}

func (i *Ingestor) build(ctx context.Context, provider enum.Provider, organizationID string, raw *models.RawWebhookEvent, ev *CanonicalEvent) (*models.DeliveryEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Ingestor.build")
	defer span.Finish()

	mailbox, err := i.resolveMailbox(ctx, organizationID, ev)
	if err != nil {
		return nil, err
	}

	var dsn *DSNReport
	if ev.RawMessage != "" {
		if dsn, err = ParseDSN(ev.RawMessage); err != nil {
			i.log.Debugf("Bounce message of %s not usable: %v", ev.ProviderEventID, err)
			dsn = nil
		}
	}
	class := Classify(ev, dsn)

	recipient := ev.Recipient
	if recipient == "" && dsn != nil {
		recipient = dsn.Recipient
	}
	if recipient != "" {
		validation := mailvalidate.ValidateEmailSyntax(recipient)
		if validation.IsValid {
			recipient = validation.CleanEmail
		} else {
			span.LogKV("invalidRecipient", recipient)
			i.log.Debugf("Recipient %q of %s event %s failed syntax validation", recipient, provider, ev.ProviderEventID)
			recipient = utils.NormalizeEmail(recipient)
		}
	}

	occurredAt := ev.OccurredAt
	receivedAt := raw.ReceivedAt
	if occurredAt.IsZero() {
		occurredAt = receivedAt
	}

	event := &models.DeliveryEvent{
		ID:                   utils.GenerateNanoIDWithPrefix("dev", 16),
		OrganizationID:       organizationID,
		Provider:             provider,
		ProviderEventID:      ev.ProviderEventID,
		MailboxID:            mailbox.ID,
		Type:                 class.Type,
		DomainID:             mailbox.DomainID,
		CampaignID:           ev.CampaignID,
		Recipient:            recipient,
		BounceClassification: class.Label,
		Ambiguous:            class.Ambiguous,
		SignatureVerified:    raw.SignatureState == enum.SignatureVerified,
		RawEventID:           raw.ID,
		OccurredAt:           occurredAt,
		ReceivedAt:           receivedAt,
	}

	switch event.Type {
	case enum.EventHardBounce, enum.EventDeliveryFailure:
		event.CountsTowardRisk, event.RiskWeight = true, 1
	case enum.EventComplaint:
		event.CountsTowardRisk, event.RiskWeight = true, i.cfg.ComplaintWeight
	case enum.EventSoftBounce:
		persistent, err := i.persistentSoftBounce(ctx, event)
		if err != nil {
			return nil, err
		}
		if persistent {
			event.CountsTowardRisk, event.RiskWeight = true, 1
		}
	}
	return event, nil
}

// persistentSoftBounce counts this soft bounce together with earlier ones to the same recipient.
func (i *Ingestor) persistentSoftBounce(ctx context.Context, event *models.DeliveryEvent) (bool, error) {
	if event.Recipient == "" {
		return false, nil
	}
	since := event.OccurredAt.Add(-i.cfg.SoftBounceLookback)
	previous, err := i.repos.DeliveryEventRepository.CountSoftBounces(ctx, event.MailboxID, event.Recipient, since)
	if err != nil {
		return false, errors.Wrap(err, "count soft bounces")
	}
	return int(previous)+1 >= i.cfg.SoftBounceRepeats, nil
}

func (i *Ingestor) persist(ctx context.Context, provider enum.Provider, event *models.DeliveryEvent) (bool, error) {
	key := DedupKey(provider, event.ProviderEventID, event.MailboxID)
	claimed, err := i.dedup.Claim(ctx, key)
	if err != nil {
		i.log.Warnf("Dedup store unavailable, relying on unique index: %v", err)
		claimed = true
	}
	if !claimed {
		metrics.DedupHits.WithLabelValues(provider.String(), i.dedup.Store()).Inc()
		return false, nil
	}

	inserted, err := i.repos.DeliveryEventRepository.Create(ctx, event)
	if err != nil {
		i.dedup.Release(ctx, key)
		return false, err
	}
	if !inserted {
		metrics.DedupHits.WithLabelValues(provider.String(), "postgres").Inc()
	}
	return inserted, nil
}

func (i *Ingestor) archiveRaw(ctx context.Context, raw *models.RawWebhookEvent) {
	if i.archive == nil {
		return
	}
	key, err := i.archive.Archive(ctx, raw)
	if err != nil {
		i.log.Warnf("Failed to archive raw event %s: %v", raw.ID, err)
		return
	}
	raw.ArchivedKey = key
	if err := i.repos.RawWebhookEventRepository.SetArchivedKey(ctx, raw.ID, key); err != nil {
		i.log.Warnf("Failed to store archive key of %s: %v", raw.ID, err)
	}
}

var redactedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
}

func headerMap(headers http.Header) models.JSONMap {
	out := make(models.JSONMap, len(headers))
	for name, values := range headers {
		lower := strings.ToLower(name)
		if redactedHeaders[lower] || len(values) == 0 {
			continue
		}
		out[lower] = values[0]
	}
	return out
}
