package interfaces

import (
	"context"
	"time"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
)

type MailboxHealthRepository interface {
	GetByID(ctx context.Context, id string) (*models.MailboxHealth, error)
	GetByEmail(ctx context.Context, organizationID, email string) (*models.MailboxHealth, error)
	Create(ctx context.Context, mailbox *models.MailboxHealth) error
	// Update persists the record only if its version is unchanged, then bumps the version.
	Update(ctx context.Context, mailbox *models.MailboxHealth) error
	List(ctx context.Context, organizationID string) ([]*models.MailboxHealth, error)
	ListByDomain(ctx context.Context, domainID string) ([]*models.MailboxHealth, error)
	ListInRecovery(ctx context.Context) ([]*models.MailboxHealth, error)
	ListGraceCandidates(ctx context.Context, healthySince time.Time) ([]*models.MailboxHealth, error)
}

type MailboxConnectionRepository interface {
	Get(ctx context.Context, mailboxID string) (*models.MailboxConnection, error)
	Save(ctx context.Context, connection *models.MailboxConnection) error
	List(ctx context.Context) ([]*models.MailboxConnection, error)
}

type DomainHealthRepository interface {
	GetByID(ctx context.Context, id string) (*models.DomainHealth, error)
	Create(ctx context.Context, domain *models.DomainHealth) error
	Update(ctx context.Context, domain *models.DomainHealth) error
	List(ctx context.Context, organizationID string) ([]*models.DomainHealth, error)
}

type CampaignHealthRepository interface {
	GetByID(ctx context.Context, id string) (*models.CampaignHealth, error)
	Create(ctx context.Context, campaign *models.CampaignHealth) error
	Update(ctx context.Context, campaign *models.CampaignHealth) error
	List(ctx context.Context, organizationID string) ([]*models.CampaignHealth, error)
}

type CampaignMailboxRepository interface {
	ListByCampaign(ctx context.Context, campaignID string) ([]*models.CampaignMailbox, error)
	ListByMailbox(ctx context.Context, mailboxID string) ([]*models.CampaignMailbox, error)
	ListByMailboxes(ctx context.Context, mailboxIDs []string) ([]*models.CampaignMailbox, error)
	Assign(ctx context.Context, assignment *models.CampaignMailbox) error
	Unassign(ctx context.Context, campaignID, mailboxID string) error
	// ReplaceForCampaign makes mailboxIDs the full active set of the campaign.
	ReplaceForCampaign(ctx context.Context, campaignID string, mailboxIDs []string) error
}

type DeliveryEventRepository interface {
	// Create returns false when the (provider, provider_event_id, mailbox_id) row already exists.
	Create(ctx context.Context, event *models.DeliveryEvent) (bool, error)
	GetByID(ctx context.Context, id string) (*models.DeliveryEvent, error)
	// ListRiskRelevant returns the newest processed risk-relevant events of an entity, newest first.
	ListRiskRelevant(ctx context.Context, entityType enum.EntityType, entityID string, limit int) ([]*models.DeliveryEvent, error)
	CountSoftBounces(ctx context.Context, mailboxID, recipient string, since time.Time) (int64, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*models.DeliveryEvent, error)
}

type RawWebhookEventRepository interface {
	Create(ctx context.Context, event *models.RawWebhookEvent) error
	MarkError(ctx context.Context, id string, errMsg string) error
	SetArchivedKey(ctx context.Context, id string, key string) error
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type AuditFilter struct {
	OrganizationID string
	EntityType     enum.EntityType
	EntityID       string
	Limit          int
}

type AuditRepository interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error)
}

type SuggestionRepository interface {
	// ReplacePending dismisses the organization's pending suggestions and stores the new set.
	ReplacePending(ctx context.Context, organizationID string, suggestions []*models.LoadBalancingSuggestion) error
	GetByID(ctx context.Context, id string) (*models.LoadBalancingSuggestion, error)
	List(ctx context.Context, organizationID string, status enum.SuggestionStatus) ([]*models.LoadBalancingSuggestion, error)
	MarkApplied(ctx context.Context, id string, at time.Time) error
}
