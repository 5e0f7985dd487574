package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/utils"
)

// DeliveryEvent is the canonical, append-only record of a provider event.
type DeliveryEvent struct {
	ID                   string                 `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OrganizationID       string                 `gorm:"column:organization_id;type:varchar(64);index;not null" json:"organizationId"`
	Provider             enum.Provider          `gorm:"column:provider;type:varchar(32);not null;uniqueIndex:uq_delivery_event_dedup,priority:1" json:"provider"`
	ProviderEventID      string                 `gorm:"column:provider_event_id;type:varchar(255);not null;uniqueIndex:uq_delivery_event_dedup,priority:2" json:"providerEventId"`
	MailboxID            string                 `gorm:"column:mailbox_id;type:varchar(64);not null;uniqueIndex:uq_delivery_event_dedup,priority:3;index:idx_delivery_event_mailbox_time,priority:1" json:"mailboxId"`
	Type                 enum.DeliveryEventType `gorm:"column:type;type:varchar(32);not null" json:"type"`
	DomainID             string                 `gorm:"column:domain_id;type:varchar(64);index" json:"domainId"`
	CampaignID           string                 `gorm:"column:campaign_id;type:varchar(64);index" json:"campaignId,omitempty"`
	Recipient            string                 `gorm:"column:recipient;type:varchar(255);index" json:"recipient"`
	BounceClassification string                 `gorm:"column:bounce_classification;type:varchar(255)" json:"bounceClassification,omitempty"`
	CountsTowardRisk     bool                   `gorm:"column:counts_toward_risk;not null;default:false" json:"countsTowardRisk"`
	RiskWeight           int                    `gorm:"column:risk_weight;not null;default:0" json:"riskWeight"`
	Ambiguous            bool                   `gorm:"column:ambiguous;not null;default:false" json:"ambiguous"`
	SignatureVerified    bool                   `gorm:"column:signature_verified;not null;default:false" json:"signatureVerified"`
	RawEventID           string                 `gorm:"column:raw_event_id;type:varchar(64)" json:"rawEventId"`
	OccurredAt           time.Time              `gorm:"column:occurred_at;type:timestamp;not null;index:idx_delivery_event_mailbox_time,priority:2" json:"occurredAt"`
	ReceivedAt           time.Time              `gorm:"column:received_at;type:timestamp;not null" json:"receivedAt"`
	ProcessedAt          *time.Time             `gorm:"column:processed_at;type:timestamp;index" json:"processedAt,omitempty"`
}

func (DeliveryEvent) TableName() string {
	return "delivery_events"
}

func (e *DeliveryEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("dev", 16)
	}
	return nil
}

// RiskRelevant is true for events that move a sliding window: sends and counted bounces.
func (e *DeliveryEvent) RiskRelevant() bool {
	return e.Type == enum.EventSent || e.CountsTowardRisk
}

// RawWebhookEvent is persisted before any processing of an inbound webhook.
type RawWebhookEvent struct {
	ID             string              `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OrganizationID string              `gorm:"column:organization_id;type:varchar(64);index" json:"organizationId"`
	Provider       enum.Provider       `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	Headers        JSONMap             `gorm:"column:headers;type:jsonb" json:"headers"`
	Payload        string              `gorm:"column:payload;type:text" json:"payload"`
	SignatureState enum.SignatureState `gorm:"column:signature_state;type:varchar(32)" json:"signatureState"`
	ReceivedAt     time.Time           `gorm:"column:received_at;type:timestamp;not null;index" json:"receivedAt"`
	Error          string              `gorm:"column:error;type:text" json:"error,omitempty"`
	ArchivedKey    string              `gorm:"column:archived_key;type:varchar(512)" json:"archivedKey,omitempty"`
}

func (RawWebhookEvent) TableName() string {
	return "raw_webhook_events"
}

func (e *RawWebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("raw", 16)
	}
	return nil
}
