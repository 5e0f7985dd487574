package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/utils"
)

type AuditEvent struct {
	ID             string           `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OrganizationID string           `gorm:"column:organization_id;type:varchar(64);index;not null" json:"organizationId"`
	EntityType     enum.EntityType  `gorm:"column:entity_type;type:varchar(32);not null;index:idx_audit_entity,priority:1" json:"entityType"`
	EntityID       string           `gorm:"column:entity_id;type:varchar(64);not null;index:idx_audit_entity,priority:2" json:"entityId"`
	Action         enum.AuditAction `gorm:"column:action;type:varchar(32);not null" json:"action"`
	FromState      string           `gorm:"column:from_state;type:varchar(64)" json:"fromState,omitempty"`
	ToState        string           `gorm:"column:to_state;type:varchar(64)" json:"toState,omitempty"`
	Reason         string           `gorm:"column:reason;type:text" json:"reason"`
	Metadata       JSONMap          `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	SystemMode     enum.SystemMode  `gorm:"column:system_mode;type:varchar(16)" json:"systemMode"`
	CreatedAt      time.Time        `gorm:"column:created_at;type:timestamp;default:current_timestamp;index" json:"createdAt"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

func (a *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("aud", 16)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.Now()
	}
	return nil
}

type LoadBalancingSuggestion struct {
	ID              string                  `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OrganizationID  string                  `gorm:"column:organization_id;type:varchar(64);index;not null" json:"organizationId"`
	DomainID        string                  `gorm:"column:domain_id;type:varchar(64);index" json:"domainId"`
	Kind            enum.SuggestionKind     `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	MailboxID       string                  `gorm:"column:mailbox_id;type:varchar(64)" json:"mailboxId"`
	CampaignID      string                  `gorm:"column:campaign_id;type:varchar(64)" json:"campaignId"`
	TargetMailboxID string                  `gorm:"column:target_mailbox_id;type:varchar(64)" json:"targetMailboxId,omitempty"`
	Priority        enum.SuggestionPriority `gorm:"column:priority;type:varchar(16);not null" json:"priority"`
	Rationale       string                  `gorm:"column:rationale;type:text" json:"rationale"`
	Status          enum.SuggestionStatus   `gorm:"column:status;type:varchar(16);not null;default:pending" json:"status"`
	CreatedAt       time.Time               `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	AppliedAt       *time.Time              `gorm:"column:applied_at;type:timestamp" json:"appliedAt,omitempty"`
}

func (LoadBalancingSuggestion) TableName() string {
	return "load_balancing_suggestions"
}

func (s *LoadBalancingSuggestion) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = utils.GenerateNanoIDWithPrefix("lbs", 16)
	}
	if s.Status == "" {
		s.Status = enum.SuggestionPending
	}
	return nil
}
