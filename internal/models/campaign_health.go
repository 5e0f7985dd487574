package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/utils"
)

type CampaignHealth struct {
	ID                 string              `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OrganizationID     string              `gorm:"column:organization_id;type:varchar(64);index;not null" json:"organizationId"`
	Name               string              `gorm:"column:name;type:varchar(255)" json:"name"`
	Status             enum.CampaignStatus `gorm:"column:status;type:varchar(32);not null;default:active" json:"status"`
	PausedReason       string              `gorm:"column:paused_reason;type:text" json:"pausedReason,omitempty"`
	PausedManually     bool                `gorm:"column:paused_manually;not null;default:false" json:"pausedManually"`
	RollingSentCount   int                 `gorm:"column:rolling_sent_count;not null;default:0" json:"rollingSentCount"`
	RollingBounceCount int                 `gorm:"column:rolling_bounce_count;not null;default:0" json:"rollingBounceCount"`
	Version            int64               `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt          time.Time           `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (CampaignHealth) TableName() string {
	return "campaign_health"
}

func (c *CampaignHealth) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = utils.GenerateNanoIDWithPrefix("camp", 16)
	}
	if c.Status == "" {
		c.Status = enum.CampaignActive
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

func (c *CampaignHealth) EntityType() enum.EntityType {
	return enum.CAMPAIGN
}

func (c *CampaignHealth) EntityID() string {
	return c.ID
}

func (c *CampaignHealth) CurrentStatus() string {
	return string(c.Status)
}

func (c *CampaignHealth) BounceRate() float64 {
	if c.RollingSentCount == 0 {
		return 0
	}
	return float64(c.RollingBounceCount) / float64(c.RollingSentCount)
}

func (c *CampaignHealth) Clone() *CampaignHealth {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// CampaignMailbox is the internal assignment of a mailbox to a campaign.
type CampaignMailbox struct {
	CampaignID string    `gorm:"column:campaign_id;type:varchar(64);primaryKey" json:"campaignId"`
	MailboxID  string    `gorm:"column:mailbox_id;type:varchar(64);primaryKey;index" json:"mailboxId"`
	Weight     int       `gorm:"column:weight;not null;default:1" json:"weight"`
	Active     bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
}

func (CampaignMailbox) TableName() string {
	return "campaign_mailboxes"
}
