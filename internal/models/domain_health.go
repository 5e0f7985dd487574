package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/utils"
)

type DomainHealth struct {
	ID                    string            `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OrganizationID        string            `gorm:"column:organization_id;type:varchar(64);index;not null" json:"organizationId"`
	Domain                string            `gorm:"column:domain;type:varchar(255);index;not null" json:"domain"`
	Status                enum.DomainStatus `gorm:"column:status;type:varchar(32);not null;default:healthy" json:"status"`
	TotalMailboxes        int               `gorm:"column:total_mailboxes;not null;default:0" json:"totalMailboxes"`
	UnhealthyMailboxes    int               `gorm:"column:unhealthy_mailboxes;not null;default:0" json:"unhealthyMailboxes"`
	UnhealthyMailboxRatio float64           `gorm:"column:unhealthy_mailbox_ratio;not null;default:0" json:"unhealthyMailboxRatio"`
	// DNS authentication and reputation
	SpfValid        bool           `gorm:"column:spf_valid;not null;default:false" json:"spfValid"`
	DkimValid       bool           `gorm:"column:dkim_valid;not null;default:false" json:"dkimValid"`
	DmarcValid      bool           `gorm:"column:dmarc_valid;not null;default:false" json:"dmarcValid"`
	Blacklisted     bool           `gorm:"column:blacklisted;not null;default:false" json:"blacklisted"`
	BlacklistHits   pq.StringArray `gorm:"column:blacklist_hits;type:text[]" json:"blacklistHits"`
	LastDNSCheckAt  *time.Time     `gorm:"column:last_dns_check_at;type:timestamp" json:"lastDnsCheckAt,omitempty"`
	DomainAgeDays   int            `gorm:"column:domain_age_days;not null;default:0" json:"domainAgeDays"`
	Version         int64          `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt       time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (DomainHealth) TableName() string {
	return "domain_health"
}

func (d *DomainHealth) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = utils.GenerateNanoIDWithPrefix("dom", 16)
	}
	if d.Status == "" {
		d.Status = enum.DomainHealthy
	}
	if d.Version == 0 {
		d.Version = 1
	}
	return nil
}

func (d *DomainHealth) EntityType() enum.EntityType {
	return enum.DOMAIN
}

func (d *DomainHealth) EntityID() string {
	return d.ID
}

func (d *DomainHealth) CurrentStatus() string {
	return string(d.Status)
}

// DNSAuthValid reports SPF and DKIM, plus DMARC when required.
func (d *DomainHealth) DNSAuthValid(requireDMARC bool) bool {
	if !d.SpfValid || !d.DkimValid {
		return false
	}
	return !requireDMARC || d.DmarcValid
}

func (d *DomainHealth) Clone() *DomainHealth {
	if d == nil {
		return nil
	}
	c := *d
	c.BlacklistHits = append(pq.StringArray(nil), d.BlacklistHits...)
	return &c
}
