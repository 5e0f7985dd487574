package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/utils"
)

type MailboxHealth struct {
	ID             string             `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OrganizationID string             `gorm:"column:organization_id;type:varchar(64);index;not null" json:"organizationId"`
	Email          string             `gorm:"column:email;type:varchar(255);index;not null" json:"email"`
	DomainID       string             `gorm:"column:domain_id;type:varchar(64);index;not null" json:"domainId"`
	Status         enum.MailboxStatus `gorm:"column:status;type:varchar(32);index;not null;default:healthy" json:"status"`
	RecoveryPhase  enum.RecoveryPhase `gorm:"column:recovery_phase;type:varchar(32);index;not null;default:none" json:"recoveryPhase"`
	// Counters over the pause window
	RollingSentCount   int `gorm:"column:rolling_sent_count;not null;default:0" json:"rollingSentCount"`
	RollingBounceCount int `gorm:"column:rolling_bounce_count;not null;default:0" json:"rollingBounceCount"`
	// Recovery cycle
	CooldownUntil      *time.Time `gorm:"column:cooldown_until;type:timestamp" json:"cooldownUntil,omitempty"`
	PauseCount         int        `gorm:"column:pause_count;not null;default:0" json:"pauseCount"`
	RelapseCount       int        `gorm:"column:relapse_count;not null;default:0" json:"relapseCount"`
	PhaseCleanSends    int        `gorm:"column:phase_clean_sends;not null;default:0" json:"phaseCleanSends"`
	PhaseBounces       int        `gorm:"column:phase_bounces;not null;default:0" json:"phaseBounces"`
	PhaseSent          int        `gorm:"column:phase_sent;not null;default:0" json:"phaseSent"`
	PhaseEnteredAt     *time.Time `gorm:"column:phase_entered_at;type:timestamp" json:"phaseEnteredAt,omitempty"`
	HealthySince       *time.Time `gorm:"column:healthy_since;type:timestamp" json:"healthySince,omitempty"`
	WindowsResetAt     *time.Time `gorm:"column:windows_reset_at;type:timestamp" json:"windowsResetAt,omitempty"`
	ManualIntervention bool       `gorm:"column:manual_intervention;not null;default:false" json:"manualIntervention"`
	// Daily volume, reset on UTC day change
	SendsToday     int    `gorm:"column:sends_today;not null;default:0" json:"sendsToday"`
	SendsTodayDate string `gorm:"column:sends_today_date;type:varchar(10)" json:"sendsTodayDate"`
	// External campaign assignments removed at pause, re-added at graduation
	ExternalCampaignIDs pq.StringArray `gorm:"column:external_campaign_ids;type:text[]" json:"externalCampaignIds"`
	PausedReason        string         `gorm:"column:paused_reason;type:text" json:"pausedReason,omitempty"`
	Active              bool           `gorm:"column:active;not null;default:true" json:"active"`
	Version             int64          `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt           time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (MailboxHealth) TableName() string {
	return "mailbox_health"
}

func (m *MailboxHealth) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("mbox", 16)
	}
	if m.Status == "" {
		m.Status = enum.MailboxHealthy
	}
	if m.RecoveryPhase == "" {
		m.RecoveryPhase = enum.PhaseNone
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return nil
}

func (m *MailboxHealth) EntityType() enum.EntityType {
	return enum.MAILBOX
}

func (m *MailboxHealth) EntityID() string {
	return m.ID
}

func (m *MailboxHealth) CurrentStatus() string {
	return string(m.Status)
}

// DailyCount returns sends_today for the given UTC day, zero when the counter belongs to another day.
func (m *MailboxHealth) DailyCount(now time.Time) int {
	if m.SendsTodayDate != utils.DayKey(now) {
		return 0
	}
	return m.SendsToday
}

func (m *MailboxHealth) RecordSend(now time.Time) {
	day := utils.DayKey(now)
	if m.SendsTodayDate != day {
		m.SendsTodayDate = day
		m.SendsToday = 0
	}
	m.SendsToday++
}

func (m *MailboxHealth) Clone() *MailboxHealth {
	if m == nil {
		return nil
	}
	c := *m
	c.ExternalCampaignIDs = append(pq.StringArray(nil), m.ExternalCampaignIDs...)
	return &c
}
