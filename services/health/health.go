package health

import (
	"fmt"
	"time"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/enum"
)

// HealthSubject is implemented by mailbox, domain and campaign health records.
type HealthSubject interface {
	EntityType() enum.EntityType
	EntityID() string
	CurrentStatus() string
}

// Transition records one status change with a human readable reason.
type Transition struct {
	EntityType enum.EntityType    `json:"entityType"`
	EntityID   string             `json:"entityId"`
	From       string             `json:"from"`
	To         string             `json:"to"`
	FromPhase  enum.RecoveryPhase `json:"fromPhase,omitempty"`
	ToPhase    enum.RecoveryPhase `json:"toPhase,omitempty"`
	Reason     string             `json:"reason"`
	At         time.Time          `json:"at"`
}

func newTransition(subject HealthSubject, from string, reason string, at time.Time) *Transition {
	return &Transition{
		EntityType: subject.EntityType(),
		EntityID:   subject.EntityID(),
		From:       from,
		To:         subject.CurrentStatus(),
		Reason:     reason,
		At:         at,
	}
}

func (t *Transition) String() string {
	if t.FromPhase != t.ToPhase {
		return fmt.Sprintf("%s %s: %s/%s -> %s/%s (%s)", t.EntityType, t.EntityID, t.From, t.FromPhase, t.To, t.ToPhase, t.Reason)
	}
	return fmt.Sprintf("%s %s: %s -> %s (%s)", t.EntityType, t.EntityID, t.From, t.To, t.Reason)
}

type Thresholds struct {
	DomainWarningRatio      float64
	DomainPauseRatio        float64
	CampaignPauseBounceRate float64
	MinSample               int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DomainWarningRatio:      0.30,
		DomainPauseRatio:        0.50,
		CampaignPauseBounceRate: 0.10,
		MinSample:               10,
	}
}

func ThresholdsFromConfig(cfg *config.RiskConfig) Thresholds {
	t := DefaultThresholds()
	if cfg == nil {
		return t
	}
	if cfg.DomainWarningRatio > 0 {
		t.DomainWarningRatio = cfg.DomainWarningRatio
	}
	if cfg.DomainPauseRatio > 0 {
		t.DomainPauseRatio = cfg.DomainPauseRatio
	}
	if cfg.CampaignPauseBounceRate > 0 {
		t.CampaignPauseBounceRate = cfg.CampaignPauseBounceRate
	}
	if cfg.MinSample > 0 {
		t.MinSample = cfg.MinSample
	}
	return t
}
