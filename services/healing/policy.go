package healing

import (
	"sort"
	"time"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/enum"
)

// Policy carries cooldowns, caps and the graduation tiers of the pipeline.
type Policy struct {
	FirstCooldown      time.Duration
	SecondCooldown     time.Duration
	ThirdCooldown      time.Duration
	RestrictedDailyCap int
	WarmDailyCap       int
	WarmRampUp         int
	WarmMaxBounceRate  float64
	GracePeriod        time.Duration
	Intervention       enum.InterventionPolicy
	RequireDMARC       bool
	DNSCheckMaxAge     time.Duration
	Tiers              []config.HealingTier
}

func DefaultPolicy() *Policy {
	return &Policy{
		FirstCooldown:      4 * time.Hour,
		SecondCooldown:     24 * time.Hour,
		ThirdCooldown:      48 * time.Hour,
		RestrictedDailyCap: 5,
		WarmDailyCap:       25,
		WarmRampUp:         5,
		WarmMaxBounceRate:  0.02,
		GracePeriod:        7 * 24 * time.Hour,
		Intervention:       enum.InterventionAdvisory,
		DNSCheckMaxAge:     time.Hour,
		Tiers:              config.DefaultHealingTiers(),
	}
}

func NewPolicy(cfg *config.HealingConfig) *Policy {
	p := DefaultPolicy()
	if cfg == nil {
		return p
	}
	if cfg.FirstCooldown > 0 {
		p.FirstCooldown = cfg.FirstCooldown
	}
	if cfg.SecondCooldown > 0 {
		p.SecondCooldown = cfg.SecondCooldown
	}
	if cfg.ThirdCooldown > 0 {
		p.ThirdCooldown = cfg.ThirdCooldown
	}
	if cfg.RestrictedDailyCap > 0 {
		p.RestrictedDailyCap = cfg.RestrictedDailyCap
	}
	if cfg.WarmDailyCap > 0 {
		p.WarmDailyCap = cfg.WarmDailyCap
	}
	if cfg.WarmRampUp > 0 {
		p.WarmRampUp = cfg.WarmRampUp
	}
	if cfg.WarmMaxBounceRate > 0 {
		p.WarmMaxBounceRate = cfg.WarmMaxBounceRate
	}
	if cfg.GracePeriod > 0 {
		p.GracePeriod = cfg.GracePeriod
	}
	if cfg.DNSCheckMaxAge > 0 {
		p.DNSCheckMaxAge = cfg.DNSCheckMaxAge
	}
	if enum.InterventionPolicy(cfg.InterventionPolicy) == enum.InterventionBlocking {
		p.Intervention = enum.InterventionBlocking
	}
	p.RequireDMARC = cfg.RequireDMARC
	if len(cfg.Tiers) > 0 {
		p.Tiers = append([]config.HealingTier(nil), cfg.Tiers...)
	}
	sort.Slice(p.Tiers, func(i, j int) bool { return p.Tiers[i].MinRelapses < p.Tiers[j].MinRelapses })
	return p
}

// PauseCooldown implements health.CooldownPolicy: 4h, 24h, then 48h with
// manual intervention from the third pause on.
func (p *Policy) PauseCooldown(pauseCount int) (time.Duration, bool) {
	switch {
	case pauseCount <= 1:
		return p.FirstCooldown, false
	case pauseCount == 2:
		return p.SecondCooldown, false
	}
	return p.ThirdCooldown, true
}

// Tier returns the strictest tier whose MinRelapses the count reaches.
func (p *Policy) Tier(relapseCount int) config.HealingTier {
	tier := p.Tiers[0]
	for _, t := range p.Tiers {
		if relapseCount >= t.MinRelapses {
			tier = t
		}
	}
	return tier
}

// DailyCap is the send cap of a phase; ok is false when the phase is uncapped.
func (p *Policy) DailyCap(phase enum.RecoveryPhase) (int, bool) {
	switch phase {
	case enum.PhasePaused, enum.PhaseQuarantine:
		return 0, true
	case enum.PhaseRestrictedSend:
		return p.RestrictedDailyCap, true
	case enum.PhaseWarmRecovery:
		return p.WarmDailyCap, true
	}
	return 0, false
}
