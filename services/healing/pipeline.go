package healing

import (
	"fmt"
	"time"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/services/health"
)

// QuarantineCheck is the DNS authentication and blacklist verdict for a mailbox's domain.
type QuarantineCheck struct {
	Passed bool
	Reason string
}

type WarmupCommand struct {
	DailyLimit int
	RampUp     int
}

// Step is the result of one pipeline evaluation.
type Step struct {
	Transition *health.Transition
	Warmup     *WarmupCommand
	Graduated  bool
	Relapse    bool
	Held       string
}

type Pipeline struct {
	policy *Policy
}

func NewPipeline(policy *Policy) *Pipeline {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Pipeline{policy: policy}
}

func (p *Pipeline) Policy() *Policy {
	return p.policy
}

// Advance moves the mailbox at most one phase forward. Calling it again with
// unchanged inputs is a no-op.
func (p *Pipeline) Advance(mb *models.MailboxHealth, check QuarantineCheck, now time.Time) Step {
	if mb.Status == enum.MailboxDisconnected || !mb.RecoveryPhase.InRecovery() {
		return Step{}
	}
	if mb.ManualIntervention && p.policy.Intervention == enum.InterventionBlocking {
		return Step{Held: "manual intervention required before recovery can continue"}
	}

	switch mb.RecoveryPhase {
	case enum.PhasePaused:
		if !cooldownExpired(mb, now) {
			return Step{Held: fmt.Sprintf("cooldown until %s", mb.CooldownUntil.Format(time.RFC3339))}
		}
		return Step{Transition: p.enter(mb, enum.PhaseQuarantine, enum.MailboxPaused, "cooldown expired", now)}

	case enum.PhaseQuarantine:
		if !cooldownExpired(mb, now) {
			return Step{Held: fmt.Sprintf("cooldown until %s", mb.CooldownUntil.Format(time.RFC3339))}
		}
		if !check.Passed {
			return Step{Held: "quarantine checks failing: " + check.Reason}
		}
		t := p.enter(mb, enum.PhaseRestrictedSend, enum.MailboxWarning, "DNS authentication valid and no blacklist hits", now)
		return Step{Transition: t, Warmup: &WarmupCommand{DailyLimit: p.policy.RestrictedDailyCap}}

	case enum.PhaseRestrictedSend:
		tier := p.policy.Tier(mb.RelapseCount)
		if mb.PhaseBounces > 0 || mb.PhaseCleanSends < tier.RestrictedCleanSends {
			return Step{Held: fmt.Sprintf("%d of %d clean sends", mb.PhaseCleanSends, tier.RestrictedCleanSends)}
		}
		reason := fmt.Sprintf("%d consecutive clean sends", mb.PhaseCleanSends)
		t := p.enter(mb, enum.PhaseWarmRecovery, enum.MailboxWarning, reason, now)
		return Step{Transition: t, Warmup: &WarmupCommand{DailyLimit: p.policy.WarmDailyCap, RampUp: p.policy.WarmRampUp}}

	case enum.PhaseWarmRecovery:
		tier := p.policy.Tier(mb.RelapseCount)
		if mb.PhaseCleanSends < tier.WarmCleanSends {
			return Step{Held: fmt.Sprintf("%d of %d clean sends", mb.PhaseCleanSends, tier.WarmCleanSends)}
		}
		minAge := time.Duration(tier.WarmMinDays) * 24 * time.Hour
		if mb.PhaseEnteredAt != nil && now.Sub(*mb.PhaseEnteredAt) < minAge {
			return Step{Held: fmt.Sprintf("warm recovery needs %d days", tier.WarmMinDays)}
		}
		rate := phaseBounceRate(mb)
		if rate >= p.policy.WarmMaxBounceRate {
			return Step{Held: fmt.Sprintf("bounce rate %.1f%% not below %.0f%%", rate*100, p.policy.WarmMaxBounceRate*100)}
		}
		reason := fmt.Sprintf("%d clean sends over %d days, bounce rate %.1f%%", mb.PhaseCleanSends, tier.WarmMinDays, rate*100)
		t := p.enter(mb, enum.PhaseHealthy, enum.MailboxHealthy, reason, now)
		mb.HealthySince = &now
		mb.CooldownUntil = nil
		mb.PausedReason = ""
		return Step{Transition: t, Graduated: true}
	}
	return Step{}
}

// RecordOutcome counts a send or a bounce while the mailbox is in a capped
// phase. Any bounce there is a relapse.
func (p *Pipeline) RecordOutcome(mb *models.MailboxHealth, weight int, now time.Time) Step {
	if !mb.RecoveryPhase.Sending() || mb.Status == enum.MailboxDisconnected {
		return Step{}
	}
	mb.PhaseSent++
	if weight == 0 {
		mb.PhaseCleanSends++
		return Step{}
	}
	mb.PhaseBounces++
	mb.RelapseCount++

	var (
		target   enum.RecoveryPhase
		cooldown time.Duration
	)
	switch mb.RelapseCount {
	case 1:
		target, cooldown = enum.PhaseQuarantine, 2*p.policy.FirstCooldown
	case 2:
		target, cooldown = enum.PhasePaused, p.policy.SecondCooldown
	default:
		target, cooldown = enum.PhasePaused, p.policy.ThirdCooldown
		mb.ManualIntervention = true
	}
	from := mb.RecoveryPhase
	reason := fmt.Sprintf("bounce during %s (relapse %d)", from, mb.RelapseCount)
	t := p.enter(mb, target, enum.MailboxPaused, reason, now)
	until := now.Add(cooldown)
	mb.CooldownUntil = &until
	mb.HealthySince = nil
	mb.PausedReason = reason
	return Step{Transition: t, Relapse: true}
}

// ResetGrace clears relapse and pause counts after the sustained-health grace period.
func (p *Pipeline) ResetGrace(mb *models.MailboxHealth, now time.Time) bool {
	if mb.Status != enum.MailboxHealthy || mb.HealthySince == nil {
		return false
	}
	if now.Sub(*mb.HealthySince) < p.policy.GracePeriod {
		return false
	}
	if mb.RelapseCount == 0 && mb.PauseCount == 0 {
		return false
	}
	mb.RelapseCount = 0
	mb.PauseCount = 0
	return true
}

// InGracePeriod selects the stricter risk thresholds after graduation.
func (p *Pipeline) InGracePeriod(mb *models.MailboxHealth, now time.Time) bool {
	return mb.HealthySince != nil && now.Sub(*mb.HealthySince) < p.policy.GracePeriod
}

func (p *Pipeline) enter(mb *models.MailboxHealth, phase enum.RecoveryPhase, status enum.MailboxStatus, reason string, now time.Time) *health.Transition {
	t := &health.Transition{
		EntityType: mb.EntityType(),
		EntityID:   mb.ID,
		From:       string(mb.Status),
		FromPhase:  mb.RecoveryPhase,
		Reason:     reason,
		At:         now,
	}
	mb.RecoveryPhase = phase
	mb.Status = status
	entered := now
	mb.PhaseEnteredAt = &entered
	mb.PhaseCleanSends = 0
	mb.PhaseBounces = 0
	mb.PhaseSent = 0

	t.To = string(mb.Status)
	t.ToPhase = phase
	return t
}

func cooldownExpired(mb *models.MailboxHealth, now time.Time) bool {
	return mb.CooldownUntil == nil || !now.Before(*mb.CooldownUntil)
}

// phaseBounceRate is measured over the sends of the current phase. The
// rolling windows are reset when a recovery cycle starts, so they cannot
// reach back into the phase.
func phaseBounceRate(mb *models.MailboxHealth) float64 {
	if mb.PhaseSent == 0 {
		return 0
	}
	return float64(mb.PhaseBounces) / float64(mb.PhaseSent)
}
