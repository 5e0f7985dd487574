package health

import (
	"fmt"
	"time"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/services/risk"
)

// CooldownPolicy yields the cooldown after the n-th pause and whether an
// operator has to look at the mailbox.
type CooldownPolicy interface {
	PauseCooldown(pauseCount int) (time.Duration, bool)
}

type MailboxMachine struct {
	cooldowns CooldownPolicy
}

func NewMailboxMachine(cooldowns CooldownPolicy) *MailboxMachine {
	return &MailboxMachine{cooldowns: cooldowns}
}

// ApplySignal moves a mailbox outside the recovery pipeline according to its
// risk evaluation. Disconnected and recovering mailboxes are left alone.
func (m *MailboxMachine) ApplySignal(mb *models.MailboxHealth, eval risk.Evaluation, now time.Time) *Transition {
	if mb.Status == enum.MailboxDisconnected || mb.RecoveryPhase.InRecovery() {
		return nil
	}

	from, fromPhase := string(mb.Status), mb.RecoveryPhase
	switch {
	case eval.Signal == enum.SignalPause:
		reason := fmt.Sprintf("%d weighted bounces in last %d sends reached the pause threshold", eval.PauseBounces, eval.PauseSent)
		m.enterPause(mb, reason, now)
	case eval.Signal == enum.SignalWarning && mb.Status == enum.MailboxHealthy:
		mb.Status = enum.MailboxWarning
	case eval.Signal == enum.SignalNone && eval.Evaluable && mb.Status == enum.MailboxWarning:
		mb.Status = enum.MailboxHealthy
	default:
		return nil
	}

	var reason string
	switch mb.Status {
	case enum.MailboxWarning:
		reason = fmt.Sprintf("%d weighted bounces in last %d sends reached the warning threshold", eval.WarningBounces, eval.WarningSent)
	case enum.MailboxHealthy:
		reason = fmt.Sprintf("bounces fell below the warning threshold (%d in last %d sends)", eval.WarningBounces, eval.WarningSent)
	default:
		reason = mb.PausedReason
	}
	t := newTransition(mb, from, reason, now)
	t.FromPhase, t.ToPhase = fromPhase, mb.RecoveryPhase
	return t
}

// Pause forces a mailbox into the paused phase, e.g. on operator request.
func (m *MailboxMachine) Pause(mb *models.MailboxHealth, reason string, now time.Time) *Transition {
	if mb.Status == enum.MailboxDisconnected || mb.RecoveryPhase == enum.PhasePaused {
		return nil
	}
	from, fromPhase := string(mb.Status), mb.RecoveryPhase
	m.enterPause(mb, reason, now)
	t := newTransition(mb, from, reason, now)
	t.FromPhase, t.ToPhase = fromPhase, mb.RecoveryPhase
	return t
}

// Disconnect wins over any bounce based state.
func (m *MailboxMachine) Disconnect(mb *models.MailboxHealth, reason string, now time.Time) *Transition {
	if mb.Status == enum.MailboxDisconnected {
		return nil
	}
	from, fromPhase := string(mb.Status), mb.RecoveryPhase
	mb.Status = enum.MailboxDisconnected
	mb.RecoveryPhase = enum.PhasePaused
	mb.CooldownUntil = nil
	mb.HealthySince = nil
	mb.PausedReason = "connectivity: " + reason
	resetPhase(mb, now)

	t := newTransition(mb, from, mb.PausedReason, now)
	t.FromPhase, t.ToPhase = fromPhase, mb.RecoveryPhase
	return t
}

// Reconnect sends a disconnected mailbox into the healing pipeline at paused.
func (m *MailboxMachine) Reconnect(mb *models.MailboxHealth, now time.Time) *Transition {
	if mb.Status != enum.MailboxDisconnected {
		return nil
	}
	from, fromPhase := string(mb.Status), mb.RecoveryPhase
	reason := "connectivity restored, entering recovery at paused"
	m.enterPause(mb, reason, now)
	t := newTransition(mb, from, reason, now)
	t.FromPhase, t.ToPhase = fromPhase, mb.RecoveryPhase
	return t
}

// enterPause takes the cooldown from the pause count. Relapses inside recovery have their own ladder.
func (m *MailboxMachine) enterPause(mb *models.MailboxHealth, reason string, now time.Time) {
	mb.PauseCount++
	cooldown, manual := m.cooldowns.PauseCooldown(mb.PauseCount)
	until := now.Add(cooldown)

	mb.Status = enum.MailboxPaused
	mb.RecoveryPhase = enum.PhasePaused
	mb.CooldownUntil = &until
	mb.HealthySince = nil
	mb.PausedReason = reason
	if manual {
		mb.ManualIntervention = true
	}
	resetPhase(mb, now)
}

func resetPhase(mb *models.MailboxHealth, now time.Time) {
	entered := now
	mb.PhaseEnteredAt = &entered
	mb.PhaseCleanSends = 0
	mb.PhaseBounces = 0
	mb.PhaseSent = 0
}
