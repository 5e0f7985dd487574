package health

import (
	"fmt"
	"time"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
)

// DomainRatio is the pure recompute of a domain's unhealthy mailbox ratio.
func DomainRatio(statuses []enum.MailboxStatus) (total, unhealthy int, ratio float64) {
	total = len(statuses)
	for _, s := range statuses {
		if s.Unhealthy() {
			unhealthy++
		}
	}
	if total == 0 {
		return 0, 0, 0
	}
	return total, unhealthy, float64(unhealthy) / float64(total)
}

// DomainStatusFor maps a ratio and blacklist state to a domain status.
func DomainStatusFor(ratio float64, blacklisted bool, th Thresholds) enum.DomainStatus {
	switch {
	case ratio >= th.DomainPauseRatio:
		return enum.DomainPaused
	case ratio >= th.DomainWarningRatio || blacklisted:
		return enum.DomainWarning
	}
	return enum.DomainHealthy
}

// EvaluateDomain recomputes counters and status from the owned mailbox statuses.
func EvaluateDomain(d *models.DomainHealth, statuses []enum.MailboxStatus, th Thresholds, now time.Time) *Transition {
	total, unhealthy, ratio := DomainRatio(statuses)
	d.TotalMailboxes = total
	d.UnhealthyMailboxes = unhealthy
	d.UnhealthyMailboxRatio = ratio

	next := DomainStatusFor(ratio, d.Blacklisted, th)
	if next == d.Status {
		return nil
	}
	from := string(d.Status)
	d.Status = next

	reason := fmt.Sprintf("%d of %d mailboxes unhealthy (%.0f%%)", unhealthy, total, ratio*100)
	if next == enum.DomainWarning && d.Blacklisted && ratio < th.DomainWarningRatio {
		reason = "domain listed on a major blacklist"
	}
	return newTransition(d, from, reason, now)
}

// EvaluateCampaign only pauses. Resuming happens through ResumeCampaign or an operator.
func EvaluateCampaign(c *models.CampaignHealth, mailboxStatuses []enum.MailboxStatus, th Thresholds, now time.Time) *Transition {
	if c.Status != enum.CampaignActive {
		return nil
	}

	var reason string
	if len(mailboxStatuses) > 0 {
		unhealthy := 0
		for _, s := range mailboxStatuses {
			if s.Unhealthy() {
				unhealthy++
			}
		}
		if unhealthy == len(mailboxStatuses) {
			reason = fmt.Sprintf("all %d assigned mailboxes are paused or disconnected", unhealthy)
		}
	}
	if reason == "" && c.RollingSentCount >= th.MinSample && c.BounceRate() > th.CampaignPauseBounceRate {
		reason = fmt.Sprintf("bounce rate %.1f%% over last %d sends exceeds %.0f%%",
			c.BounceRate()*100, c.RollingSentCount, th.CampaignPauseBounceRate*100)
	}
	if reason == "" {
		return nil
	}

	from := string(c.Status)
	c.Status = enum.CampaignPaused
	c.PausedReason = reason
	c.PausedManually = false
	return newTransition(c, from, reason, now)
}

// ResumeCampaign reactivates an auto-paused campaign. Manual pauses are kept.
func ResumeCampaign(c *models.CampaignHealth, reason string, now time.Time) *Transition {
	if c.Status != enum.CampaignPaused || c.PausedManually {
		return nil
	}
	from := string(c.Status)
	c.Status = enum.CampaignActive
	c.PausedReason = ""
	c.RollingSentCount = 0
	c.RollingBounceCount = 0
	return newTransition(c, from, reason, now)
}

// PauseCampaignManually is the operator pause; it is never lifted automatically.
func PauseCampaignManually(c *models.CampaignHealth, reason string, now time.Time) *Transition {
	if c.Status == enum.CampaignCompleted || (c.Status == enum.CampaignPaused && c.PausedManually) {
		return nil
	}
	from := string(c.Status)
	c.Status = enum.CampaignPaused
	c.PausedManually = true
	c.PausedReason = reason
	return newTransition(c, from, reason, now)
}

// ResumeCampaignManually lifts any pause.
func ResumeCampaignManually(c *models.CampaignHealth, reason string, now time.Time) *Transition {
	if c.Status != enum.CampaignPaused {
		return nil
	}
	from := string(c.Status)
	c.Status = enum.CampaignActive
	c.PausedManually = false
	c.PausedReason = ""
	return newTransition(c, from, reason, now)
}
