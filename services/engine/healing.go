package engine

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/healing"
	"github.com/superkabe/healthstack/services/health"
)

type TickResult struct {
	Evaluated int `json:"evaluated"`
	Advanced  int `json:"advanced"`
	Held      int `json:"held"`
	Failed    int `json:"failed"`
}

// HealingTick advances every recovering mailbox by at most one phase.
func (e *Engine) HealingTick(ctx context.Context) (TickResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.HealingTick")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var result TickResult
	mailboxes, err := e.repos.MailboxHealthRepository.ListInRecovery(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return result, err
	}

	checks := make(map[string]healing.QuarantineCheck)
	for _, mb := range mailboxes {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Evaluated++

		var check healing.QuarantineCheck
		if mb.RecoveryPhase == enum.PhaseQuarantine {
			check = e.quarantineCheck(ctx, mb.DomainID, checks)
		}
		step, err := e.AdvanceMailbox(ctx, mb.ID, check)
		switch {
		case err != nil:
			result.Failed++
			e.log.With(zap.String("mailboxId", mb.ID)).Errorf("healing step failed: %v", err)
		case step.Transition != nil:
			result.Advanced++
		case step.Held != "":
			result.Held++
		}
	}

	span.LogKV("evaluated", result.Evaluated, "advanced", result.Advanced, "held", result.Held)
	if result.Advanced > 0 || result.Failed > 0 {
		e.log.Infof("healing tick: %d evaluated, %d advanced, %d held, %d failed", result.Evaluated, result.Advanced, result.Held, result.Failed)
	}
	return result, nil
}

// AdvanceMailbox runs one pipeline evaluation under the mailbox lock.
func (e *Engine) AdvanceMailbox(ctx context.Context, mailboxID string, check healing.QuarantineCheck) (healing.Step, error) {
	var step healing.Step
	_, _, err := e.withMailbox(ctx, mailboxID, func(_ context.Context, mb *models.MailboxHealth) (*mailboxChange, error) {
		change := &mailboxChange{}
		now := e.clock()
		var readd []string
		t := e.stepMailbox(mb, false, func(next *models.MailboxHealth) *health.Transition {
			step = e.pipeline.Advance(next, check, now)
			if step.Graduated {
				readd = append(readd, next.ExternalCampaignIDs...)
				next.ExternalCampaignIDs = nil
			}
			return step.Transition
		})
		if step.Held != "" {
			e.log.With(zap.String("mailboxId", mb.ID)).Debugf("recovery held at %s: %s", mb.RecoveryPhase, step.Held)
		}
		if t == nil {
			return change, nil
		}
		change.add(t)
		change.warmup = step.Warmup
		change.graduated = step.Graduated
		change.readdTo = readd
		return change, nil
	})
	return step, err
}

// quarantineCheck builds the verdict of a domain once per tick, refreshing
// stale DNS data first.
func (e *Engine) quarantineCheck(ctx context.Context, domainID string, cache map[string]healing.QuarantineCheck) healing.QuarantineCheck {
	if check, ok := cache[domainID]; ok {
		return check
	}
	policy := e.pipeline.Policy()
	now := e.clock()

	d, err := e.repos.DomainHealthRepository.GetByID(ctx, domainID)
	if err != nil && !errors.Is(err, hserrors.ErrDomainNotFound) {
		e.log.Errorf("failed to load domain %s: %v", domainID, err)
		return healing.QuarantineCheck{Reason: "domain unavailable"}
	}
	if d != nil && policy.NeedsDNSRefresh(d, now) && e.dns != nil {
		if refreshed, err := e.RefreshDomain(ctx, domainID); err != nil {
			e.log.Warnf("dns refresh of domain %s failed: %v", domainID, err)
		} else {
			d = refreshed
		}
	}

	check := policy.CheckDomain(d, now)
	cache[domainID] = check
	return check
}

// ResetGraceTick clears relapse history of mailboxes healthy for the whole grace period.
func (e *Engine) ResetGraceTick(ctx context.Context) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.ResetGraceTick")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	now := e.clock()
	candidates, err := e.repos.MailboxHealthRepository.ListGraceCandidates(ctx, now.Add(-e.pipeline.Policy().GracePeriod))
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	reset := 0
	for _, candidate := range candidates {
		var relapses, pauses int
		mb, change, err := e.withMailbox(ctx, candidate.ID, func(_ context.Context, mb *models.MailboxHealth) (*mailboxChange, error) {
			relapses, pauses = mb.RelapseCount, mb.PauseCount
			return &mailboxChange{dirty: e.pipeline.ResetGrace(mb, now)}, nil
		})
		if err != nil {
			e.log.With(zap.String("mailboxId", candidate.ID)).Errorf("grace reset failed: %v", err)
			continue
		}
		if !change.dirty {
			continue
		}
		reset++
		e.audit(ctx, &models.AuditEvent{
			OrganizationID: mb.OrganizationID,
			EntityType:     enum.MAILBOX,
			EntityID:       mb.ID,
			Action:         enum.AuditTransition,
			FromState:      fmt.Sprintf("relapses=%d pauses=%d", relapses, pauses),
			ToState:        "relapses=0 pauses=0",
			Reason:         fmt.Sprintf("healthy since %s, recovery history cleared", mb.HealthySince.Format("2006-01-02")),
		})
	}
	span.LogKV("reset", reset)
	return reset, nil
}

// CheckConnectivity probes all mailbox connections and applies the outcome.
func (e *Engine) CheckConnectivity(ctx context.Context) (int, error) {
	if e.connectivity == nil {
		return 0, nil
	}
	results, err := e.connectivity.CheckAll(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, r := range results {
		t, err := e.ApplyConnectivity(ctx, r.MailboxID, r.OK, r.Reason)
		if err != nil {
			if !errors.Is(err, hserrors.ErrMailboxNotFound) {
				e.log.With(zap.String("mailboxId", r.MailboxID)).Errorf("failed to apply connectivity result: %v", err)
			}
			continue
		}
		if t != nil {
			changed++
		}
	}
	return changed, nil
}

// ApplyConnectivity disconnects a mailbox that failed its probe and sends a
// reconnected one into recovery at paused.
func (e *Engine) ApplyConnectivity(ctx context.Context, mailboxID string, ok bool, reason string) (*health.Transition, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.ApplyConnectivity")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, mailboxID)

	var applied *health.Transition
	_, _, err := e.withMailbox(ctx, mailboxID, func(ctx context.Context, mb *models.MailboxHealth) (*mailboxChange, error) {
		change := &mailboxChange{}
		now := e.clock()
		t := e.stepMailbox(mb, false, func(next *models.MailboxHealth) *health.Transition {
			if ok {
				return e.machine.Reconnect(next, now)
			}
			return e.machine.Disconnect(next, reason, now)
		})
		if t == nil {
			return change, nil
		}
		applied = t
		change.add(t)
		if leftService(t) {
			if err := e.detachCampaigns(ctx, mb, change); err != nil {
				return nil, err
			}
			e.startNewCycle(mb, change, now)
		}
		return change, nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return applied, nil
}
