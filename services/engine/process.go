package engine

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/distlock"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/metrics"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services/healing"
	"github.com/superkabe/healthstack/services/health"
)

// ProcessDeliveryEvent applies one persisted delivery event. Events of the
// same mailbox are serialized by the mailbox lock; a processed event is skipped.
func (e *Engine) ProcessDeliveryEvent(ctx context.Context, deliveryEventID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.ProcessDeliveryEvent")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag(tracing.SpanTagEntityId, deliveryEventID)

	started := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(started).Seconds())
	}()

	event, err := e.repos.DeliveryEventRepository.GetByID(ctx, deliveryEventID)
	if err != nil {
		if errors.Is(err, hserrors.ErrNotFound) {
			e.log.Warnf("delivery event %s not found, skipping", deliveryEventID)
			return nil
		}
		tracing.TraceErr(span, err)
		return err
	}
	if event.ProcessedAt != nil {
		span.LogKV("skipped", "already processed")
		return nil
	}
	tracing.TagTenant(span, event.OrganizationID)

	release, err := e.locker.Lock(ctx, distlock.MailboxKey(event.MailboxID))
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	mb, change, moved, err := e.applyEvent(ctx, event)
	if err == nil {
		e.gate.UpsertMailbox(mb)
	}
	release()
	if err != nil {
		if errors.Is(err, hserrors.ErrMailboxNotFound) {
			e.log.Warnf("mailbox %s of delivery event %s is gone, dropping event", event.MailboxID, event.ID)
			return e.repos.DeliveryEventRepository.MarkProcessed(ctx, event.ID, e.clock())
		}
		tracing.TraceErr(span, err)
		return err
	}

	e.afterMailboxCommit(ctx, mb, change)

	if moved && event.CampaignID != "" {
		if _, err := e.evaluateCampaign(ctx, event.CampaignID, false); err != nil && !errors.Is(err, hserrors.ErrCampaignNotFound) {
			e.log.Errorf("failed to evaluate campaign %s after event %s: %v", event.CampaignID, event.ID, err)
		}
	}

	// a lost mark is caught by Applied on redelivery
	if err := e.repos.DeliveryEventRepository.MarkProcessed(ctx, event.ID, e.clock()); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogKV("moved", moved, "transitions", len(change.transitions))
	return nil
}

// applyEvent runs under the mailbox lock.
func (e *Engine) applyEvent(ctx context.Context, event *models.DeliveryEvent) (*models.MailboxHealth, *mailboxChange, bool, error) {
	current, err := e.repos.MailboxHealthRepository.GetByID(ctx, event.MailboxID)
	if err != nil {
		return nil, nil, false, err
	}
	if current.WindowsResetAt != nil {
		e.tracker.SetWindowStart(current.ID, *current.WindowsResetAt)
	}

	// committed by an earlier attempt that failed to mark the event processed
	if e.tracker.Applied(event) {
		return current, &mailboxChange{}, false, nil
	}

	// the windows move exactly once per event, retries below only rewrite the record
	moved, err := e.tracker.Observe(ctx, event)
	if err != nil {
		return nil, nil, false, err
	}
	weight, _ := e.tracker.Thresholds().Weight(event.Type, event.CountsTowardRisk, event.RiskWeight)

	mb, change, err := e.updateMailbox(ctx, event.MailboxID, func(ctx context.Context, mb *models.MailboxHealth) (*mailboxChange, error) {
		change := &mailboxChange{}
		now := e.clock()

		if event.Type == enum.EventSent {
			mb.RecordSend(event.OccurredAt)
			change.dirty = true
		}
		if !moved {
			return change, nil
		}
		mb.RollingSentCount, mb.RollingBounceCount = e.tracker.MailboxCounts(mb.ID)
		change.dirty = true

		if mb.RecoveryPhase.Sending() {
			var step healing.Step
			t := e.stepMailbox(mb, false, func(next *models.MailboxHealth) *health.Transition {
				step = e.pipeline.RecordOutcome(next, weight, now)
				return step.Transition
			})
			if t != nil {
				change.add(t)
				change.relapse = step.Relapse
				e.startNewCycle(mb, change, now)
			}
			return change, nil
		}

		eval := e.tracker.EvaluateMailbox(mb.ID, e.pipeline.InGracePeriod(mb, now))
		t := e.stepMailbox(mb, false, func(next *models.MailboxHealth) *health.Transition {
			return e.machine.ApplySignal(next, eval, now)
		})
		if t != nil {
			change.add(t)
			if leftService(t) {
				if err := e.detachCampaigns(ctx, mb, change); err != nil {
					return nil, err
				}
				e.startNewCycle(mb, change, now)
			}
		}
		return change, nil
	})
	if err != nil {
		if moved {
			e.tracker.Discard(event)
		}
		return nil, nil, false, err
	}
	return mb, change, moved, nil
}

// leftService is true when a mailbox stops sending.
func leftService(t *health.Transition) bool {
	from, to := enum.MailboxStatus(t.From), enum.MailboxStatus(t.To)
	return to.Unhealthy() && !from.Unhealthy()
}

// detachCampaigns plans the removal of a mailbox from its active campaigns
// and remembers them for the re-add at graduation.
func (e *Engine) detachCampaigns(ctx context.Context, mb *models.MailboxHealth, change *mailboxChange) error {
	assignments, err := e.repos.CampaignMailboxRepository.ListByMailbox(ctx, mb.ID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		change.removeFrom = append(change.removeFrom, a.CampaignID)
		if e.applies(change.operator) && !utils.IsStringInSlice(a.CampaignID, mb.ExternalCampaignIDs) {
			mb.ExternalCampaignIDs = append(mb.ExternalCampaignIDs, a.CampaignID)
		}
	}
	return nil
}

// startNewCycle empties the risk windows so recovery is judged on fresh sends.
func (e *Engine) startNewCycle(mb *models.MailboxHealth, change *mailboxChange, now time.Time) {
	if !e.applies(change.operator) {
		return
	}
	at := now
	mb.WindowsResetAt = &at
	mb.RollingSentCount, mb.RollingBounceCount = 0, 0
	change.resetAt = &at
}

// ReplayUnprocessed re-runs events that were persisted but never applied,
// e.g. because the queue message was lost.
func (e *Engine) ReplayUnprocessed(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.ReplayUnprocessed")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	events, err := e.repos.DeliveryEventRepository.ListUnprocessed(ctx, e.clock().Add(-olderThan), limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	replayed := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		if err := e.ProcessDeliveryEvent(ctx, event.ID); err != nil {
			e.log.With(zap.String("deliveryEventId", event.ID)).Errorf("replay failed: %v", err)
			continue
		}
		replayed++
	}
	span.LogKV("replayed", replayed)
	return replayed, nil
}
