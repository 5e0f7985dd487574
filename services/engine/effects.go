package engine

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/superkabe/healthstack/dto"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/metrics"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/health"
)

type command struct {
	Type           dto.ProviderCommandType
	OrganizationID string
	MailboxID      string
	CampaignID     string
	DailyLimit     int
	RampUp         int
	Reason         string
}

func (c command) entity() (enum.EntityType, string) {
	if c.MailboxID != "" {
		return enum.MAILBOX, c.MailboxID
	}
	return enum.CAMPAIGN, c.CampaignID
}

func (c command) String() string {
	switch c.Type {
	case dto.CommandPauseCampaign, dto.CommandResumeCampaign:
		return fmt.Sprintf("%s %s", c.Type, c.CampaignID)
	case dto.CommandConfigureWarmup:
		return fmt.Sprintf("%s %s daily=%d ramp=%d", c.Type, c.MailboxID, c.DailyLimit, c.RampUp)
	}
	return fmt.Sprintf("%s %s campaign=%s", c.Type, c.MailboxID, c.CampaignID)
}

// afterMailboxCommit runs once the mailbox write is durable and its lock released.
func (e *Engine) afterMailboxCommit(ctx context.Context, mb *models.MailboxHealth, change *mailboxChange) {
	if mb == nil || change == nil {
		return
	}
	if len(change.transitions) == 0 {
		return
	}

	for _, t := range change.transitions {
		e.recordTransition(ctx, mb.OrganizationID, t, change.operator)
	}

	applied := e.applies(change.operator)
	if applied && change.relapse {
		metrics.HealingRelapses.Inc()
	}

	// campaigns are evaluated while the paused mailbox is still assigned
	if applied && change.statusChanged() {
		e.recomputeDomainQuietly(ctx, mb.DomainID)
		e.cascadeCampaigns(ctx, mb, false)
	}

	for _, campaignID := range change.removeFrom {
		ok := e.issue(ctx, command{
			Type:           dto.CommandRemoveMailbox,
			OrganizationID: mb.OrganizationID,
			MailboxID:      mb.ID,
			CampaignID:     campaignID,
			Reason:         mb.PausedReason,
		}, change.operator)
		if ok {
			if err := e.repos.CampaignMailboxRepository.Unassign(ctx, campaignID, mb.ID); err != nil {
				e.log.Errorf("failed to deactivate assignment %s/%s: %v", campaignID, mb.ID, err)
			}
		}
	}

	if change.warmup != nil {
		e.issue(ctx, command{
			Type:           dto.CommandConfigureWarmup,
			OrganizationID: mb.OrganizationID,
			MailboxID:      mb.ID,
			DailyLimit:     change.warmup.DailyLimit,
			RampUp:         change.warmup.RampUp,
		}, change.operator)
	}

	if change.graduated {
		for _, campaignID := range change.readdTo {
			ok := e.issue(ctx, command{
				Type:           dto.CommandAddMailbox,
				OrganizationID: mb.OrganizationID,
				MailboxID:      mb.ID,
				CampaignID:     campaignID,
				Reason:         "mailbox graduated to healthy",
			}, change.operator)
			if ok {
				if err := e.repos.CampaignMailboxRepository.Assign(ctx, &models.CampaignMailbox{CampaignID: campaignID, MailboxID: mb.ID, Active: true}); err != nil {
					e.log.Errorf("failed to reactivate assignment %s/%s: %v", campaignID, mb.ID, err)
				}
			}
		}
		if applied {
			e.cascadeCampaigns(ctx, mb, true)
		}
	}
}

// recordTransition audits, counts and announces one transition according to the mode.
func (e *Engine) recordTransition(ctx context.Context, organizationID string, t *health.Transition, operator bool) {
	mode := e.Mode()
	log := e.log.With(zap.String("entityType", t.EntityType.String()), zap.String("entityId", t.EntityID))

	if !operator && mode == enum.ModeObserve {
		log.Infof("observe mode, not applied: %s", t)
		return
	}

	action := enum.AuditTransition
	switch {
	case operator:
		action = enum.AuditOperator
	case !mode.Enforcing():
		action = enum.AuditWouldTransition
	}
	e.audit(ctx, &models.AuditEvent{
		OrganizationID: organizationID,
		EntityType:     t.EntityType,
		EntityID:       t.EntityID,
		Action:         action,
		FromState:      stateLabel(t.From, t.FromPhase),
		ToState:        stateLabel(t.To, t.ToPhase),
		Reason:         t.Reason,
		Metadata:       transitionMetadata(t),
		CreatedAt:      t.At,
	})
	if action == enum.AuditWouldTransition {
		log.Infof("suggest mode, not applied: %s", t)
		return
	}

	log.Infof("transition %s", t)
	metrics.Transitions.WithLabelValues(t.EntityType.String(), t.To).Inc()

	kind := dto.NotificationTransition
	if t.FromPhase.InRecovery() && t.ToPhase.Rank() > t.FromPhase.Rank() {
		metrics.HealingGraduations.WithLabelValues(t.ToPhase.String()).Inc()
		if t.ToPhase == enum.PhaseHealthy {
			kind = dto.NotificationGraduation
		}
	}
	e.publisher.PublishNotification(ctx, dto.HealthNotification{
		Kind:           kind,
		OrganizationID: organizationID,
		EntityType:     t.EntityType,
		EntityID:       t.EntityID,
		From:           stateLabel(t.From, t.FromPhase),
		To:             stateLabel(t.To, t.ToPhase),
		Reason:         t.Reason,
		SystemMode:     mode,
		At:             t.At,
	})
}

// issue sends a provider command when the mode allows it. A failed command
// leaves internal state as decided and raises an alert.
func (e *Engine) issue(ctx context.Context, cmd command, operator bool) bool {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.issue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, cmd.OrganizationID)
	span.SetTag("command", string(cmd.Type))

	entityType, entityID := cmd.entity()
	mode := e.Mode()
	if !e.applies(operator) {
		if mode == enum.ModeSuggest {
			e.audit(ctx, &models.AuditEvent{
				OrganizationID: cmd.OrganizationID,
				EntityType:     entityType,
				EntityID:       entityID,
				Action:         enum.AuditWouldCommand,
				Reason:         cmd.String(),
				Metadata:       commandMetadata(cmd),
			})
		} else {
			e.log.Infof("observe mode, would issue %s", cmd)
		}
		return false
	}

	if err := e.send(ctx, cmd); err != nil {
		tracing.TraceErr(span, err)
		reason := fmt.Sprintf("%s failed, provider state may have drifted: %v", cmd, err)
		e.log.Errorf("provider command %s", reason)
		e.audit(ctx, &models.AuditEvent{
			OrganizationID: cmd.OrganizationID,
			EntityType:     entityType,
			EntityID:       entityID,
			Action:         enum.AuditAlert,
			Reason:         reason,
			Metadata:       commandMetadata(cmd),
		})
		e.publisher.PublishNotification(ctx, dto.HealthNotification{
			Kind:           dto.NotificationAlert,
			OrganizationID: cmd.OrganizationID,
			EntityType:     entityType,
			EntityID:       entityID,
			Reason:         reason,
			SystemMode:     mode,
			At:             e.clock(),
		})
		return false
	}

	e.audit(ctx, &models.AuditEvent{
		OrganizationID: cmd.OrganizationID,
		EntityType:     entityType,
		EntityID:       entityID,
		Action:         enum.AuditCommand,
		Reason:         cmd.String(),
		Metadata:       commandMetadata(cmd),
	})
	return true
}

func (e *Engine) send(ctx context.Context, cmd command) error {
	switch cmd.Type {
	case dto.CommandPauseCampaign:
		return e.commander.PauseCampaign(ctx, cmd.OrganizationID, cmd.CampaignID, cmd.Reason)
	case dto.CommandResumeCampaign:
		return e.commander.ResumeCampaign(ctx, cmd.OrganizationID, cmd.CampaignID)
	case dto.CommandRemoveMailbox:
		return e.commander.RemoveMailboxFromCampaign(ctx, cmd.OrganizationID, cmd.MailboxID, cmd.CampaignID)
	case dto.CommandAddMailbox:
		return e.commander.AddMailboxToCampaign(ctx, cmd.OrganizationID, cmd.MailboxID, cmd.CampaignID)
	case dto.CommandConfigureWarmup:
		return e.commander.ConfigureWarmup(ctx, cmd.OrganizationID, cmd.MailboxID, cmd.DailyLimit, cmd.RampUp)
	}
	return fmt.Errorf("unknown provider command %s", cmd.Type)
}

func (e *Engine) audit(ctx context.Context, event *models.AuditEvent) {
	event.SystemMode = e.Mode()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.clock()
	}
	if err := e.repos.AuditRepository.Append(ctx, event); err != nil {
		e.log.Errorf("failed to append audit event for %s %s: %v", event.EntityType, event.EntityID, err)
	}
}

func stateLabel(status string, phase enum.RecoveryPhase) string {
	if phase == "" || phase == enum.PhaseNone {
		return status
	}
	return status + "/" + phase.String()
}

func transitionMetadata(t *health.Transition) models.JSONMap {
	m := models.JSONMap{"from": t.From, "to": t.To}
	if t.FromPhase != "" || t.ToPhase != "" {
		m["fromPhase"] = t.FromPhase.String()
		m["toPhase"] = t.ToPhase.String()
	}
	return m
}

func commandMetadata(cmd command) models.JSONMap {
	m := models.JSONMap{"command": string(cmd.Type)}
	if cmd.MailboxID != "" {
		m["mailboxId"] = cmd.MailboxID
	}
	if cmd.CampaignID != "" {
		m["campaignId"] = cmd.CampaignID
	}
	if cmd.Type == dto.CommandConfigureWarmup {
		m["dailyLimit"] = cmd.DailyLimit
		m["rampUp"] = cmd.RampUp
	}
	return m
}
