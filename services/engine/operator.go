package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/superkabe/healthstack/dto"
	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services/balancer"
	"github.com/superkabe/healthstack/services/health"
	"github.com/superkabe/healthstack/services/risk"
)

// MailboxInput is the provider-side view of a mailbox pushed by the sync.
type MailboxInput struct {
	ID             string
	OrganizationID string
	Email          string
	Active         *bool
	Connection     *models.MailboxConnection
}

// UpsertMailbox registers or updates a mailbox and its domain. Health state
// is never touched here.
func (e *Engine) UpsertMailbox(ctx context.Context, in MailboxInput) (*models.MailboxHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.UpsertMailbox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, in.OrganizationID)
	tracing.TagEntity(span, in.ID)

	email := utils.NormalizeEmail(in.Email)
	validation := mailvalidate.ValidateEmailSyntax(email)
	if in.ID == "" || !validation.IsValid {
		err := errors.Wrapf(hserrors.ErrInvalidMailbox, "id %q email %q", in.ID, in.Email)
		tracing.TraceErr(span, err)
		return nil, err
	}

	domain, err := e.ensureDomain(ctx, in.OrganizationID, utils.ExtractDomainFromEmail(email))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	previousDomainID := ""
	existing, err := e.repos.MailboxHealthRepository.GetByID(ctx, in.ID)
	switch {
	case errors.Is(err, hserrors.ErrMailboxNotFound):
		mb := &models.MailboxHealth{
			ID:             in.ID,
			OrganizationID: in.OrganizationID,
			Email:          email,
			DomainID:       domain.ID,
			Status:         enum.MailboxHealthy,
			RecoveryPhase:  enum.PhaseNone,
			Active:         utils.GetOrDefault(in.Active, true),
		}
		if err := e.repos.MailboxHealthRepository.Create(ctx, mb); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		e.log.Infof("registered mailbox %s (%s) on domain %s", mb.ID, mb.Email, domain.Domain)
	case err != nil:
		tracing.TraceErr(span, err)
		return nil, err
	case existing.OrganizationID != in.OrganizationID:
		return nil, hserrors.ErrMailboxNotFound
	default:
		previousDomainID = existing.DomainID
		_, _, err = e.withMailbox(ctx, in.ID, func(_ context.Context, mb *models.MailboxHealth) (*mailboxChange, error) {
			mb.Email = email
			mb.DomainID = domain.ID
			if in.Active != nil {
				mb.Active = *in.Active
			}
			return &mailboxChange{dirty: true}, nil
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	if in.Connection != nil {
		in.Connection.MailboxID = in.ID
		if err := e.repos.MailboxConnectionRepository.Save(ctx, in.Connection); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	mb, err := e.repos.MailboxHealthRepository.GetByID(ctx, in.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	e.gate.UpsertMailbox(mb)
	e.recomputeDomainQuietly(ctx, domain.ID)
	if previousDomainID != "" && previousDomainID != domain.ID {
		e.recomputeDomainQuietly(ctx, previousDomainID)
	}
	return mb, nil
}

func (e *Engine) ensureDomain(ctx context.Context, organizationID, name string) (*models.DomainHealth, error) {
	if name == "" {
		return nil, errors.Wrap(hserrors.ErrInvalidMailbox, "email has no domain")
	}
	domains, err := e.repos.DomainHealthRepository.List(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	for _, d := range domains {
		if strings.EqualFold(d.Domain, name) {
			return d, nil
		}
	}
	d := &models.DomainHealth{
		ID:             utils.GenerateNanoIDWithPrefix("dom", 16),
		OrganizationID: organizationID,
		Domain:         name,
		Status:         enum.DomainHealthy,
	}
	if err := e.repos.DomainHealthRepository.Create(ctx, d); err != nil {
		return nil, err
	}
	e.gate.UpsertDomain(d)
	return d, nil
}

type CampaignInput struct {
	ID             string
	OrganizationID string
	Name           string
	Completed      bool
}

func (e *Engine) UpsertCampaign(ctx context.Context, in CampaignInput) (*models.CampaignHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.UpsertCampaign")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, in.OrganizationID)
	tracing.TagEntity(span, in.ID)

	if in.ID == "" {
		return nil, errors.Wrap(hserrors.ErrCampaignNotFound, "campaign id is required")
	}

	existing, err := e.repos.CampaignHealthRepository.GetByID(ctx, in.ID)
	if errors.Is(err, hserrors.ErrCampaignNotFound) {
		c := &models.CampaignHealth{ID: in.ID, OrganizationID: in.OrganizationID, Name: in.Name, Status: enum.CampaignActive}
		if in.Completed {
			c.Status = enum.CampaignCompleted
		}
		if err := e.repos.CampaignHealthRepository.Create(ctx, c); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		e.gate.UpsertCampaign(c)
		return c, nil
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing.OrganizationID != in.OrganizationID {
		return nil, hserrors.ErrCampaignNotFound
	}

	c, _, err := e.updateCampaign(ctx, in.ID, func(_ context.Context, c *models.CampaignHealth) (*health.Transition, bool, error) {
		c.Name = in.Name
		if in.Completed {
			c.Status = enum.CampaignCompleted
		}
		return nil, true, nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	e.gate.UpsertCampaign(c)
	return c, nil
}

// SetCampaignAssignments makes mailboxIDs the full assignment set of a campaign.
func (e *Engine) SetCampaignAssignments(ctx context.Context, organizationID, campaignID string, mailboxIDs []string) (*models.CampaignHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.SetCampaignAssignments")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, organizationID)
	tracing.TagEntity(span, campaignID)

	if _, err := e.campaignOfOrganization(ctx, organizationID, campaignID); err != nil {
		return nil, err
	}
	for _, id := range mailboxIDs {
		if _, err := e.mailboxOfOrganization(ctx, organizationID, id); err != nil {
			return nil, errors.Wrapf(err, "mailbox %s", id)
		}
	}
	if err := e.repos.CampaignMailboxRepository.ReplaceForCampaign(ctx, campaignID, mailboxIDs); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return e.evaluateCampaign(ctx, campaignID, false)
}

// PauseCampaign is the manual pause; it is never lifted automatically.
func (e *Engine) PauseCampaign(ctx context.Context, organizationID, campaignID, reason string) (*models.CampaignHealth, error) {
	if reason == "" {
		reason = "paused by operator"
	}
	return e.operateCampaign(ctx, organizationID, campaignID, dto.CommandPauseCampaign, func(c *models.CampaignHealth) *health.Transition {
		return health.PauseCampaignManually(c, reason, e.clock())
	})
}

func (e *Engine) ResumeCampaign(ctx context.Context, organizationID, campaignID, reason string) (*models.CampaignHealth, error) {
	if reason == "" {
		reason = "resumed by operator"
	}
	return e.operateCampaign(ctx, organizationID, campaignID, dto.CommandResumeCampaign, func(c *models.CampaignHealth) *health.Transition {
		t := health.ResumeCampaignManually(c, reason, e.clock())
		if t != nil {
			c.RollingSentCount, c.RollingBounceCount = 0, 0
		}
		return t
	})
}

func (e *Engine) operateCampaign(ctx context.Context, organizationID, campaignID string, cmdType dto.ProviderCommandType,
	fn func(c *models.CampaignHealth) *health.Transition) (*models.CampaignHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.operateCampaign")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, organizationID)
	tracing.TagEntity(span, campaignID)
	span.SetTag("command", string(cmdType))

	if _, err := e.campaignOfOrganization(ctx, organizationID, campaignID); err != nil {
		return nil, err
	}
	c, t, err := e.updateCampaign(ctx, campaignID, func(_ context.Context, c *models.CampaignHealth) (*health.Transition, bool, error) {
		t := fn(c)
		return t, t != nil, nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	e.gate.UpsertCampaign(c)
	if t == nil {
		return c, nil
	}
	if cmdType == dto.CommandResumeCampaign {
		e.tracker.ResetAggregate(risk.Key{Type: enum.CAMPAIGN, ID: c.ID})
	}
	e.recordTransition(ctx, organizationID, t, true)
	e.issue(ctx, command{Type: cmdType, OrganizationID: organizationID, CampaignID: c.ID, Reason: t.Reason}, true)
	return c, nil
}

// ClearIntervention lifts the manual intervention flag so a blocked mailbox can heal.
func (e *Engine) ClearIntervention(ctx context.Context, organizationID, mailboxID string) (*models.MailboxHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.ClearIntervention")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, organizationID)
	tracing.TagEntity(span, mailboxID)

	if _, err := e.mailboxOfOrganization(ctx, organizationID, mailboxID); err != nil {
		return nil, err
	}
	mb, change, err := e.withMailbox(ctx, mailboxID, func(_ context.Context, mb *models.MailboxHealth) (*mailboxChange, error) {
		if !mb.ManualIntervention {
			return nil, nil
		}
		mb.ManualIntervention = false
		return &mailboxChange{dirty: true, operator: true}, nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if change.dirty {
		e.audit(ctx, &models.AuditEvent{
			OrganizationID: organizationID,
			EntityType:     enum.MAILBOX,
			EntityID:       mailboxID,
			Action:         enum.AuditOperator,
			FromState:      stateLabel(string(mb.Status), mb.RecoveryPhase),
			ToState:        stateLabel(string(mb.Status), mb.RecoveryPhase),
			Reason:         "manual intervention cleared",
		})
	}
	return mb, nil
}

// ReportConnectivity applies an externally observed connectivity result.
func (e *Engine) ReportConnectivity(ctx context.Context, organizationID, mailboxID string, ok bool, reason string) (*models.MailboxHealth, error) {
	if _, err := e.mailboxOfOrganization(ctx, organizationID, mailboxID); err != nil {
		return nil, err
	}
	if !ok && reason == "" {
		reason = "reported unreachable"
	}
	if _, err := e.ApplyConnectivity(ctx, mailboxID, ok, reason); err != nil {
		return nil, err
	}
	return e.repos.MailboxHealthRepository.GetByID(ctx, mailboxID)
}

// GenerateLoadBalancing builds the load balancing report of an organization
// and, in ENFORCE mode, applies the suggestions that may run unattended.
func (e *Engine) GenerateLoadBalancing(ctx context.Context, organizationID string) (*balancer.Report, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.GenerateLoadBalancing")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, organizationID)

	report, err := e.advisor.Generate(ctx, organizationID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	mode := e.Mode()
	for _, s := range report.Suggestions {
		if !balancer.AutoApplicable(s, mode) {
			continue
		}
		if _, err := e.applySuggestion(ctx, s, false); err != nil {
			e.log.Warnf("auto-apply of suggestion %s failed: %v", s.ID, err)
		}
	}
	return report, nil
}

// GenerateAllLoadBalancing runs the advisor for every organization with a domain.
func (e *Engine) GenerateAllLoadBalancing(ctx context.Context) (int, error) {
	domains, err := e.repos.DomainHealthRepository.List(ctx, "")
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	for _, d := range domains {
		if seen[d.OrganizationID] {
			continue
		}
		seen[d.OrganizationID] = true
		if _, err := e.GenerateLoadBalancing(ctx, d.OrganizationID); err != nil {
			e.log.Errorf("load balancing for %s failed: %v", d.OrganizationID, err)
		}
	}
	return len(seen), nil
}

// ApplySuggestion applies a pending suggestion on operator request.
func (e *Engine) ApplySuggestion(ctx context.Context, organizationID, suggestionID string) (*models.LoadBalancingSuggestion, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.ApplySuggestion")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, organizationID)
	tracing.TagEntity(span, suggestionID)

	s, err := e.repos.SuggestionRepository.GetByID(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if s.OrganizationID != organizationID {
		return nil, hserrors.ErrSuggestionNotFound
	}
	if s.Status != enum.SuggestionPending {
		return nil, hserrors.ErrSuggestionApplied
	}
	return e.applySuggestion(ctx, s, true)
}

func (e *Engine) applySuggestion(ctx context.Context, s *models.LoadBalancingSuggestion, operator bool) (*models.LoadBalancingSuggestion, error) {
	remove := func(mailboxID string) bool {
		ok := e.issue(ctx, command{Type: dto.CommandRemoveMailbox, OrganizationID: s.OrganizationID, MailboxID: mailboxID, CampaignID: s.CampaignID, Reason: s.Rationale}, operator)
		if ok {
			if err := e.repos.CampaignMailboxRepository.Unassign(ctx, s.CampaignID, mailboxID); err != nil {
				e.log.Errorf("failed to unassign %s from %s: %v", mailboxID, s.CampaignID, err)
				return false
			}
		}
		return ok
	}
	add := func(mailboxID string) bool {
		ok := e.issue(ctx, command{Type: dto.CommandAddMailbox, OrganizationID: s.OrganizationID, MailboxID: mailboxID, CampaignID: s.CampaignID, Reason: s.Rationale}, operator)
		if ok {
			if err := e.repos.CampaignMailboxRepository.Assign(ctx, &models.CampaignMailbox{CampaignID: s.CampaignID, MailboxID: mailboxID, Active: true}); err != nil {
				e.log.Errorf("failed to assign %s to %s: %v", mailboxID, s.CampaignID, err)
				return false
			}
		}
		return ok
	}

	var ok bool
	switch s.Kind {
	case enum.SuggestRemoveMailbox:
		ok = remove(s.MailboxID)
	case enum.SuggestAddMailbox:
		ok = add(s.MailboxID)
	case enum.SuggestMoveMailbox:
		ok = add(s.TargetMailboxID) && remove(s.MailboxID)
	default:
		return nil, fmt.Errorf("unknown suggestion kind %s", s.Kind)
	}
	if !ok {
		return nil, errors.Wrapf(hserrors.ErrProviderCommandFailed, "suggestion %s not applied", s.ID)
	}

	now := e.clock()
	if err := e.repos.SuggestionRepository.MarkApplied(ctx, s.ID, now); err != nil {
		return nil, err
	}
	s.Status = enum.SuggestionApplied
	s.AppliedAt = &now

	e.audit(ctx, &models.AuditEvent{
		OrganizationID: s.OrganizationID,
		EntityType:     enum.CAMPAIGN,
		EntityID:       s.CampaignID,
		Action:         enum.AuditSuggestion,
		Reason:         fmt.Sprintf("%s applied: %s", s.Kind, s.Rationale),
		Metadata: models.JSONMap{
			"suggestionId":    s.ID,
			"kind":            string(s.Kind),
			"mailboxId":       s.MailboxID,
			"targetMailboxId": s.TargetMailboxID,
			"operator":        operator,
		},
	})
	if _, err := e.evaluateCampaign(ctx, s.CampaignID, true); err != nil && !errors.Is(err, hserrors.ErrCampaignNotFound) {
		e.log.Errorf("failed to evaluate campaign %s: %v", s.CampaignID, err)
	}
	return s, nil
}
