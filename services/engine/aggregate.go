package engine

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/superkabe/healthstack/dto"
	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/health"
	"github.com/superkabe/healthstack/services/risk"
)

const domainRefreshConcurrency = 4

// RecomputeDomain recalculates the unhealthy ratio and status of a domain
// from the current status of its mailboxes.
func (e *Engine) RecomputeDomain(ctx context.Context, domainID string) (*models.DomainHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.RecomputeDomain")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, domainID)

	now := e.clock()
	d, t, err := e.updateDomain(ctx, domainID, func(ctx context.Context, d *models.DomainHealth) (*health.Transition, bool, error) {
		mailboxes, err := e.repos.MailboxHealthRepository.ListByDomain(ctx, d.ID)
		if err != nil {
			return nil, false, err
		}
		statuses := make([]enum.MailboxStatus, 0, len(mailboxes))
		for _, mb := range mailboxes {
			statuses = append(statuses, mb.Status)
		}

		total, unhealthy, ratio := health.DomainRatio(statuses)
		dirty := d.TotalMailboxes != total || d.UnhealthyMailboxes != unhealthy || d.UnhealthyMailboxRatio != ratio
		d.TotalMailboxes, d.UnhealthyMailboxes, d.UnhealthyMailboxRatio = total, unhealthy, ratio

		next := d.Clone()
		t := health.EvaluateDomain(next, statuses, e.thresholds, now)
		if t != nil && e.applies(false) {
			*d = *next
		}
		return t, dirty || (t != nil && e.applies(false)), nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	e.gate.UpsertDomain(d)
	if t != nil {
		e.recordTransition(ctx, d.OrganizationID, t, false)
	}
	return d, nil
}

func (e *Engine) recomputeDomainQuietly(ctx context.Context, domainID string) {
	if domainID == "" {
		return
	}
	if _, err := e.RecomputeDomain(ctx, domainID); err != nil && !errors.Is(err, hserrors.ErrDomainNotFound) {
		e.log.Errorf("failed to recompute domain %s: %v", domainID, err)
	}
}

// RecomputeAllDomains repairs aggregates that drifted, e.g. after a crash between writes.
func (e *Engine) RecomputeAllDomains(ctx context.Context) (int, error) {
	domains, err := e.repos.DomainHealthRepository.List(ctx, "")
	if err != nil {
		return 0, err
	}
	for _, d := range domains {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		e.recomputeDomainQuietly(ctx, d.ID)
	}
	return len(domains), nil
}

// RefreshDomain runs the DNS authentication and reputation checks of a domain
// and stores the verdict.
func (e *Engine) RefreshDomain(ctx context.Context, domainID string) (*models.DomainHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.RefreshDomain")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, domainID)

	current, err := e.repos.DomainHealthRepository.GetByID(ctx, domainID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if e.dns == nil {
		return current, nil
	}

	result, err := e.dns.Check(ctx, current.Domain)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "dns check of %s", current.Domain)
	}

	_, _, err = e.updateDomain(ctx, domainID, func(_ context.Context, d *models.DomainHealth) (*health.Transition, bool, error) {
		result.Apply(d)
		return nil, true, nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	// blacklist hits move the domain status
	return e.RecomputeDomain(ctx, domainID)
}

// RefreshDomainChecks refreshes every domain whose stored check is stale.
func (e *Engine) RefreshDomainChecks(ctx context.Context) (int, error) {
	if e.dns == nil {
		return 0, nil
	}
	domains, err := e.repos.DomainHealthRepository.List(ctx, "")
	if err != nil {
		return 0, err
	}
	now := e.clock()
	policy := e.pipeline.Policy()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(domainRefreshConcurrency)
	refreshed := 0
	for _, d := range domains {
		if !policy.NeedsDNSRefresh(d, now) {
			continue
		}
		refreshed++
		domainID := d.ID
		g.Go(func() error {
			if _, err := e.RefreshDomain(ctx, domainID); err != nil {
				e.log.Warnf("dns refresh of domain %s failed: %v", domainID, err)
			}
			return nil
		})
	}
	return refreshed, g.Wait()
}

// cascadeCampaigns re-evaluates every campaign the mailbox is assigned to.
func (e *Engine) cascadeCampaigns(ctx context.Context, mb *models.MailboxHealth, allowResume bool) {
	assignments, err := e.repos.CampaignMailboxRepository.ListByMailbox(ctx, mb.ID)
	if err != nil {
		e.log.Errorf("failed to list campaigns of mailbox %s: %v", mb.ID, err)
		return
	}
	for _, a := range assignments {
		if _, err := e.evaluateCampaign(ctx, a.CampaignID, allowResume); err != nil && !errors.Is(err, hserrors.ErrCampaignNotFound) {
			e.log.Errorf("failed to evaluate campaign %s: %v", a.CampaignID, err)
		}
	}
}

// evaluateCampaign refreshes the rolling counters of a campaign and pauses it
// when all its mailboxes are unhealthy or its bounce rate is too high. With
// allowResume an auto-paused campaign that has a healthy mailbox again resumes.
func (e *Engine) evaluateCampaign(ctx context.Context, campaignID string, allowResume bool) (*models.CampaignHealth, error) {
	now := e.clock()
	key := risk.Key{Type: enum.CAMPAIGN, ID: campaignID}

	c, t, err := e.updateCampaign(ctx, campaignID, func(ctx context.Context, c *models.CampaignHealth) (*health.Transition, bool, error) {
		assignments, err := e.repos.CampaignMailboxRepository.ListByCampaign(ctx, c.ID)
		if err != nil {
			return nil, false, err
		}
		statuses := make([]enum.MailboxStatus, 0, len(assignments))
		healthy := 0
		for _, a := range assignments {
			mb, err := e.repos.MailboxHealthRepository.GetByID(ctx, a.MailboxID)
			if err != nil {
				if errors.Is(err, hserrors.ErrMailboxNotFound) {
					continue
				}
				return nil, false, err
			}
			if !mb.Active {
				continue
			}
			statuses = append(statuses, mb.Status)
			if mb.Status == enum.MailboxHealthy {
				healthy++
			}
		}

		dirty := false
		// an empty window means the campaign has not been touched since start
		if sent, bounced := e.tracker.AggregateCounts(key); sent > 0 {
			dirty = sent != c.RollingSentCount || bounced != c.RollingBounceCount
			c.RollingSentCount, c.RollingBounceCount = sent, bounced
		}

		next := c.Clone()
		t := health.EvaluateCampaign(next, statuses, e.thresholds, now)
		if t == nil && allowResume && healthy > 0 {
			t = health.ResumeCampaign(next, fmt.Sprintf("%d assigned mailboxes healthy again", healthy), now)
		}
		if t != nil && e.applies(false) {
			*c = *next
			dirty = true
		}
		return t, dirty, nil
	})
	if err != nil {
		return nil, err
	}

	e.gate.UpsertCampaign(c)
	if t == nil {
		return c, nil
	}
	e.recordTransition(ctx, c.OrganizationID, t, false)

	cmd := command{OrganizationID: c.OrganizationID, CampaignID: c.ID, Reason: t.Reason}
	if t.To == string(enum.CampaignPaused) {
		cmd.Type = dto.CommandPauseCampaign
	} else {
		cmd.Type = dto.CommandResumeCampaign
		if e.applies(false) {
			e.tracker.ResetAggregate(key)
		}
	}
	e.issue(ctx, cmd, false)
	return c, nil
}
