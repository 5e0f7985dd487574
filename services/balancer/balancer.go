package balancer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

type MailboxLoad struct {
	MailboxID     string             `json:"mailboxId"`
	Email         string             `json:"email"`
	Status        enum.MailboxStatus `json:"status"`
	CampaignCount int                `json:"campaignCount"`
	Class         enum.LoadClass     `json:"class,omitempty"`
}

type DomainLoad struct {
	DomainID  string        `json:"domainId"`
	Domain    string        `json:"domain"`
	Mean      float64       `json:"mean"`
	Mailboxes []MailboxLoad `json:"mailboxes"`
}

type Report struct {
	OrganizationID string                            `json:"organizationId"`
	GeneratedAt    time.Time                         `json:"generatedAt"`
	Domains        []DomainLoad                      `json:"domains"`
	Suggestions    []*models.LoadBalancingSuggestion `json:"suggestions"`
}

// Input is the organization state the advisor reasons over.
type Input struct {
	OrganizationID string
	Domains        []*models.DomainHealth
	Mailboxes      []*models.MailboxHealth
	Campaigns      []*models.CampaignHealth
	Assignments    []*models.CampaignMailbox
}

type Advisor struct {
	log         logger.Logger
	factors     Factors
	mailboxes   interfaces.MailboxHealthRepository
	domains     interfaces.DomainHealthRepository
	campaigns   interfaces.CampaignHealthRepository
	assignments interfaces.CampaignMailboxRepository
	suggestions interfaces.SuggestionRepository
}

func NewAdvisor(log logger.Logger, factors Factors, mailboxes interfaces.MailboxHealthRepository, domains interfaces.DomainHealthRepository,
	campaigns interfaces.CampaignHealthRepository, assignments interfaces.CampaignMailboxRepository, suggestions interfaces.SuggestionRepository) *Advisor {
	return &Advisor{
		log:         log,
		factors:     factors,
		mailboxes:   mailboxes,
		domains:     domains,
		campaigns:   campaigns,
		assignments: assignments,
		suggestions: suggestions,
	}
}

// Generate analyzes the organization and replaces its pending suggestions.
func (a *Advisor) Generate(ctx context.Context, organizationID string) (*Report, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Advisor.Generate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, organizationID)

	in, err := a.load(ctx, organizationID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	report := Analyze(in, a.factors, utils.Now())
	if err := a.suggestions.ReplacePending(ctx, organizationID, report.Suggestions); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogKV("suggestions", len(report.Suggestions))
	a.log.Infof("load balancing report for %s: %d suggestions", organizationID, len(report.Suggestions))
	return report, nil
}

func (a *Advisor) load(ctx context.Context, organizationID string) (Input, error) {
	in := Input{OrganizationID: organizationID}
	var err error
	if in.Domains, err = a.domains.List(ctx, organizationID); err != nil {
		return in, err
	}
	if in.Mailboxes, err = a.mailboxes.List(ctx, organizationID); err != nil {
		return in, err
	}
	if in.Campaigns, err = a.campaigns.List(ctx, organizationID); err != nil {
		return in, err
	}
	ids := make([]string, 0, len(in.Mailboxes))
	for _, mb := range in.Mailboxes {
		ids = append(ids, mb.ID)
	}
	if len(ids) > 0 {
		if in.Assignments, err = a.assignments.ListByMailboxes(ctx, ids); err != nil {
			return in, err
		}
	}
	return in, nil
}

// Analyze is pure: classification plus ranked suggestions.
func Analyze(in Input, f Factors, now time.Time) *Report {
	report := &Report{OrganizationID: in.OrganizationID, GeneratedAt: now}

	activeCampaigns := make(map[string]bool)
	for _, c := range in.Campaigns {
		if c.Status == enum.CampaignActive {
			activeCampaigns[c.ID] = true
		}
	}
	mailboxByID := make(map[string]*models.MailboxHealth, len(in.Mailboxes))
	for _, mb := range in.Mailboxes {
		mailboxByID[mb.ID] = mb
	}

	// active assignments to active campaigns
	byMailbox := make(map[string][]string)
	byCampaign := make(map[string][]string)
	for _, as := range in.Assignments {
		if !as.Active || !activeCampaigns[as.CampaignID] || mailboxByID[as.MailboxID] == nil {
			continue
		}
		byMailbox[as.MailboxID] = append(byMailbox[as.MailboxID], as.CampaignID)
		byCampaign[as.CampaignID] = append(byCampaign[as.CampaignID], as.MailboxID)
	}
	for _, list := range byMailbox {
		sort.Strings(list)
	}

	domainName := make(map[string]string)
	for _, d := range in.Domains {
		domainName[d.ID] = d.Domain
	}
	byDomain := make(map[string][]*models.MailboxHealth)
	var domainIDs []string
	for _, mb := range in.Mailboxes {
		if _, ok := byDomain[mb.DomainID]; !ok {
			domainIDs = append(domainIDs, mb.DomainID)
		}
		byDomain[mb.DomainID] = append(byDomain[mb.DomainID], mb)
	}
	sort.Strings(domainIDs)

	counts := make(map[string]int, len(in.Mailboxes))
	classes := make(map[string]enum.LoadClass, len(in.Mailboxes))
	for _, domainID := range domainIDs {
		members := byDomain[domainID]
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		total, eligible := 0, 0
		for _, mb := range members {
			counts[mb.ID] = len(byMailbox[mb.ID])
			if eligibleTarget(mb) {
				total += counts[mb.ID]
				eligible++
			}
		}
		mean := 0.0
		if eligible > 0 {
			mean = float64(total) / float64(eligible)
		}

		dl := DomainLoad{DomainID: domainID, Domain: domainName[domainID], Mean: mean}
		for _, mb := range members {
			load := MailboxLoad{MailboxID: mb.ID, Email: mb.Email, Status: mb.Status, CampaignCount: counts[mb.ID]}
			if eligibleTarget(mb) {
				load.Class = f.Classify(counts[mb.ID], mean)
				classes[mb.ID] = load.Class
			}
			dl.Mailboxes = append(dl.Mailboxes, load)
		}
		report.Domains = append(report.Domains, dl)
	}

	var out []*models.LoadBalancingSuggestion
	newSuggestion := func(kind enum.SuggestionKind, priority enum.SuggestionPriority, domainID, mailboxID, campaignID, target, rationale string) {
		out = append(out, &models.LoadBalancingSuggestion{
			ID:              utils.GenerateNanoIDWithPrefix("lbs", 16),
			OrganizationID:  in.OrganizationID,
			DomainID:        domainID,
			Kind:            kind,
			MailboxID:       mailboxID,
			CampaignID:      campaignID,
			TargetMailboxID: target,
			Priority:        priority,
			Rationale:       rationale,
			Status:          enum.SuggestionPending,
			CreatedAt:       now,
		})
	}

	// remove unhealthy mailboxes from active campaigns
	for _, mb := range in.Mailboxes {
		if !mb.Status.Unhealthy() {
			continue
		}
		for _, campaignID := range byMailbox[mb.ID] {
			newSuggestion(enum.SuggestRemoveMailbox, enum.PriorityHigh, mb.DomainID, mb.ID, campaignID, "",
				fmt.Sprintf("mailbox %s is %s but still assigned to active campaign %s", mb.Email, mb.Status, campaignID))
		}
	}

	// campaigns left without a healthy mailbox get the best available peer
	campaignIDs := make([]string, 0, len(byCampaign))
	for id := range activeCampaigns {
		campaignIDs = append(campaignIDs, id)
	}
	sort.Strings(campaignIDs)
	for _, campaignID := range campaignIDs {
		assigned := byCampaign[campaignID]
		if len(assigned) == 0 {
			continue
		}
		healthy := 0
		for _, id := range assigned {
			if eligibleTarget(mailboxByID[id]) {
				healthy++
			}
		}
		if healthy > 0 {
			continue
		}
		target := bestTarget(in.Mailboxes, classes, counts, assigned, "")
		if target == nil {
			continue
		}
		counts[target.ID]++
		newSuggestion(enum.SuggestAddMailbox, enum.PriorityHigh, target.DomainID, target.ID, campaignID, "",
			fmt.Sprintf("campaign %s has no healthy mailbox; %s is the healthiest available peer with %d campaigns",
				campaignID, target.Email, counts[target.ID]-1))
	}

	// overloaded mailboxes hand one campaign to an underutilized peer in the same domain
	for _, domainID := range domainIDs {
		for _, mb := range byDomain[domainID] {
			if classes[mb.ID] != enum.LoadOverloaded {
				continue
			}
			for _, campaignID := range byMailbox[mb.ID] {
				target := bestTarget(byDomain[domainID], classes, counts, byCampaign[campaignID], enum.LoadUnderutilized)
				if target == nil {
					continue
				}
				counts[target.ID]++
				counts[mb.ID]--
				newSuggestion(enum.SuggestMoveMailbox, enum.PriorityMedium, domainID, mb.ID, campaignID, target.ID,
					fmt.Sprintf("%s carries %d campaigns against a domain mean of %.1f; move campaign %s to underutilized %s",
						mb.Email, counts[mb.ID]+1, meanOf(report.Domains, domainID), campaignID, target.Email))
				break
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	report.Suggestions = out
	return report
}

// bestTarget ranks eligible mailboxes not already on the campaign:
// underutilized first, then healthy over warning, then fewest campaigns.
func bestTarget(candidates []*models.MailboxHealth, classes map[string]enum.LoadClass, counts map[string]int,
	exclude []string, requireClass enum.LoadClass) *models.MailboxHealth {
	var pool []*models.MailboxHealth
	for _, mb := range candidates {
		if !eligibleTarget(mb) || utils.IsStringInSlice(mb.ID, exclude) {
			continue
		}
		if requireClass != "" && classes[mb.ID] != requireClass {
			continue
		}
		pool = append(pool, mb)
	}
	if len(pool) == 0 {
		return nil
	}
	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		au, bu := classes[a.ID] == enum.LoadUnderutilized, classes[b.ID] == enum.LoadUnderutilized
		if au != bu {
			return au
		}
		if a.Status != b.Status {
			return a.Status == enum.MailboxHealthy
		}
		if counts[a.ID] != counts[b.ID] {
			return counts[a.ID] < counts[b.ID]
		}
		return a.ID < b.ID
	})
	return pool[0]
}

func meanOf(domains []DomainLoad, domainID string) float64 {
	for _, d := range domains {
		if d.DomainID == domainID {
			return d.Mean
		}
	}
	return 0
}

// AutoApplicable reports whether a suggestion may be applied without an operator.
func AutoApplicable(s *models.LoadBalancingSuggestion, mode enum.SystemMode) bool {
	if !mode.Enforcing() {
		return false
	}
	return s.Kind == enum.SuggestAddMailbox || s.Kind == enum.SuggestRemoveMailbox
}
