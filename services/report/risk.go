// Package report builds the predictive risk report: which mailboxes are most
// likely to be paused next.
package report

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
	"github.com/superkabe/healthstack/services/dnscheck"
	"github.com/superkabe/healthstack/services/risk"
)

type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

type Trend string

const (
	TrendRising  Trend = "rising"
	TrendStable  Trend = "stable"
	TrendFalling Trend = "falling"
	TrendUnknown Trend = "unknown"
)

const (
	maxScore          = 100
	bounceWeight      = 40
	risingPenalty     = 10
	relapsePenalty    = 10
	maxRelapsePenalty = 30
	blacklistPenalty  = 20
	disconnectedScore = 40
	// domain age contributes a fifth of its scale
	agePenaltyDivisor = 5
	highAt            = 60
	mediumAt          = 30
)

type MailboxRisk struct {
	MailboxID   string             `json:"mailboxId"`
	Email       string             `json:"email"`
	DomainID    string             `json:"domainId"`
	Domain      string             `json:"domain"`
	Status      enum.MailboxStatus `json:"status"`
	Phase       enum.RecoveryPhase `json:"recoveryPhase"`
	Score       int                `json:"score"`
	Level       Level              `json:"level"`
	Trend       Trend              `json:"trend"`
	BounceRatio float64            `json:"bounceRatio"`
	Factors     []string           `json:"factors"`
}

type RiskReport struct {
	OrganizationID string        `json:"organizationId"`
	GeneratedAt    time.Time     `json:"generatedAt"`
	Mailboxes      []MailboxRisk `json:"mailboxes"`
}

// WindowSource exposes the live sliding windows of a mailbox.
type WindowSource interface {
	EvaluateMailbox(mailboxID string, recoveryContext bool) risk.Evaluation
}

type Service struct {
	log        logger.Logger
	mailboxes  interfaces.MailboxHealthRepository
	domains    interfaces.DomainHealthRepository
	windows    WindowSource
	thresholds risk.Thresholds
}

func NewService(log logger.Logger, mailboxes interfaces.MailboxHealthRepository, domains interfaces.DomainHealthRepository,
	windows WindowSource, thresholds risk.Thresholds) *Service {
	return &Service{
		log:        log,
		mailboxes:  mailboxes,
		domains:    domains,
		windows:    windows,
		thresholds: thresholds,
	}
}

func (s *Service) Generate(ctx context.Context, organizationID string) (*RiskReport, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RiskReport.Generate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, organizationID)

	mailboxes, err := s.mailboxes.List(ctx, organizationID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	domains, err := s.domains.List(ctx, organizationID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	byID := make(map[string]*models.DomainHealth, len(domains))
	for _, d := range domains {
		byID[d.ID] = d
	}

	report := &RiskReport{OrganizationID: organizationID, GeneratedAt: utils.Now()}
	for _, mb := range mailboxes {
		var eval risk.Evaluation
		if s.windows != nil {
			eval = s.windows.EvaluateMailbox(mb.ID, false)
		}
		report.Mailboxes = append(report.Mailboxes, Score(mb, byID[mb.DomainID], eval, s.thresholds))
	}
	Sort(report.Mailboxes)

	span.LogKV("mailboxes", len(report.Mailboxes))
	return report, nil
}

// Score is pure. Live windows win over the persisted rolling counters when they hold a sample.
func Score(mb *models.MailboxHealth, d *models.DomainHealth, eval risk.Evaluation, th risk.Thresholds) MailboxRisk {
	r := MailboxRisk{
		MailboxID: mb.ID,
		Email:     mb.Email,
		DomainID:  mb.DomainID,
		Status:    mb.Status,
		Phase:     mb.RecoveryPhase,
		Trend:     TrendUnknown,
		Factors:   []string{},
	}
	score := 0

	if mb.Status == enum.MailboxDisconnected {
		score += disconnectedScore
		r.Factors = append(r.Factors, "mailbox disconnected")
	}

	sent, bounces := mb.RollingSentCount, mb.RollingBounceCount
	if eval.PauseSent >= th.MinSample {
		sent, bounces = eval.PauseSent, eval.PauseBounces
	}
	if sent >= th.MinSample && th.PauseBounces > 0 {
		r.BounceRatio = float64(bounces) / float64(sent)
		pressure := float64(bounces) / float64(th.PauseBounces)
		if pressure > 1 {
			pressure = 1
		}
		if points := int(pressure * bounceWeight); points > 0 {
			score += points
			r.Factors = append(r.Factors, fmt.Sprintf("%d of %d weighted bounces toward pause over %d sends", bounces, th.PauseBounces, sent))
		}
	}

	if eval.WarningSent >= th.MinSample && eval.PauseSent > 0 {
		recent := float64(eval.WarningBounces) / float64(eval.WarningSent)
		overall := float64(eval.PauseBounces) / float64(eval.PauseSent)
		switch {
		case recent > overall:
			r.Trend = TrendRising
			score += risingPenalty
			r.Factors = append(r.Factors, fmt.Sprintf("recent bounce rate %.1f%% above window average %.1f%%", recent*100, overall*100))
		case recent < overall:
			r.Trend = TrendFalling
		default:
			r.Trend = TrendStable
		}
	}

	if mb.RelapseCount > 0 {
		points := mb.RelapseCount * relapsePenalty
		if points > maxRelapsePenalty {
			points = maxRelapsePenalty
		}
		score += points
		r.Factors = append(r.Factors, fmt.Sprintf("%d relapses", mb.RelapseCount))
	}

	if points := phasePenalty(mb); points > 0 {
		score += points
		r.Factors = append(r.Factors, fmt.Sprintf("%s/%s", mb.Status, mb.RecoveryPhase))
	}

	if d != nil {
		r.Domain = d.Domain
		// zero age means the lookup never succeeded
		if d.DomainAgeDays > 0 {
			if points := dnscheck.AgePenalty(d.DomainAgeDays) / agePenaltyDivisor; points > 0 {
				score += points
				r.Factors = append(r.Factors, fmt.Sprintf("domain is %d days old", d.DomainAgeDays))
			}
		}
		if d.Blacklisted {
			score += blacklistPenalty
			r.Factors = append(r.Factors, "domain blacklisted")
		}
	}

	if score > maxScore {
		score = maxScore
	}
	r.Score = score
	r.Level = levelFor(score)
	return r
}

func phasePenalty(mb *models.MailboxHealth) int {
	switch mb.RecoveryPhase {
	case enum.PhasePaused, enum.PhaseQuarantine:
		return 20
	case enum.PhaseRestrictedSend:
		return 15
	case enum.PhaseWarmRecovery:
		return 10
	}
	if mb.Status == enum.MailboxWarning {
		return 10
	}
	return 0
}

func levelFor(score int) Level {
	switch {
	case score >= highAt:
		return LevelHigh
	case score >= mediumAt:
		return LevelMedium
	}
	return LevelLow
}

// Sort orders by score, highest first, then by email.
func Sort(rows []MailboxRisk) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Email < rows[j].Email
	})
}
