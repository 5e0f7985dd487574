package gate

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/metrics"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

// CapPolicy yields the daily send cap of a recovery phase.
type CapPolicy interface {
	DailyCap(phase enum.RecoveryPhase) (int, bool)
}

type Decision struct {
	Allowed  bool            `json:"allowed"`
	Reason   enum.DenyReason `json:"reason,omitempty"`
	Message  string          `json:"message"`
	Enforced bool            `json:"enforced"`
	Mode     enum.SystemMode `json:"mode"`
}

type mailboxView struct {
	status       enum.MailboxStatus
	phase        enum.RecoveryPhase
	domainID     string
	sendsToday   int
	sendsDay     string
	pausedReason string
	cooldown     *time.Time
	version      int64
	retired      bool
}

type campaignView struct {
	status       enum.CampaignStatus
	pausedReason string
}

type snapshot struct {
	mailboxes map[string]mailboxView
	domains   map[string]enum.DomainStatus
	campaigns map[string]campaignView
	loadedAt  time.Time
}

func newSnapshot() *snapshot {
	return &snapshot{
		mailboxes: make(map[string]mailboxView),
		domains:   make(map[string]enum.DomainStatus),
		campaigns: make(map[string]campaignView),
	}
}

// Gate answers send checks from an in-memory snapshot. Reads never touch storage.
type Gate struct {
	log       logger.Logger
	caps      CapPolicy
	mailboxes interfaces.MailboxHealthRepository
	domains   interfaces.DomainHealthRepository
	campaigns interfaces.CampaignHealthRepository

	mu   sync.RWMutex
	mode enum.SystemMode
	snap *snapshot
}

func NewGate(log logger.Logger, caps CapPolicy, mode enum.SystemMode, mailboxes interfaces.MailboxHealthRepository,
	domains interfaces.DomainHealthRepository, campaigns interfaces.CampaignHealthRepository) *Gate {
	return &Gate{
		log:       log,
		caps:      caps,
		mailboxes: mailboxes,
		domains:   domains,
		campaigns: campaigns,
		mode:      mode,
		snap:      newSnapshot(),
	}
}

func (g *Gate) Mode() enum.SystemMode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

func (g *Gate) SetMode(mode enum.SystemMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
}

func (g *Gate) CanSend(ctx context.Context, mailboxID, campaignID string) Decision {
	span, _ := opentracing.StartSpanFromContext(ctx, "Gate.CanSend")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, mailboxID)

	decision := g.Evaluate(mailboxID, campaignID, utils.Now())

	span.SetTag("gate.allowed", decision.Allowed)
	span.SetTag("gate.reason", string(decision.Reason))
	metrics.GateDecisions.WithLabelValues(strconv.FormatBool(decision.Allowed), string(decision.Reason)).Inc()
	if decision.Reason != enum.ReasonNone && !decision.Enforced {
		g.log.With(zap.String("mailboxId", mailboxID), zap.String("campaignId", campaignID)).
			Infof("gate would deny in %s mode: %s", decision.Mode, decision.Message)
	}
	return decision
}

// Evaluate runs the checks in order; the first failing one decides.
func (g *Gate) Evaluate(mailboxID, campaignID string, now time.Time) Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	decision := g.evaluate(mailboxID, campaignID, now)
	decision.Mode = g.mode
	if decision.Reason == enum.ReasonNone {
		decision.Allowed = true
		decision.Enforced = g.mode.Enforcing()
		return decision
	}
	if g.mode.Enforcing() {
		decision.Allowed = false
		decision.Enforced = true
		return decision
	}
	decision.Allowed = true
	decision.Enforced = false
	return decision
}

func (g *Gate) evaluate(mailboxID, campaignID string, now time.Time) Decision {
	mb, ok := g.snap.mailboxes[mailboxID]
	if !ok || mb.retired {
		return deny(enum.ReasonMailboxUnknown, fmt.Sprintf("mailbox %s is not registered with the health engine", mailboxID))
	}

	if mb.status == enum.MailboxDisconnected {
		return deny(enum.ReasonMailboxDisconnected, "mailbox is disconnected: "+mb.pausedReason)
	}

	if mb.phase.Sending() && g.caps != nil {
		if limit, capped := g.caps.DailyCap(mb.phase); capped {
			sent := 0
			if mb.sendsDay == utils.DayKey(now) {
				sent = mb.sendsToday
			}
			if sent >= limit {
				return deny(enum.ReasonVolumeCapReached,
					fmt.Sprintf("mailbox in %s reached its daily cap of %d sends", mb.phase, limit))
			}
		}
	}

	if mb.status == enum.MailboxPaused {
		msg := "mailbox is paused"
		if mb.pausedReason != "" {
			msg += ": " + mb.pausedReason
		}
		if mb.cooldown != nil && now.Before(*mb.cooldown) {
			msg += fmt.Sprintf(" (cooldown until %s)", mb.cooldown.Format(time.RFC3339))
		}
		return deny(enum.ReasonMailboxPaused, msg)
	}

	if status, ok := g.snap.domains[mb.domainID]; ok && status == enum.DomainPaused {
		return deny(enum.ReasonDomainGated, "domain is paused: too many unhealthy mailboxes")
	}

	if campaignID != "" {
		if c, ok := g.snap.campaigns[campaignID]; ok && c.status == enum.CampaignPaused {
			msg := "campaign is paused"
			if c.pausedReason != "" {
				msg += ": " + c.pausedReason
			}
			return deny(enum.ReasonCampaignPaused, msg)
		}
	}

	return Decision{Message: "send allowed"}
}

func deny(reason enum.DenyReason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}

// Reload replaces the snapshot with the persisted state.
func (g *Gate) Reload(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Gate.Reload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	next := newSnapshot()
	mailboxes, err := g.mailboxes.List(ctx, "")
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	for _, mb := range mailboxes {
		next.mailboxes[mb.ID] = viewOfMailbox(mb)
	}
	domains, err := g.domains.List(ctx, "")
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	for _, d := range domains {
		next.domains[d.ID] = d.Status
	}
	campaigns, err := g.campaigns.List(ctx, "")
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	for _, c := range campaigns {
		next.campaigns[c.ID] = campaignView{status: c.Status, pausedReason: c.PausedReason}
	}
	next.loadedAt = utils.Now()

	g.mu.Lock()
	// upserts committed while the reload was reading stay
	for id, current := range g.snap.mailboxes {
		if loaded, ok := next.mailboxes[id]; ok && !current.retired && current.version > loaded.version {
			next.mailboxes[id] = current
		}
	}
	g.snap = next
	g.mu.Unlock()

	metrics.GateSnapshotMailboxes.Set(float64(len(next.mailboxes)))
	span.LogKV("mailboxes", len(next.mailboxes), "domains", len(next.domains), "campaigns", len(next.campaigns))
	return nil
}

// UpsertMailbox refreshes one mailbox after a committed mutation. A view
// older than the one already held is ignored.
func (g *Gate) UpsertMailbox(mb *models.MailboxHealth) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if current, ok := g.snap.mailboxes[mb.ID]; ok && current.version > mb.Version {
		return
	}
	view := viewOfMailbox(mb)
	view.retired = !mb.Active
	g.snap.mailboxes[mb.ID] = view
	metrics.GateSnapshotMailboxes.Set(float64(len(g.snap.mailboxes)))
}

func (g *Gate) UpsertDomain(d *models.DomainHealth) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snap.domains[d.ID] = d.Status
}

func (g *Gate) UpsertCampaign(c *models.CampaignHealth) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snap.campaigns[c.ID] = campaignView{status: c.Status, pausedReason: c.PausedReason}
}

func (g *Gate) LoadedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snap.loadedAt
}

func viewOfMailbox(mb *models.MailboxHealth) mailboxView {
	v := mailboxView{
		status:       mb.Status,
		phase:        mb.RecoveryPhase,
		domainID:     mb.DomainID,
		sendsToday:   mb.SendsToday,
		sendsDay:     mb.SendsTodayDate,
		pausedReason: mb.PausedReason,
		version:      mb.Version,
	}
	if mb.CooldownUntil != nil {
		c := *mb.CooldownUntil
		v.cooldown = &c
	}
	return v
}
