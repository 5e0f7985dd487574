// Package engine applies delivery events, healing ticks and operator actions
// to the persisted health state and fans the outcome out to the gate, the
// provider and the audit log.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/distlock"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services/balancer"
	"github.com/superkabe/healthstack/services/connectivity"
	"github.com/superkabe/healthstack/services/dnscheck"
	"github.com/superkabe/healthstack/services/gate"
	"github.com/superkabe/healthstack/services/healing"
	"github.com/superkabe/healthstack/services/health"
	"github.com/superkabe/healthstack/services/risk"
)

const maxVersionRetries = 5

type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type DomainChecker interface {
	Check(ctx context.Context, domain string) (*dnscheck.Result, error)
}

type ConnectivityChecker interface {
	CheckAll(ctx context.Context) ([]connectivity.Result, error)
}

// Deps are the collaborators of the engine. DNS and Connectivity may be nil.
type Deps struct {
	Log          logger.Logger
	Repos        *repository.Repositories
	Tracker      *risk.Tracker
	Machine      *health.MailboxMachine
	Pipeline     *healing.Pipeline
	Thresholds   health.Thresholds
	Gate         *gate.Gate
	Commander    interfaces.ProviderCommander
	Publisher    interfaces.EventPublisher
	Locker       Locker
	Advisor      *balancer.Advisor
	DNS          DomainChecker
	Connectivity ConnectivityChecker
}

type Engine struct {
	log          logger.Logger
	repos        *repository.Repositories
	tracker      *risk.Tracker
	machine      *health.MailboxMachine
	pipeline     *healing.Pipeline
	thresholds   health.Thresholds
	gate         *gate.Gate
	commander    interfaces.ProviderCommander
	publisher    interfaces.EventPublisher
	locker       Locker
	advisor      *balancer.Advisor
	dns          DomainChecker
	connectivity ConnectivityChecker
	clock        func() time.Time
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func NewEngine(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		log:          deps.Log,
		repos:        deps.Repos,
		tracker:      deps.Tracker,
		machine:      deps.Machine,
		pipeline:     deps.Pipeline,
		thresholds:   deps.Thresholds,
		gate:         deps.Gate,
		commander:    deps.Commander,
		publisher:    deps.Publisher,
		locker:       deps.Locker,
		advisor:      deps.Advisor,
		dns:          deps.DNS,
		connectivity: deps.Connectivity,
		clock:        utils.Now,
	}
	if e.locker == nil {
		e.locker = distlock.NewKeyedMutex()
	}
	if e.pipeline == nil {
		e.pipeline = healing.NewPipeline(nil)
	}
	if e.machine == nil {
		e.machine = health.NewMailboxMachine(e.pipeline.Policy())
	}
	if e.thresholds == (health.Thresholds{}) {
		e.thresholds = health.DefaultThresholds()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ interfaces.DeliveryEventProcessor = (*Engine)(nil)

func (e *Engine) Mode() enum.SystemMode {
	return e.gate.Mode()
}

// applies reports whether state changes of the current mode are persisted.
// Operator actions always apply.
func (e *Engine) applies(operator bool) bool {
	return operator || e.Mode().Enforcing()
}

// mailboxChange collects what a committed mailbox mutation has to trigger.
type mailboxChange struct {
	dirty       bool
	operator    bool
	transitions []*health.Transition
	warmup      *healing.WarmupCommand
	graduated   bool
	relapse     bool
	removeFrom  []string
	readdTo     []string
	resetAt     *time.Time
}

func (c *mailboxChange) add(t *health.Transition) {
	if t == nil {
		return
	}
	c.transitions = append(c.transitions, t)
	c.dirty = true
}

func (c *mailboxChange) statusChanged() bool {
	for _, t := range c.transitions {
		if t.From != t.To {
			return true
		}
	}
	return false
}

// stepMailbox runs fn on a copy of the mailbox and keeps the result unless the
// current mode only reports transitions.
func (e *Engine) stepMailbox(mb *models.MailboxHealth, operator bool, fn func(next *models.MailboxHealth) *health.Transition) *health.Transition {
	next := mb.Clone()
	t := fn(next)
	if t == nil || e.applies(operator) {
		*mb = *next
	}
	return t
}

type mailboxMutation func(ctx context.Context, mb *models.MailboxHealth) (*mailboxChange, error)

// updateMailbox re-reads, mutates and writes the mailbox until the version
// check passes. Callers hold the mailbox lock.
func (e *Engine) updateMailbox(ctx context.Context, mailboxID string, mutate mailboxMutation) (*models.MailboxHealth, *mailboxChange, error) {
	for attempt := 1; attempt <= maxVersionRetries; attempt++ {
		mb, err := e.repos.MailboxHealthRepository.GetByID(ctx, mailboxID)
		if err != nil {
			return nil, nil, err
		}
		change, err := mutate(ctx, mb)
		if err != nil {
			return nil, nil, err
		}
		if change == nil {
			change = &mailboxChange{}
		}
		if !change.dirty {
			return mb, change, nil
		}
		err = e.repos.MailboxHealthRepository.Update(ctx, mb)
		if err == nil {
			if change.resetAt != nil {
				e.tracker.ResetMailbox(mb.ID, *change.resetAt)
			}
			return mb, change, nil
		}
		if !errors.Is(err, hserrors.ErrVersionConflict) {
			return nil, nil, err
		}
		e.log.Debugf("version conflict on mailbox %s, attempt %d", mailboxID, attempt)
	}
	return nil, nil, errors.Wrapf(hserrors.ErrVersionConflict, "mailbox %s after %d attempts", mailboxID, maxVersionRetries)
}

// withMailbox serializes the mutation on the mailbox lock. The gate sees the
// committed view before the lock is released, the other side effects after.
func (e *Engine) withMailbox(ctx context.Context, mailboxID string, mutate mailboxMutation) (*models.MailboxHealth, *mailboxChange, error) {
	release, err := e.locker.Lock(ctx, distlock.MailboxKey(mailboxID))
	if err != nil {
		return nil, nil, err
	}
	mb, change, err := e.updateMailbox(ctx, mailboxID, mutate)
	if err == nil {
		e.gate.UpsertMailbox(mb)
	}
	release()
	if err != nil {
		return nil, nil, err
	}
	e.afterMailboxCommit(ctx, mb, change)
	return mb, change, nil
}

type campaignMutation func(ctx context.Context, c *models.CampaignHealth) (*health.Transition, bool, error)

func (e *Engine) updateCampaign(ctx context.Context, campaignID string, mutate campaignMutation) (*models.CampaignHealth, *health.Transition, error) {
	release, err := e.locker.Lock(ctx, distlock.CampaignKey(campaignID))
	if err != nil {
		return nil, nil, err
	}
	defer release()

	for attempt := 1; attempt <= maxVersionRetries; attempt++ {
		c, err := e.repos.CampaignHealthRepository.GetByID(ctx, campaignID)
		if err != nil {
			return nil, nil, err
		}
		t, dirty, err := mutate(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		if !dirty {
			return c, t, nil
		}
		err = e.repos.CampaignHealthRepository.Update(ctx, c)
		if err == nil {
			return c, t, nil
		}
		if !errors.Is(err, hserrors.ErrVersionConflict) {
			return nil, nil, err
		}
	}
	return nil, nil, errors.Wrapf(hserrors.ErrVersionConflict, "campaign %s after %d attempts", campaignID, maxVersionRetries)
}

type domainMutation func(ctx context.Context, d *models.DomainHealth) (*health.Transition, bool, error)

func (e *Engine) updateDomain(ctx context.Context, domainID string, mutate domainMutation) (*models.DomainHealth, *health.Transition, error) {
	release, err := e.locker.Lock(ctx, distlock.DomainKey(domainID))
	if err != nil {
		return nil, nil, err
	}
	defer release()

	for attempt := 1; attempt <= maxVersionRetries; attempt++ {
		d, err := e.repos.DomainHealthRepository.GetByID(ctx, domainID)
		if err != nil {
			return nil, nil, err
		}
		t, dirty, err := mutate(ctx, d)
		if err != nil {
			return nil, nil, err
		}
		if !dirty {
			return d, t, nil
		}
		err = e.repos.DomainHealthRepository.Update(ctx, d)
		if err == nil {
			return d, t, nil
		}
		if !errors.Is(err, hserrors.ErrVersionConflict) {
			return nil, nil, err
		}
	}
	return nil, nil, errors.Wrapf(hserrors.ErrVersionConflict, "domain %s after %d attempts", domainID, maxVersionRetries)
}

// mailboxOfOrganization hides mailboxes of other tenants behind not found.
func (e *Engine) mailboxOfOrganization(ctx context.Context, organizationID, mailboxID string) (*models.MailboxHealth, error) {
	mb, err := e.repos.MailboxHealthRepository.GetByID(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	if mb.OrganizationID != organizationID {
		return nil, hserrors.ErrMailboxNotFound
	}
	return mb, nil
}

func (e *Engine) campaignOfOrganization(ctx context.Context, organizationID, campaignID string) (*models.CampaignHealth, error) {
	c, err := e.repos.CampaignHealthRepository.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.OrganizationID != organizationID {
		return nil, hserrors.ErrCampaignNotFound
	}
	return c, nil
}
