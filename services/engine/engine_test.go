package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/dto"
	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/distlock"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/internal/repository/memory"
	"github.com/superkabe/healthstack/services/gate"
	"github.com/superkabe/healthstack/services/healing"
	"github.com/superkabe/healthstack/services/risk"
)

const org = "org_1"

type recordingCommander struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (c *recordingCommander) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if c.fail {
		return errors.New("provider unavailable")
	}
	return nil
}

func (c *recordingCommander) PauseCampaign(_ context.Context, _, campaignID, _ string) error {
	return c.record("pause:" + campaignID)
}

func (c *recordingCommander) ResumeCampaign(_ context.Context, _, campaignID string) error {
	return c.record("resume:" + campaignID)
}

func (c *recordingCommander) RemoveMailboxFromCampaign(_ context.Context, _, mailboxID, campaignID string) error {
	return c.record("remove:" + mailboxID + ":" + campaignID)
}

func (c *recordingCommander) AddMailboxToCampaign(_ context.Context, _, mailboxID, campaignID string) error {
	return c.record("add:" + mailboxID + ":" + campaignID)
}

func (c *recordingCommander) ConfigureWarmup(_ context.Context, _, mailboxID string, dailyLimit, rampUp int) error {
	return c.record(fmt.Sprintf("warmup:%s:%d:%d", mailboxID, dailyLimit, rampUp))
}

func (c *recordingCommander) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type recordingPublisher struct {
	mu            sync.Mutex
	notifications []dto.HealthNotification
}

func (p *recordingPublisher) PublishDeliveryEvent(context.Context, dto.DeliveryEventReceived) error {
	return nil
}

func (p *recordingPublisher) PublishNotification(_ context.Context, n dto.HealthNotification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
}

func (p *recordingPublisher) Close() error {
	return nil
}

func (p *recordingPublisher) Kinds() []dto.HealthNotificationKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kinds []dto.HealthNotificationKind
	for _, n := range p.notifications {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// conflictingMailboxes fails the first n updates with a version conflict.
type conflictingMailboxes struct {
	interfaces.MailboxHealthRepository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingMailboxes) Update(ctx context.Context, mb *models.MailboxHealth) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return hserrors.ErrVersionConflict
	}
	r.mu.Unlock()
	return r.MailboxHealthRepository.Update(ctx, mb)
}

// unmarkableEvents fails the first n MarkProcessed calls.
type unmarkableEvents struct {
	interfaces.DeliveryEventRepository
	mu       sync.Mutex
	failures int
}

func (r *unmarkableEvents) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return errors.New("connection reset")
	}
	r.mu.Unlock()
	return r.DeliveryEventRepository.MarkProcessed(ctx, id, at)
}

// stallingLocker holds the first caller of key right after its lock is
// released, until proceed is closed.
type stallingLocker struct {
	inner    Locker
	key      string
	once     sync.Once
	released chan struct{}
	proceed  chan struct{}
}

func newStallingLocker(key string) *stallingLocker {
	return &stallingLocker{
		inner:    distlock.NewKeyedMutex(),
		key:      key,
		released: make(chan struct{}),
		proceed:  make(chan struct{}),
	}
}

func (l *stallingLocker) Lock(ctx context.Context, key string) (func(), error) {
	release, err := l.inner.Lock(ctx, key)
	if err != nil || key != l.key {
		return release, err
	}
	stall := false
	l.once.Do(func() { stall = true })
	if !stall {
		return release, nil
	}
	return func() {
		release()
		close(l.released)
		<-l.proceed
	}, nil
}

type fixture struct {
	engine    *Engine
	repos     *repository.Repositories
	store     *memory.Store
	gate      *gate.Gate
	tracker   *risk.Tracker
	commander *recordingCommander
	publisher *recordingPublisher
	policy    *healing.Policy
	locker    Locker
	now       time.Time
	seq       int
}

type fixtureOption func(f *fixture)

func withFailingProvider() fixtureOption {
	return func(f *fixture) {
		f.commander.fail = true
	}
}

func withPolicy(p *healing.Policy) fixtureOption {
	return func(f *fixture) {
		f.policy = p
	}
}

func withMailboxConflicts(n int) fixtureOption {
	return func(f *fixture) {
		f.repos.MailboxHealthRepository = &conflictingMailboxes{MailboxHealthRepository: f.repos.MailboxHealthRepository, conflicts: n}
	}
}

func withUnmarkableEvents(n int) fixtureOption {
	return func(f *fixture) {
		f.repos.DeliveryEventRepository = &unmarkableEvents{DeliveryEventRepository: f.repos.DeliveryEventRepository, failures: n}
	}
}

func withLocker(l Locker) fixtureOption {
	return func(f *fixture) {
		f.locker = l
	}
}

func newFixture(t *testing.T, mode enum.SystemMode, opts ...fixtureOption) *fixture {
	t.Helper()
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error"})
	l.InitLogger()

	repos, store := memory.NewRepositories()
	f := &fixture{
		repos:     repos,
		store:     store,
		commander: &recordingCommander{},
		publisher: &recordingPublisher{},
		policy:    healing.DefaultPolicy(),
		now:       time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.gate = gate.NewGate(l, f.policy, mode, repos.MailboxHealthRepository, repos.DomainHealthRepository, repos.CampaignHealthRepository)
	f.tracker = risk.NewTracker(l, risk.DefaultThresholds(), repos.DeliveryEventRepository)
	f.engine = NewEngine(Deps{
		Log:       l,
		Repos:     repos,
		Tracker:   f.tracker,
		Pipeline:  healing.NewPipeline(f.policy),
		Gate:      f.gate,
		Commander: f.commander,
		Publisher: f.publisher,
		Locker:    f.locker,
	}, WithClock(func() time.Time { return f.now }))
	return f
}

// seed registers domain dom_1, campaign camp_1 and the given mailbox, assigned to camp_1 when assigned is set.
func (f *fixture) seed(t *testing.T, mb *models.MailboxHealth, assigned bool) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.repos.DomainHealthRepository.GetByID(ctx, "dom_1"); err != nil {
		require.NoError(t, f.repos.DomainHealthRepository.Create(ctx, &models.DomainHealth{
			ID: "dom_1", OrganizationID: org, Domain: "acme.io", Status: enum.DomainHealthy,
		}))
	}
	if _, err := f.repos.CampaignHealthRepository.GetByID(ctx, "camp_1"); err != nil {
		require.NoError(t, f.repos.CampaignHealthRepository.Create(ctx, &models.CampaignHealth{
			ID: "camp_1", OrganizationID: org, Name: "Q3 outbound", Status: enum.CampaignActive,
		}))
	}
	if mb.OrganizationID == "" {
		mb.OrganizationID = org
	}
	if mb.DomainID == "" {
		mb.DomainID = "dom_1"
	}
	mb.Active = true
	require.NoError(t, f.repos.MailboxHealthRepository.Create(ctx, mb))
	if assigned {
		require.NoError(t, f.repos.CampaignMailboxRepository.Assign(ctx, &models.CampaignMailbox{CampaignID: "camp_1", MailboxID: mb.ID}))
	}
	require.NoError(t, f.gate.Reload(ctx))
}

// persist stores one delivery event without processing it.
func (f *fixture) persist(t *testing.T, mailboxID string, typ enum.DeliveryEventType) string {
	t.Helper()
	f.seq++
	f.now = f.now.Add(time.Second)
	ev := &models.DeliveryEvent{
		OrganizationID:  org,
		Provider:        enum.ProviderGeneric,
		ProviderEventID: fmt.Sprintf("pe_%d", f.seq),
		MailboxID:       mailboxID,
		DomainID:        "dom_1",
		CampaignID:      "camp_1",
		Recipient:       fmt.Sprintf("lead%d@example.com", f.seq),
		Type:            typ,
		OccurredAt:      f.now,
		ReceivedAt:      f.now,
	}
	if typ == enum.EventHardBounce {
		ev.CountsTowardRisk = true
		ev.RiskWeight = 1
	}
	created, err := f.repos.DeliveryEventRepository.Create(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, created)
	return ev.ID
}

func (f *fixture) deliver(t *testing.T, mailboxID string, typ enum.DeliveryEventType, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := f.persist(t, mailboxID, typ)
		require.NoError(t, f.engine.ProcessDeliveryEvent(context.Background(), id))
	}
}

func (f *fixture) mailbox(t *testing.T, id string) *models.MailboxHealth {
	t.Helper()
	mb, err := f.repos.MailboxHealthRepository.GetByID(context.Background(), id)
	require.NoError(t, err)
	return mb
}

func (f *fixture) campaign(t *testing.T, id string) *models.CampaignHealth {
	t.Helper()
	c, err := f.repos.CampaignHealthRepository.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) auditActions() map[enum.AuditAction]int {
	actions := make(map[enum.AuditAction]int)
	for _, a := range f.store.AuditEvents() {
		actions[a.Action]++
	}
	return actions
}

func (f *fixture) activeCampaignsOf(t *testing.T, mailboxID string) []string {
	t.Helper()
	assignments, err := f.repos.CampaignMailboxRepository.ListByMailbox(context.Background(), mailboxID)
	require.NoError(t, err)
	var ids []string
	for _, a := range assignments {
		ids = append(ids, a.CampaignID)
	}
	return ids
}

func healthyMailbox(id string) *models.MailboxHealth {
	return &models.MailboxHealth{ID: id, Email: id + "@acme.io", Status: enum.MailboxHealthy, RecoveryPhase: enum.PhaseNone}
}

func TestProcess_WarningWithoutPause(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	f.seed(t, healthyMailbox("mbox_1"), true)

	f.deliver(t, "mbox_1", enum.EventSent, 57)
	f.deliver(t, "mbox_1", enum.EventHardBounce, 3)

	mb := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.MailboxWarning, mb.Status)
	assert.Equal(t, enum.PhaseNone, mb.RecoveryPhase)
	assert.Equal(t, 60, mb.RollingSentCount)
	assert.Equal(t, 3, mb.RollingBounceCount)
	assert.Equal(t, 57, mb.SendsToday)
	assert.Empty(t, f.commander.Calls())
	assert.Equal(t, 1, f.auditActions()[enum.AuditTransition])
	assert.True(t, f.gate.CanSend(context.Background(), "mbox_1", "camp_1").Allowed)
	assert.Equal(t, enum.CampaignActive, f.campaign(t, "camp_1").Status)
}

func TestProcess_PauseDetachesAndCascades(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	f.seed(t, healthyMailbox("mbox_1"), true)

	f.deliver(t, "mbox_1", enum.EventSent, 95)
	f.deliver(t, "mbox_1", enum.EventHardBounce, 5)

	mb := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.MailboxPaused, mb.Status)
	assert.Equal(t, enum.PhasePaused, mb.RecoveryPhase)
	assert.Equal(t, 1, mb.PauseCount)
	require.NotNil(t, mb.CooldownUntil)
	assert.Equal(t, f.now.Add(4*time.Hour), *mb.CooldownUntil)
	assert.Equal(t, []string{"camp_1"}, []string(mb.ExternalCampaignIDs))
	require.NotNil(t, mb.WindowsResetAt)
	assert.Zero(t, mb.RollingSentCount)

	assert.Contains(t, f.commander.Calls(), "remove:mbox_1:camp_1")
	assert.Contains(t, f.commander.Calls(), "pause:camp_1")
	assert.Empty(t, f.activeCampaignsOf(t, "mbox_1"))

	c := f.campaign(t, "camp_1")
	assert.Equal(t, enum.CampaignPaused, c.Status)
	assert.False(t, c.PausedManually)

	d, err := f.repos.DomainHealthRepository.GetByID(context.Background(), "dom_1")
	require.NoError(t, err)
	assert.Equal(t, enum.DomainPaused, d.Status)

	decision := f.gate.CanSend(context.Background(), "mbox_1", "camp_1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, enum.ReasonMailboxPaused, decision.Reason)

	sent, bounces := f.tracker.MailboxCounts("mbox_1")
	assert.Zero(t, sent)
	assert.Zero(t, bounces)
	assert.Contains(t, f.publisher.Kinds(), dto.NotificationTransition)
}

func TestProcess_RelapseDuringRestrictedSend(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	entered := f.now.Add(-time.Hour)
	mb := &models.MailboxHealth{
		ID: "mbox_1", Email: "mbox_1@acme.io", Status: enum.MailboxWarning, RecoveryPhase: enum.PhaseRestrictedSend,
		PauseCount: 1, PhaseEnteredAt: &entered, ExternalCampaignIDs: []string{"camp_1"},
	}
	f.seed(t, mb, false)

	f.deliver(t, "mbox_1", enum.EventSent, 12)
	assert.Equal(t, 12, f.mailbox(t, "mbox_1").PhaseCleanSends)

	f.deliver(t, "mbox_1", enum.EventHardBounce, 1)

	got := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.MailboxPaused, got.Status)
	assert.Equal(t, enum.PhaseQuarantine, got.RecoveryPhase)
	assert.Equal(t, 1, got.RelapseCount)
	assert.Zero(t, got.PhaseCleanSends)
	require.NotNil(t, got.CooldownUntil)
	assert.Equal(t, f.now.Add(8*time.Hour), *got.CooldownUntil)
	assert.Equal(t, []string{"camp_1"}, []string(got.ExternalCampaignIDs))
	assert.Equal(t, enum.ReasonMailboxPaused, f.gate.CanSend(context.Background(), "mbox_1", "").Reason)
}

func TestHealingTick_GraduationReaddsAndResumes(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	entered := f.now.Add(-3 * 24 * time.Hour)
	mb := &models.MailboxHealth{
		ID: "mbox_1", Email: "mbox_1@acme.io", Status: enum.MailboxWarning, RecoveryPhase: enum.PhaseWarmRecovery,
		PauseCount: 1, PhaseEnteredAt: &entered, PhaseCleanSends: 55, PhaseSent: 55,
		RollingSentCount: 200, RollingBounceCount: 3, ExternalCampaignIDs: []string{"camp_1"},
	}
	f.seed(t, mb, false)

	ctx := context.Background()
	c := f.campaign(t, "camp_1")
	c.Status, c.PausedReason = enum.CampaignPaused, "all 1 assigned mailboxes are paused or disconnected"
	require.NoError(t, f.repos.CampaignHealthRepository.Update(ctx, c))
	require.NoError(t, f.gate.Reload(ctx))

	result, err := f.engine.HealingTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{Evaluated: 1, Advanced: 1}, result)

	got := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.MailboxHealthy, got.Status)
	assert.Equal(t, enum.PhaseHealthy, got.RecoveryPhase)
	require.NotNil(t, got.HealthySince)
	assert.Equal(t, f.now, *got.HealthySince)
	assert.Empty(t, got.ExternalCampaignIDs)

	assert.Equal(t, []string{"add:mbox_1:camp_1", "resume:camp_1"}, f.commander.Calls())
	assert.Equal(t, []string{"camp_1"}, f.activeCampaignsOf(t, "mbox_1"))
	assert.Equal(t, enum.CampaignActive, f.campaign(t, "camp_1").Status)
	assert.Contains(t, f.publisher.Kinds(), dto.NotificationGraduation)
	assert.True(t, f.gate.CanSend(ctx, "mbox_1", "camp_1").Allowed)

	// nothing left to drive
	result, err = f.engine.HealingTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Evaluated)
}

func TestHealingTick_QuarantineWaitsForDNS(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	cooldown := f.now.Add(-time.Minute)
	f.seed(t, &models.MailboxHealth{
		ID: "mbox_1", Email: "mbox_1@acme.io", Status: enum.MailboxPaused, RecoveryPhase: enum.PhaseQuarantine,
		PauseCount: 1, CooldownUntil: &cooldown,
	}, false)

	result, err := f.engine.HealingTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Held)
	assert.Equal(t, enum.PhaseQuarantine, f.mailbox(t, "mbox_1").RecoveryPhase)

	ctx := context.Background()
	checked := f.now
	d, err := f.repos.DomainHealthRepository.GetByID(ctx, "dom_1")
	require.NoError(t, err)
	d.SpfValid, d.DkimValid, d.DmarcValid, d.LastDNSCheckAt = true, true, true, &checked
	require.NoError(t, f.repos.DomainHealthRepository.Update(ctx, d))

	result, err = f.engine.HealingTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Advanced)
	got := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.PhaseRestrictedSend, got.RecoveryPhase)
	assert.Equal(t, enum.MailboxWarning, got.Status)
	assert.Equal(t, []string{"warmup:mbox_1:5:0"}, f.commander.Calls())
}

func TestProcess_SuggestModeOnlyReports(t *testing.T) {
	f := newFixture(t, enum.ModeSuggest)
	f.seed(t, healthyMailbox("mbox_1"), true)

	f.deliver(t, "mbox_1", enum.EventSent, 95)
	f.deliver(t, "mbox_1", enum.EventHardBounce, 5)

	mb := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.MailboxHealthy, mb.Status)
	assert.Equal(t, enum.PhaseNone, mb.RecoveryPhase)
	assert.Equal(t, 100, mb.RollingSentCount)
	assert.Equal(t, 5, mb.RollingBounceCount)
	assert.Empty(t, mb.ExternalCampaignIDs)
	assert.Nil(t, mb.WindowsResetAt)

	actions := f.auditActions()
	assert.NotZero(t, actions[enum.AuditWouldTransition])
	assert.NotZero(t, actions[enum.AuditWouldCommand])
	assert.Zero(t, actions[enum.AuditTransition])
	assert.Zero(t, actions[enum.AuditCommand])
	for _, a := range f.store.AuditEvents() {
		assert.Equal(t, enum.ModeSuggest, a.SystemMode)
	}

	assert.Empty(t, f.commander.Calls())
	assert.Empty(t, f.publisher.Kinds())
	assert.Equal(t, []string{"camp_1"}, f.activeCampaignsOf(t, "mbox_1"))
	assert.Equal(t, enum.CampaignActive, f.campaign(t, "camp_1").Status)
	assert.True(t, f.gate.CanSend(context.Background(), "mbox_1", "camp_1").Allowed)
}

func TestProcess_ObserveModeLeavesNoTrace(t *testing.T) {
	f := newFixture(t, enum.ModeObserve)
	f.seed(t, healthyMailbox("mbox_1"), true)

	f.deliver(t, "mbox_1", enum.EventSent, 95)
	f.deliver(t, "mbox_1", enum.EventHardBounce, 5)

	assert.Equal(t, enum.MailboxHealthy, f.mailbox(t, "mbox_1").Status)
	assert.Empty(t, f.store.AuditEvents())
	assert.Empty(t, f.commander.Calls())
	assert.Empty(t, f.publisher.Kinds())

	for _, ev := range f.store.DeliveryEvents() {
		assert.NotNil(t, ev.ProcessedAt)
	}
}

func TestProcess_ProviderFailureRaisesAlert(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce, withFailingProvider())
	f.seed(t, healthyMailbox("mbox_1"), true)

	f.deliver(t, "mbox_1", enum.EventSent, 95)
	f.deliver(t, "mbox_1", enum.EventHardBounce, 5)

	mb := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.MailboxPaused, mb.Status)
	assert.Equal(t, enum.ReasonMailboxPaused, f.gate.CanSend(context.Background(), "mbox_1", "camp_1").Reason)

	// assignment stays until the provider confirms the removal
	assert.Equal(t, []string{"camp_1"}, f.activeCampaignsOf(t, "mbox_1"))

	actions := f.auditActions()
	assert.Equal(t, 2, actions[enum.AuditAlert])
	assert.Zero(t, actions[enum.AuditCommand])
	assert.Contains(t, f.publisher.Kinds(), dto.NotificationAlert)
	for _, a := range f.store.AuditEvents() {
		if a.Action == enum.AuditAlert {
			assert.Contains(t, a.Reason, "provider state may have drifted")
		}
	}
}

func TestProcess_DuplicateAndMissingEvents(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	f.seed(t, healthyMailbox("mbox_1"), true)
	f.deliver(t, "mbox_1", enum.EventSent, 1)

	ctx := context.Background()
	events := f.store.DeliveryEvents()
	require.Len(t, events, 1)
	require.NoError(t, f.engine.ProcessDeliveryEvent(ctx, events[0].ID))
	assert.Equal(t, 1, f.mailbox(t, "mbox_1").SendsToday)

	require.NoError(t, f.engine.ProcessDeliveryEvent(ctx, "dev_missing"))
}

func TestReplayUnprocessed(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	f.seed(t, healthyMailbox("mbox_1"), true)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.repos.DeliveryEventRepository.Create(ctx, &models.DeliveryEvent{
			OrganizationID: org, Provider: enum.ProviderGeneric, ProviderEventID: fmt.Sprintf("lost_%d", i),
			MailboxID: "mbox_1", DomainID: "dom_1", Type: enum.EventSent,
			OccurredAt: f.now.Add(-time.Hour), ReceivedAt: f.now.Add(-time.Hour),
		})
		require.NoError(t, err)
	}

	replayed, err := f.engine.ReplayUnprocessed(ctx, 10*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, replayed)
	assert.Equal(t, 3, f.mailbox(t, "mbox_1").RollingSentCount)

	replayed, err = f.engine.ReplayUnprocessed(ctx, 10*time.Minute, 100)
	require.NoError(t, err)
	assert.Zero(t, replayed)
}

func TestVersionConflictIsRetried(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce, withMailboxConflicts(2))
	mb := healthyMailbox("mbox_1")
	mb.ManualIntervention = true
	f.seed(t, mb, false)

	got, err := f.engine.ClearIntervention(context.Background(), org, "mbox_1")
	require.NoError(t, err)
	assert.False(t, got.ManualIntervention)
	assert.False(t, f.mailbox(t, "mbox_1").ManualIntervention)
	assert.Equal(t, 1, f.auditActions()[enum.AuditOperator])
}

func TestVersionConflictGivesUp(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce, withMailboxConflicts(maxVersionRetries))
	mb := healthyMailbox("mbox_1")
	mb.ManualIntervention = true
	f.seed(t, mb, false)

	_, err := f.engine.ClearIntervention(context.Background(), org, "mbox_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, hserrors.ErrVersionConflict)
	assert.True(t, f.mailbox(t, "mbox_1").ManualIntervention)
}

func TestProcess_RedeliveryAfterFailedWriteCountsOnce(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce, withMailboxConflicts(maxVersionRetries))
	f.seed(t, healthyMailbox("mbox_1"), true)
	ctx := context.Background()

	id := f.persist(t, "mbox_1", enum.EventHardBounce)
	err := f.engine.ProcessDeliveryEvent(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, hserrors.ErrVersionConflict)

	require.NoError(t, f.engine.ProcessDeliveryEvent(ctx, id))

	sent, bounces := f.tracker.MailboxCounts("mbox_1")
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, bounces)
	sent, bounces = f.tracker.AggregateCounts(risk.Key{Type: enum.DOMAIN, ID: "dom_1"})
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, bounces)

	got := f.mailbox(t, "mbox_1")
	assert.Equal(t, 1, got.RollingSentCount)
	assert.Equal(t, 1, got.RollingBounceCount)

	ev, err := f.repos.DeliveryEventRepository.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, ev.ProcessedAt)
}

func TestProcess_LostProcessedMarkIsNotAppliedTwice(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce, withUnmarkableEvents(1))
	f.seed(t, healthyMailbox("mbox_1"), false)
	ctx := context.Background()

	id := f.persist(t, "mbox_1", enum.EventSent)
	require.Error(t, f.engine.ProcessDeliveryEvent(ctx, id))
	require.NoError(t, f.engine.ProcessDeliveryEvent(ctx, id))

	sent, _ := f.tracker.MailboxCounts("mbox_1")
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, f.mailbox(t, "mbox_1").SendsToday)

	ev, err := f.repos.DeliveryEventRepository.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, ev.ProcessedAt)
}

func TestProcess_GateFollowsCommitOrder(t *testing.T) {
	locker := newStallingLocker(distlock.MailboxKey("mbox_1"))
	f := newFixture(t, enum.ModeEnforce, withLocker(locker))
	entered := f.now.Add(-time.Hour)
	f.seed(t, &models.MailboxHealth{
		ID: "mbox_1", Email: "mbox_1@acme.io", Status: enum.MailboxWarning, RecoveryPhase: enum.PhaseRestrictedSend,
		PauseCount: 1, PhaseEnteredAt: &entered,
	}, false)
	ctx := context.Background()

	sentID := f.persist(t, "mbox_1", enum.EventSent)
	bounceID := f.persist(t, "mbox_1", enum.EventHardBounce)

	done := make(chan error, 1)
	go func() {
		done <- f.engine.ProcessDeliveryEvent(ctx, sentID)
	}()
	<-locker.released

	// the relapse commits while the send is still finishing its side effects
	require.NoError(t, f.engine.ProcessDeliveryEvent(ctx, bounceID))
	close(locker.proceed)
	require.NoError(t, <-done)

	got := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.MailboxPaused, got.Status)
	assert.Equal(t, enum.PhaseQuarantine, got.RecoveryPhase)
	assert.Equal(t, enum.ReasonMailboxPaused, f.gate.Evaluate("mbox_1", "", f.now).Reason)
}

func TestConnectivity_DisconnectAndReconnect(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	f.seed(t, healthyMailbox("mbox_1"), true)
	ctx := context.Background()

	mb, err := f.engine.ReportConnectivity(ctx, org, "mbox_1", false, "imap login failed")
	require.NoError(t, err)
	assert.Equal(t, enum.MailboxDisconnected, mb.Status)
	assert.Equal(t, "connectivity: imap login failed", mb.PausedReason)
	assert.Equal(t, []string{"camp_1"}, []string(mb.ExternalCampaignIDs))
	assert.Contains(t, f.commander.Calls(), "remove:mbox_1:camp_1")
	assert.Equal(t, enum.ReasonMailboxDisconnected, f.gate.CanSend(ctx, "mbox_1", "camp_1").Reason)

	// repeated failure is a no-op
	_, err = f.engine.ReportConnectivity(ctx, org, "mbox_1", false, "imap login failed")
	require.NoError(t, err)

	mb, err = f.engine.ReportConnectivity(ctx, org, "mbox_1", true, "")
	require.NoError(t, err)
	assert.Equal(t, enum.MailboxPaused, mb.Status)
	assert.Equal(t, enum.PhasePaused, mb.RecoveryPhase)
	assert.Equal(t, 1, mb.PauseCount)
	require.NotNil(t, mb.CooldownUntil)
	assert.Equal(t, f.now.Add(4*time.Hour), *mb.CooldownUntil)
	assert.Equal(t, enum.ReasonMailboxPaused, f.gate.CanSend(ctx, "mbox_1", "camp_1").Reason)

	_, err = f.engine.ReportConnectivity(ctx, "org_other", "mbox_1", true, "")
	assert.ErrorIs(t, err, hserrors.ErrMailboxNotFound)
}

func TestResetGraceTick(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	since := f.now.Add(-8 * 24 * time.Hour)
	mb := healthyMailbox("mbox_1")
	mb.RecoveryPhase = enum.PhaseHealthy
	mb.HealthySince, mb.RelapseCount, mb.PauseCount = &since, 2, 2
	f.seed(t, mb, false)

	recent := f.now.Add(-24 * time.Hour)
	other := healthyMailbox("mbox_2")
	other.HealthySince, other.RelapseCount = &recent, 1
	f.seed(t, other, false)

	reset, err := f.engine.ResetGraceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	got := f.mailbox(t, "mbox_1")
	assert.Zero(t, got.RelapseCount)
	assert.Zero(t, got.PauseCount)
	assert.Equal(t, 1, f.mailbox(t, "mbox_2").RelapseCount)

	events := f.store.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "relapses=2 pauses=2", events[0].FromState)
	assert.Equal(t, "relapses=0 pauses=0", events[0].ToState)
}

func pausedAwaitingOperator() *models.MailboxHealth {
	expired := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	return &models.MailboxHealth{
		ID: "mbox_1", Email: "mbox_1@acme.io", Status: enum.MailboxPaused, RecoveryPhase: enum.PhasePaused,
		PauseCount: 3, CooldownUntil: &expired, ManualIntervention: true,
	}
}

func TestIntervention_BlockingHoldsUntilCleared(t *testing.T) {
	policy := healing.DefaultPolicy()
	policy.Intervention = enum.InterventionBlocking
	f := newFixture(t, enum.ModeEnforce, withPolicy(policy))
	f.seed(t, pausedAwaitingOperator(), false)
	ctx := context.Background()

	result, err := f.engine.HealingTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Held)
	assert.Equal(t, enum.PhasePaused, f.mailbox(t, "mbox_1").RecoveryPhase)

	_, err = f.engine.ClearIntervention(ctx, org, "mbox_1")
	require.NoError(t, err)

	result, err = f.engine.HealingTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Advanced)
	assert.Equal(t, enum.PhaseQuarantine, f.mailbox(t, "mbox_1").RecoveryPhase)
}

func TestIntervention_AdvisoryDoesNotBlock(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	f.seed(t, pausedAwaitingOperator(), false)

	result, err := f.engine.HealingTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Advanced)

	mb := f.mailbox(t, "mbox_1")
	assert.Equal(t, enum.PhaseQuarantine, mb.RecoveryPhase)
	assert.True(t, mb.ManualIntervention)
}

func TestCampaign_ManualPauseIsNeverLiftedAutomatically(t *testing.T) {
	f := newFixture(t, enum.ModeSuggest)
	f.seed(t, healthyMailbox("mbox_1"), true)
	ctx := context.Background()

	c, err := f.engine.PauseCampaign(ctx, org, "camp_1", "")
	require.NoError(t, err)
	assert.Equal(t, enum.CampaignPaused, c.Status)
	assert.True(t, c.PausedManually)
	assert.Equal(t, []string{"pause:camp_1"}, f.commander.Calls())
	assert.Equal(t, enum.ReasonCampaignPaused, f.gate.Evaluate("mbox_1", "camp_1", f.now).Reason)

	c, err = f.engine.evaluateCampaign(ctx, "camp_1", true)
	require.NoError(t, err)
	assert.Equal(t, enum.CampaignPaused, c.Status)

	c, err = f.engine.ResumeCampaign(ctx, org, "camp_1", "")
	require.NoError(t, err)
	assert.Equal(t, enum.CampaignActive, c.Status)
	assert.False(t, c.PausedManually)
	assert.Equal(t, []string{"pause:camp_1", "resume:camp_1"}, f.commander.Calls())
	assert.Equal(t, 2, f.auditActions()[enum.AuditOperator])

	_, err = f.engine.PauseCampaign(ctx, "org_other", "camp_1", "")
	assert.ErrorIs(t, err, hserrors.ErrCampaignNotFound)
}

func TestApplySuggestion_MoveMailbox(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	f.seed(t, healthyMailbox("mbox_1"), true)
	f.seed(t, healthyMailbox("mbox_2"), false)
	ctx := context.Background()

	s := &models.LoadBalancingSuggestion{
		OrganizationID: org, DomainID: "dom_1", Kind: enum.SuggestMoveMailbox, MailboxID: "mbox_1",
		TargetMailboxID: "mbox_2", CampaignID: "camp_1", Priority: enum.PriorityHigh, Rationale: "domain overloaded",
	}
	require.NoError(t, f.repos.SuggestionRepository.ReplacePending(ctx, org, []*models.LoadBalancingSuggestion{s}))

	_, err := f.engine.ApplySuggestion(ctx, "org_other", s.ID)
	assert.ErrorIs(t, err, hserrors.ErrSuggestionNotFound)

	applied, err := f.engine.ApplySuggestion(ctx, org, s.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.SuggestionApplied, applied.Status)
	assert.Equal(t, []string{"add:mbox_2:camp_1", "remove:mbox_1:camp_1"}, f.commander.Calls())
	assert.Empty(t, f.activeCampaignsOf(t, "mbox_1"))
	assert.Equal(t, []string{"camp_1"}, f.activeCampaignsOf(t, "mbox_2"))
	assert.Equal(t, 1, f.auditActions()[enum.AuditSuggestion])

	_, err = f.engine.ApplySuggestion(ctx, org, s.ID)
	assert.ErrorIs(t, err, hserrors.ErrSuggestionApplied)
}

func TestUpsertMailbox(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	ctx := context.Background()

	mb, err := f.engine.UpsertMailbox(ctx, MailboxInput{ID: "mbox_9", OrganizationID: org, Email: "Alice@Globex.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice@globex.com", mb.Email)
	assert.True(t, mb.Active)
	assert.Equal(t, enum.MailboxHealthy, mb.Status)

	d, err := f.repos.DomainHealthRepository.GetByID(ctx, mb.DomainID)
	require.NoError(t, err)
	assert.Equal(t, "globex.com", d.Domain)
	assert.Equal(t, 1, d.TotalMailboxes)
	assert.True(t, f.gate.CanSend(ctx, "mbox_9", "").Allowed)

	// same domain is reused
	second, err := f.engine.UpsertMailbox(ctx, MailboxInput{ID: "mbox_10", OrganizationID: org, Email: "bob@globex.com"})
	require.NoError(t, err)
	assert.Equal(t, mb.DomainID, second.DomainID)

	inactive := false
	_, err = f.engine.UpsertMailbox(ctx, MailboxInput{ID: "mbox_9", OrganizationID: org, Email: "alice@globex.com", Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, enum.ReasonMailboxUnknown, f.gate.Evaluate("mbox_9", "", f.now).Reason)

	_, err = f.engine.UpsertMailbox(ctx, MailboxInput{ID: "mbox_11", OrganizationID: org, Email: "not-an-email"})
	assert.ErrorIs(t, err, hserrors.ErrInvalidMailbox)
}

func TestSetCampaignAssignments(t *testing.T) {
	f := newFixture(t, enum.ModeEnforce)
	mb := healthyMailbox("mbox_1")
	f.seed(t, mb, true)
	paused := &models.MailboxHealth{ID: "mbox_2", Email: "mbox_2@acme.io", Status: enum.MailboxPaused, RecoveryPhase: enum.PhasePaused}
	f.seed(t, paused, false)
	ctx := context.Background()

	c, err := f.engine.SetCampaignAssignments(ctx, org, "camp_1", []string{"mbox_2"})
	require.NoError(t, err)
	assert.Equal(t, enum.CampaignPaused, c.Status)
	assert.Empty(t, f.activeCampaignsOf(t, "mbox_1"))
	assert.Contains(t, f.commander.Calls(), "pause:camp_1")

	_, err = f.engine.SetCampaignAssignments(ctx, org, "camp_1", []string{"mbox_unknown"})
	assert.ErrorIs(t, err, hserrors.ErrMailboxNotFound)
}
