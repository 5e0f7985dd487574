package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/repository/memory"
	"github.com/superkabe/healthstack/services/risk"
)

func mailbox(id string, status enum.MailboxStatus, phase enum.RecoveryPhase) *models.MailboxHealth {
	return &models.MailboxHealth{
		ID: id, OrganizationID: "org_1", Email: id + "@acme.io", DomainID: "dom_1",
		Status: status, RecoveryPhase: phase, Active: true,
	}
}

func TestScore_NoDataIsLow(t *testing.T) {
	r := Score(mailbox("mbox_1", enum.MailboxHealthy, enum.PhaseNone), nil, risk.Evaluation{}, risk.DefaultThresholds())
	assert.Zero(t, r.Score)
	assert.Equal(t, LevelLow, r.Level)
	assert.Equal(t, TrendUnknown, r.Trend)
	assert.Empty(t, r.Factors)
}

func TestScore_PersistedCountersWithoutLiveWindows(t *testing.T) {
	mb := mailbox("mbox_1", enum.MailboxWarning, enum.PhaseNone)
	mb.RollingSentCount, mb.RollingBounceCount = 100, 4

	r := Score(mb, nil, risk.Evaluation{}, risk.DefaultThresholds())
	assert.Equal(t, 42, r.Score)
	assert.Equal(t, LevelMedium, r.Level)
	assert.InDelta(t, 0.04, r.BounceRatio, 1e-9)
	assert.Len(t, r.Factors, 2)
}

func TestScore_RisingTrend(t *testing.T) {
	eval := risk.Evaluation{WarningSent: 60, WarningBounces: 3, PauseSent: 100, PauseBounces: 3}
	r := Score(mailbox("mbox_1", enum.MailboxHealthy, enum.PhaseNone), nil, eval, risk.DefaultThresholds())
	assert.Equal(t, TrendRising, r.Trend)
	assert.Equal(t, 34, r.Score)

	eval = risk.Evaluation{WarningSent: 60, WarningBounces: 0, PauseSent: 100, PauseBounces: 2}
	r = Score(mailbox("mbox_1", enum.MailboxHealthy, enum.PhaseNone), nil, eval, risk.DefaultThresholds())
	assert.Equal(t, TrendFalling, r.Trend)
	assert.Equal(t, 16, r.Score)
}

func TestScore_RecoveryHistoryAndDomain(t *testing.T) {
	mb := mailbox("mbox_1", enum.MailboxPaused, enum.PhaseQuarantine)
	mb.RelapseCount = 5
	d := &models.DomainHealth{ID: "dom_1", Domain: "acme.io", DomainAgeDays: 5, Blacklisted: true}

	r := Score(mb, d, risk.Evaluation{}, risk.DefaultThresholds())
	// relapses capped at 30, quarantine 20, 5 day old domain 12, blacklist 20
	assert.Equal(t, 82, r.Score)
	assert.Equal(t, LevelHigh, r.Level)
	assert.Equal(t, "acme.io", r.Domain)
	assert.Contains(t, r.Factors, "domain blacklisted")
	assert.Contains(t, r.Factors, "5 relapses")
}

func TestScore_ClampedAndDisconnected(t *testing.T) {
	mb := mailbox("mbox_1", enum.MailboxDisconnected, enum.PhasePaused)
	mb.RelapseCount = 3
	mb.RollingSentCount, mb.RollingBounceCount = 100, 9
	d := &models.DomainHealth{ID: "dom_1", Domain: "acme.io", DomainAgeDays: 1, Blacklisted: true}

	r := Score(mb, d, risk.Evaluation{}, risk.DefaultThresholds())
	assert.Equal(t, maxScore, r.Score)
	assert.Contains(t, r.Factors, "mailbox disconnected")
}

type fakeWindows map[string]risk.Evaluation

func (f fakeWindows) EvaluateMailbox(mailboxID string, _ bool) risk.Evaluation {
	return f[mailboxID]
}

func TestService_GenerateSortsHighToLow(t *testing.T) {
	ctx := context.Background()
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error"})
	l.InitLogger()
	repos, _ := memory.NewRepositories()

	require.NoError(t, repos.DomainHealthRepository.Create(ctx, &models.DomainHealth{ID: "dom_1", OrganizationID: "org_1", Domain: "acme.io", Status: enum.DomainHealthy}))
	require.NoError(t, repos.MailboxHealthRepository.Create(ctx, mailbox("mbox_a", enum.MailboxHealthy, enum.PhaseNone)))
	require.NoError(t, repos.MailboxHealthRepository.Create(ctx, mailbox("mbox_b", enum.MailboxPaused, enum.PhasePaused)))
	require.NoError(t, repos.MailboxHealthRepository.Create(ctx, mailbox("mbox_c", enum.MailboxHealthy, enum.PhaseNone)))
	other := mailbox("mbox_x", enum.MailboxPaused, enum.PhasePaused)
	other.OrganizationID = "org_2"
	require.NoError(t, repos.MailboxHealthRepository.Create(ctx, other))

	windows := fakeWindows{"mbox_c": {WarningSent: 60, WarningBounces: 2, PauseSent: 100, PauseBounces: 2}}
	svc := NewService(l, repos.MailboxHealthRepository, repos.DomainHealthRepository, windows, risk.DefaultThresholds())

	report, err := svc.Generate(ctx, "org_1")
	require.NoError(t, err)
	assert.Equal(t, "org_1", report.OrganizationID)
	require.Len(t, report.Mailboxes, 3)

	var order []string
	for _, r := range report.Mailboxes {
		order = append(order, r.MailboxID)
		assert.Equal(t, "acme.io", r.Domain)
	}
	assert.Equal(t, []string{"mbox_c", "mbox_b", "mbox_a"}, order)
}
