package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"

	"github.com/superkabe/healthstack/config"
	cron_config "github.com/superkabe/healthstack/internal/cron/config"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/repository/memory"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services/engine"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

type fakeJobs struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeJobs) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.fail {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeJobs) HealingTick(context.Context) (engine.TickResult, error) {
	return engine.TickResult{}, f.record("healing")
}

func (f *fakeJobs) ResetGraceTick(context.Context) (int, error) {
	return 0, f.record("grace")
}

func (f *fakeJobs) RefreshDomainChecks(context.Context) (int, error) {
	return 0, f.record("dns")
}

func (f *fakeJobs) RecomputeAllDomains(context.Context) (int, error) {
	return 0, f.record("domains")
}

func (f *fakeJobs) CheckConnectivity(context.Context) (int, error) {
	return 0, f.record("connectivity")
}

func (f *fakeJobs) ReplayUnprocessed(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	return 0, f.record("replay")
}

func (f *fakeJobs) GenerateAllLoadBalancing(context.Context) (int, error) {
	return 0, f.record("balance")
}

type fakeGate struct{ reloads int }

func (g *fakeGate) Reload(context.Context) error {
	g.reloads++
	return nil
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode:  true,
		LogLevel: "error",
	})
	appLogger.InitLogger()
	return appLogger
}

func testConfig() *config.Config {
	return &config.Config{
		AppConfig:  &config.AppConfig{PodName: "pod-1", RawEventMaxDays: 30},
		CronConfig: &cron_config.Config{},
	}
}

func TestNewCronManager(t *testing.T) {
	cfg := testConfig()
	log := getLogger()
	k8s := &mockKubernetesInterface{}

	cm := NewCronManager(cfg, log, k8s, nil, nil, nil)

	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_RegisterJobs(t *testing.T) {
	cfg := testConfig()
	cfg.CronConfig.CronScheduleHeartbeat = "0 * * * * *"
	cfg.CronConfig.CronScheduleHealingTick = "0 */20 * * * *"
	cfg.CronConfig.CronScheduleDomainRecompute = "0 5 * * * *"
	cfg.CronConfig.CronScheduleGateReload = "0 */5 * * * *"

	cm := NewCronManager(cfg, getLogger(), nil, &fakeJobs{}, &fakeGate{}, nil)
	c := cronv3.New(cronv3.WithSeconds())
	cm.registerJobs(c)

	assert.Len(t, cm.jobIDs, 4)
	assert.Contains(t, cm.jobIDs, "healing_tick")
	assert.Contains(t, cm.jobIDs, "domain_recompute")
	assert.NotContains(t, cm.jobIDs, "replay")
	assert.Len(t, c.Entries(), 4)
}

func TestCronManager_RegisterJobs_SkipsEngineJobsWithoutEngine(t *testing.T) {
	cfg := testConfig()
	cfg.CronConfig.CronScheduleHeartbeat = "0 * * * * *"
	cfg.CronConfig.CronScheduleHealingTick = "0 */20 * * * *"

	cm := NewCronManager(cfg, getLogger(), nil, nil, nil, nil)
	cm.registerJobs(cronv3.New(cronv3.WithSeconds()))

	assert.Len(t, cm.jobIDs, 1)
	assert.Contains(t, cm.jobIDs, "heartbeat")
}

func TestCronManager_JobsCallEngine(t *testing.T) {
	jobs := &fakeJobs{}
	gate := &fakeGate{}
	cm := NewCronManager(testConfig(), getLogger(), nil, jobs, gate, nil)

	for _, j := range cm.definitions(&cron_config.Config{}) {
		cm.runJob(j)
	}

	assert.Equal(t, []string{"healing", "grace", "connectivity", "dns", "domains", "replay", "balance"}, jobs.calls)
	assert.Equal(t, 1, gate.reloads)
}

func TestCronManager_DomainRecomputeRunsAfterDNSFailure(t *testing.T) {
	jobs := &fakeJobs{fail: true}
	cm := NewCronManager(testConfig(), getLogger(), nil, jobs, nil, nil)

	for _, j := range cm.definitions(&cron_config.Config{}) {
		if j.name == "domain_recompute" {
			cm.runJob(j)
		}
	}

	assert.Equal(t, []string{"dns", "domains"}, jobs.calls)
}

func TestCronManager_PruneRawEvents(t *testing.T) {
	ctx := context.Background()
	repos, _ := memory.NewRepositories()
	now := utils.Now()
	require.NoError(t, repos.RawWebhookEventRepository.Create(ctx, &models.RawWebhookEvent{ID: "raw_old", ReceivedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, repos.RawWebhookEventRepository.Create(ctx, &models.RawWebhookEvent{ID: "raw_new", ReceivedAt: now.AddDate(0, 0, -1)}))

	cm := NewCronManager(testConfig(), getLogger(), nil, nil, nil, repos.RawWebhookEventRepository)
	require.NoError(t, cm.pruneRawEvents(ctx))

	remaining, err := repos.RawWebhookEventRepository.DeleteOlderThan(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestCronManager_Stop(t *testing.T) {
	cm := NewCronManager(testConfig(), getLogger(), &mockKubernetesInterface{}, nil, nil, nil)

	mockCron := cronv3.New()
	mockCron.Start()
	cm.cron = mockCron

	cm.Stop()
	// second stop is a no-op
	cm.Stop()

	select {
	case <-cm.stopCh:
	default:
		t.Error("Stop channel was not closed")
	}
}
