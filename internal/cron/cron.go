package cron

import (
	"context"
	"os"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/interfaces"
	cron_config "github.com/superkabe/healthstack/internal/cron/config"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/metrics"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services/engine"
)

const (
	// GroupRecovery serializes jobs that walk mailbox recovery state
	GroupRecovery = "recovery"
	// GroupDomains serializes DNS refresh and domain recompute
	GroupDomains = "domains"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second

	replayOlderThan = 2 * time.Minute
	replayBatch     = 500
	jobTimeout      = 30 * time.Minute
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupRecovery: new(sync.Mutex),
		GroupDomains:  new(sync.Mutex),
	},
}

// HealthJobs is the slice of the engine driven by the scheduler.
type HealthJobs interface {
	HealingTick(ctx context.Context) (engine.TickResult, error)
	ResetGraceTick(ctx context.Context) (int, error)
	RefreshDomainChecks(ctx context.Context) (int, error)
	RecomputeAllDomains(ctx context.Context) (int, error)
	CheckConnectivity(ctx context.Context) (int, error)
	ReplayUnprocessed(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	GenerateAllLoadBalancing(ctx context.Context) (int, error)
}

type GateReloader interface {
	Reload(ctx context.Context) error
}

type CronManager struct {
	cfg       *config.Config
	log       logger.Logger
	cron      *cronv3.Cron
	k8s       kubernetes.Interface
	stopCh    chan struct{}
	stopOnce  sync.Once
	jobIDs    map[string]cronv3.EntryID
	jobs      HealthJobs
	gate      GateReloader
	rawEvents interfaces.RawWebhookEventRepository
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, jobs HealthJobs, gate GateReloader,
	rawEvents interfaces.RawWebhookEventRepository) *CronManager {
	return &CronManager{
		cfg:       cfg,
		log:       log,
		k8s:       k8s,
		stopCh:    make(chan struct{}),
		jobIDs:    make(map[string]cronv3.EntryID),
		jobs:      jobs,
		gate:      gate,
		rawEvents: rawEvents,
	}
}

// Start initializes and starts the cron manager with leader election.
// If k8s is nil, it will start in local mode without leader election.
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "healthstack-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}
		le.Run(context.Background())
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop waits for running jobs before returning.
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		if cm.cron != nil {
			cm.log.Info("Stopping cron manager")
			<-cm.cron.Stop().Done()
		}
		close(cm.stopCh)
	})
}

type job struct {
	name     string
	schedule string
	group    string
	engine   bool
	run      func(ctx context.Context) error
}

func (cm *CronManager) definitions(schedules *cron_config.Config) []job {
	podName := cm.podName()
	return []job{
		{name: "heartbeat", schedule: schedules.CronScheduleHeartbeat, run: func(context.Context) error {
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
			return nil
		}},
		{name: "healing_tick", engine: true, schedule: schedules.CronScheduleHealingTick, group: GroupRecovery, run: func(ctx context.Context) error {
			_, err := cm.jobs.HealingTick(ctx)
			return err
		}},
		{name: "grace_reset", engine: true, schedule: schedules.CronScheduleGraceReset, group: GroupRecovery, run: func(ctx context.Context) error {
			n, err := cm.jobs.ResetGraceTick(ctx)
			if n > 0 {
				cm.log.Infof("Cleared recovery history of %d mailboxes", n)
			}
			return err
		}},
		{name: "connectivity", engine: true, schedule: schedules.CronScheduleConnectivity, group: GroupRecovery, run: func(ctx context.Context) error {
			n, err := cm.jobs.CheckConnectivity(ctx)
			if n > 0 {
				cm.log.Infof("Connectivity check changed %d mailboxes", n)
			}
			return err
		}},
		{name: "domain_recompute", engine: true, schedule: schedules.CronScheduleDomainRecompute, group: GroupDomains, run: func(ctx context.Context) error {
			if _, err := cm.jobs.RefreshDomainChecks(ctx); err != nil {
				cm.log.Errorf("DNS refresh failed: %v", err)
			}
			_, err := cm.jobs.RecomputeAllDomains(ctx)
			return err
		}},
		{name: "replay", engine: true, schedule: schedules.CronScheduleReplay, run: func(ctx context.Context) error {
			n, err := cm.jobs.ReplayUnprocessed(ctx, replayOlderThan, replayBatch)
			if n > 0 {
				cm.log.Warnf("Replayed %d unprocessed delivery events", n)
			}
			return err
		}},
		{name: "load_balancing", engine: true, schedule: schedules.CronScheduleLoadBalancing, run: func(ctx context.Context) error {
			_, err := cm.jobs.GenerateAllLoadBalancing(ctx)
			return err
		}},
		{name: "gate_reload", schedule: schedules.CronScheduleGateReload, run: func(ctx context.Context) error {
			if cm.gate == nil {
				return nil
			}
			return cm.gate.Reload(ctx)
		}},
		{name: "prune_raw_events", schedule: schedules.CronSchedulePruneRawEvents, run: cm.pruneRawEvents},
	}
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	schedules := cm.cfg.CronConfig
	if schedules == nil {
		schedules = &cron_config.Config{}
	}

	for _, j := range cm.definitions(schedules) {
		if j.schedule == "" {
			continue
		}
		if j.engine && cm.jobs == nil {
			continue
		}
		j := j
		id, err := c.AddFunc(j.schedule, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.runJob(j)
		})
		if err != nil {
			cm.log.Fatalf("Could not add %s cron job: %v", j.name, err)
		}
		cm.jobIDs[j.name] = id
		cm.log.Infof("Registered %s job with schedule: %s", j.name, j.schedule)
	}
}

func (cm *CronManager) runJob(j job) {
	if j.group != "" {
		jobLocks.locks[j.group].Lock()
		defer jobLocks.locks[j.group].Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager."+j.name)
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if err := j.run(ctx); err != nil {
		tracing.TraceErr(span, err)
		metrics.CronJobRuns.WithLabelValues(j.name, "error").Inc()
		cm.log.Errorf("Cron job %s failed: %v", j.name, err)
		return
	}
	metrics.CronJobRuns.WithLabelValues(j.name, "ok").Inc()
}

func (cm *CronManager) pruneRawEvents(ctx context.Context) error {
	if cm.rawEvents == nil {
		return nil
	}
	days := 30
	if cm.cfg.AppConfig != nil && cm.cfg.AppConfig.RawEventMaxDays > 0 {
		days = cm.cfg.AppConfig.RawEventMaxDays
	}
	deleted, err := cm.rawEvents.DeleteOlderThan(ctx, utils.Now().AddDate(0, 0, -days))
	if err != nil {
		return err
	}
	if deleted > 0 {
		cm.log.Infof("Pruned %d raw webhook events older than %d days", deleted, days)
	}
	return nil
}

func (cm *CronManager) podName() string {
	if cm.cfg.AppConfig != nil && cm.cfg.AppConfig.PodName != "" {
		return cm.cfg.AppConfig.PodName
	}
	return "local"
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	c := cronv3.New(
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}
