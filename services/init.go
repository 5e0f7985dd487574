package services

import (
	"github.com/redis/go-redis/v9"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/distlock"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/services/balancer"
	"github.com/superkabe/healthstack/services/connectivity"
	"github.com/superkabe/healthstack/services/dnscheck"
	"github.com/superkabe/healthstack/services/engine"
	"github.com/superkabe/healthstack/services/events"
	"github.com/superkabe/healthstack/services/gate"
	"github.com/superkabe/healthstack/services/healing"
	"github.com/superkabe/healthstack/services/health"
	"github.com/superkabe/healthstack/services/ingest"
	"github.com/superkabe/healthstack/services/provider"
	"github.com/superkabe/healthstack/services/report"
	"github.com/superkabe/healthstack/services/risk"
	"github.com/superkabe/healthstack/services/storage"
)

type Services struct {
	EventsService *events.EventsService
	Gate          *gate.Gate
	Engine        *engine.Engine
	Ingestor      *ingest.Ingestor
	Advisor       *balancer.Advisor
	RiskReport    *report.Service
	Archive       interfaces.RawEventArchive
}

// InitServices wires the health engine. redisClient may be nil.
func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories, redisClient redis.UniversalClient) (*Services, error) {
	publisherConfig := &events.PublisherConfig{
		MessageTTL:          events.DefaultMessageTTL,
		MaxRetries:          events.DefaultMaxRetries,
		PublishTimeout:      events.DefaultPublishTimeout,
		ReconnectBackoff:    events.DefaultReconnectBackoff,
		MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
	}
	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, publisherConfig, cfg.AppConfig.LocalWorkers)
	if err != nil {
		return nil, err
	}

	mode := enum.ParseSystemMode(cfg.AppConfig.SystemMode)
	log.Infof("System mode: %s", mode)

	riskThresholds := risk.ThresholdsFromConfig(cfg.RiskConfig)
	policy := healing.NewPolicy(cfg.HealingConfig)

	healthGate := gate.NewGate(log, policy, mode,
		repos.MailboxHealthRepository, repos.DomainHealthRepository, repos.CampaignHealthRepository)

	advisor := balancer.NewAdvisor(log,
		balancer.Factors{Overload: cfg.BalancerConfig.OverloadFactor, Underutilized: cfg.BalancerConfig.UnderutilizedFactor},
		repos.MailboxHealthRepository, repos.DomainHealthRepository, repos.CampaignHealthRepository,
		repos.CampaignMailboxRepository, repos.SuggestionRepository)

	dns := dnscheck.NewChecker(log, dnscheck.NewResolver(cfg.DNSConfig), dnscheck.NewBlacklistScanner(), dnscheck.NewAgeLookup(),
		cfg.DNSConfig.DKIMSelectors)

	conn := connectivity.NewChecker(log, repos.MailboxConnectionRepository,
		connectivity.NewProber(cfg.ConnectivityConfig.Timeout), cfg.ConnectivityConfig.Concurrency)

	tracker := risk.NewTracker(log, riskThresholds, repos.DeliveryEventRepository)

	healthEngine := engine.NewEngine(engine.Deps{
		Log:          log,
		Repos:        repos,
		Tracker:      tracker,
		Machine:      health.NewMailboxMachine(policy),
		Pipeline:     healing.NewPipeline(policy),
		Thresholds:   health.ThresholdsFromConfig(cfg.RiskConfig),
		Gate:         healthGate,
		Commander:    provider.NewCommander(cfg.ProviderConfig, log),
		Publisher:    eventsService.Publisher,
		Locker:       distlock.NewEntityLocker(redisClient, cfg.RedisConfig.LockTTL, cfg.RedisConfig.LockWaitLimit),
		Advisor:      advisor,
		DNS:          dns,
		Connectivity: conn,
	})

	archive := storage.NewRawEventArchive(cfg.StorageConfig)
	ingestor := ingest.NewIngestor(log,
		ingest.NewConfig(cfg.AppConfig, cfg.WebhookConfig, cfg.RiskConfig),
		repos,
		ingest.NewDeduplicator(redisClient, cfg.RedisConfig.DedupWindow, cfg.RedisConfig.DedupTimeout),
		archive,
		eventsService.Publisher)

	return &Services{
		EventsService: eventsService,
		Gate:          healthGate,
		Engine:        healthEngine,
		Ingestor:      ingestor,
		Advisor:       advisor,
		RiskReport:    report.NewService(log, repos.MailboxHealthRepository, repos.DomainHealthRepository, tracker, riskThresholds),
		Archive:       archive,
	}, nil
}
