package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/superkabe/healthstack/api"
	"github.com/superkabe/healthstack/api/handlers"
	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/cron"
	"github.com/superkabe/healthstack/internal/database"
	"github.com/superkabe/healthstack/internal/listeners"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/metrics"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services"
	"github.com/superkabe/healthstack/services/events"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	redis        redis.UniversalClient
	cron         *cron.CronManager
	probes       healthcheck.Handler
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, healthDB *gorm.DB) (*Server, error) {
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		return nil, fmt.Errorf("could not initialize jaeger tracer: %w", err)
	}
	opentracing.SetGlobalTracer(tracer)

	redisClient, err := database.NewRedisClient(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	if redisClient == nil {
		appLogger.Warn("REDIS_ADDR not set, dedup and mailbox locks are process local")
	}

	repos := repository.InitRepositories(healthDB)

	svcs, err := services.InitServices(cfg, appLogger, repos, redisClient)
	if err != nil {
		return nil, err
	}

	sqlDB, err := healthDB.DB()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	cronManager := cron.NewCronManager(cfg, appLogger, kubernetesClient(appLogger), svcs.Engine, svcs.Gate,
		repos.RawWebhookEventRepository)

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		redis:        redisClient,
		cron:         cronManager,
		probes:       newProbes(sqlDB, redisClient, svcs.Gate, utils.Now),
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// kubernetesClient returns nil outside a cluster; the cron manager then runs without leader election.
func kubernetesClient(log logger.Logger) kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Infof("Not running in kubernetes: %v", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Warnf("Could not create kubernetes client: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	if err := s.services.Gate.Reload(ctx); err != nil {
		return fmt.Errorf("initial gate load: %w", err)
	}

	subscriber := s.services.EventsService.Subscriber
	subscriber.RegisterListener(listeners.NewDeliveryEventListener(s.log, s.services.Engine))
	subscriber.RegisterListener(listeners.NewNotificationLogListener(s.log))
	for _, queue := range []string{events.QueueDeliveryEvents, events.QueueNotifications} {
		if err := subscriber.ListenQueue(queue); err != nil {
			return fmt.Errorf("listen on %s: %w", queue, err)
		}
	}

	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/live", gin.WrapF(s.probes.LiveEndpoint))
	s.router.GET("/ready", gin.WrapF(s.probes.ReadyEndpoint))

	h := handlers.InitHandlers(s.config, s.log, s.services, s.repositories)
	api.RegisterRoutes(s.router, h, s.config.AppConfig.APIKey)

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(fmt.Sprintf("panic.%s", name))
		defer span.Finish()

		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		s.log.Errorf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	if err := s.cron.Start(s.config.AppConfig.PodName, s.config.AppConfig.PodNamespace); err != nil {
		s.log.Errorf("Cron manager failed to start: %v", err)
	}

	go s.wrapGoroutine("http_server", func() {
		s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	})
	s.log.Infof("Healthstack is running in %s mode", s.services.Engine.Mode())

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	s.log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("HTTP server shutdown error: %v", err)
	} else {
		s.log.Info("HTTP server shut down")
	}

	cronDone := make(chan struct{})
	go s.wrapGoroutine("cron_shutdown", func() {
		defer close(cronDone)
		s.cron.Stop()
	})
	select {
	case <-cronDone:
		s.log.Info("Cron jobs stopped")
	case <-shutdownCtx.Done():
		s.log.Warn("Cron stop timed out, forcing exit")
	}

	if err := s.services.EventsService.Close(); err != nil {
		s.log.Errorf("Event bus close error: %v", err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Errorf("Redis close error: %v", err)
		}
	}
	if s.tracerCloser != nil {
		_ = s.tracerCloser.Close()
	}

	return nil
}
