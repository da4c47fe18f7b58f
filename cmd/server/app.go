package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/notify"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/recurrence"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/segmentation"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/worker"
)

// app holds every wired component. close releases them in reverse order.
type app struct {
	cfg       *config.Config
	db        *sqlx.DB
	redis     *redis.Client
	publisher notify.Publisher
	registry  *prometheus.Registry
	service   *campaign.Service
	schedRepo campaign.SchedulerRepository
	locks     distlock.Factory
	metrics   *metrics.Metrics
}

func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := config.LoadFromEnv(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Redact())

	a := &app{cfg: cfg, registry: prometheus.NewRegistry(), publisher: notify.Nop{}}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	limits := domain.PlanLimits{
		MaxCampaigns:          cfg.Plans.DefaultMaxCampaigns,
		MaxCampaignRecipients: cfg.Plans.DefaultMaxRecipients,
	}

	var deps campaign.Deps
	switch backend := storeBackend(flags.store, cfg); backend {
	case "postgres":
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("--store=postgres needs database.url or DATABASE_URL")
		}
		db, err := sqlx.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnLifetime())
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		a.db = db

		campaigns := postgres.NewCampaignRepo(db)
		segments := segmentation.NewStore(db)
		deps = campaign.Deps{
			Campaigns:  campaigns,
			Recipients: postgres.NewRecipientRepo(db),
			Queue:      postgres.NewQueueRepo(db),
			Segments:   segments,
			Channels:   postgres.NewChannelRepo(db),
			Plans:      postgres.NewPlanRepo(db, limits),
			Audience:   segmentation.NewEngine(segments),
		}
		a.schedRepo = campaigns
		logger.Info("[server] using postgres store", "max_open_conns", cfg.Database.MaxOpenConns)
	case "memory":
		store := memory.New(limits)
		if flags.seedPath != "" {
			if err := loadSeed(flags.seedPath, store); err != nil {
				return nil, err
			}
		}
		deps = campaign.Deps{
			Campaigns:  store,
			Recipients: store,
			Queue:      store,
			Segments:   store,
			Channels:   store,
			Plans:      store,
			Audience:   segmentation.NewEngine(store),
		}
		a.schedRepo = store
		logger.Warn("[server] using in-memory store; state is lost on exit")
	default:
		return nil, fmt.Errorf("unknown --store %q", backend)
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
	}
	a.locks = distlock.NewFactory(a.redis, a.sqlDB(), cfg.Scheduler.LockTTL())

	if cfg.AMQP.Enabled {
		pub, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			a.close()
			return nil, err
		}
		a.publisher = pub
		logger.Info("[server] publishing queue events", "queue", cfg.AMQP.Queue)
	}

	calc := recurrence.NewCalculator(
		recurrence.WithCache(recurrence.NewFreeCache(cfg.RecurrenceCache.SizeBytes, cfg.RecurrenceCache.TTL())),
		recurrence.WithTolerance(cfg.Scheduler.Tolerance()),
		recurrence.WithStaleAfter(cfg.Scheduler.StaleAfter()),
	)
	a.service = campaign.NewService(deps,
		campaign.WithCalculator(calc),
		campaign.WithPublisher(a.publisher),
		campaign.WithLocks(a.locks, cfg.Scheduler.LockTTL()),
		campaign.WithMetrics(a.metrics),
		campaign.WithPacing(campaign.Pacing{
			DefaultDelay: time.Duration(cfg.Pacing.DefaultDelayMs) * time.Millisecond,
			JitterMin:    time.Duration(cfg.Pacing.DefaultJitterMinMs) * time.Millisecond,
			JitterMax:    time.Duration(cfg.Pacing.DefaultJitterMaxMs) * time.Millisecond,
		}),
	)
	return a, nil
}

func storeBackend(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg.Database.URL != "" {
		return "postgres"
	}
	return "memory"
}

func (a *app) sqlDB() *sql.DB {
	if a.db == nil {
		return nil
	}
	return a.db.DB
}

// scheduler builds the scheduler loop over the wired service.
func (a *app) scheduler() *worker.CampaignScheduler {
	sc := a.cfg.Scheduler
	return worker.NewCampaignScheduler(a.schedRepo, a.service, worker.SchedulerConfig{
		PollInterval:           sc.PollInterval(),
		MaxConcurrentCompanies: sc.MaxConcurrentCompanies,
		BatchSize:              sc.BatchSize,
		MaxCampaignsPerCompany: sc.MaxCampaignsPerCompany,
		OneShotBatch:           sc.OneShotBatch,
	},
		worker.WithCompanyLeases(a.locks),
		worker.WithSchedulerMetrics(a.metrics),
		worker.WithTracer(otel.Tracer("campaign-engine/scheduler")),
	)
}

func (a *app) metricsHandler() http.Handler {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		logger.Warn("[server] close publisher", "error", err)
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	logger.Sync()
}
