package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/cache"
	"github.com/aegisshield/compliance-tracker/internal/calendar"
	"github.com/aegisshield/compliance-tracker/internal/clock"
	"github.com/aegisshield/compliance-tracker/internal/compliance"
	"github.com/aegisshield/compliance-tracker/internal/config"
	"github.com/aegisshield/compliance-tracker/internal/database"
	"github.com/aegisshield/compliance-tracker/internal/escalation"
	"github.com/aegisshield/compliance-tracker/internal/handlers"
	"github.com/aegisshield/compliance-tracker/internal/kafka"
	"github.com/aegisshield/compliance-tracker/internal/ledger"
	"github.com/aegisshield/compliance-tracker/internal/metrics"
	"github.com/aegisshield/compliance-tracker/internal/middleware"
	"github.com/aegisshield/compliance-tracker/internal/notification"
	"github.com/aegisshield/compliance-tracker/internal/policy"
	"github.com/aegisshield/compliance-tracker/internal/realtime"
	"github.com/aegisshield/compliance-tracker/internal/scheduler"
	"github.com/aegisshield/compliance-tracker/internal/server"
	"github.com/aegisshield/compliance-tracker/internal/sla"
	"github.com/aegisshield/compliance-tracker/internal/tracker"
)

// app holds every wired component of one process
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector

	notifier  *notification.Dispatcher
	hub       *realtime.Hub
	tracker   *tracker.Tracker
	scheduler *scheduler.Scheduler
	consumer  *kafka.Consumer
	auth      *middleware.Authenticator
	handler   *handlers.Handler
	grpc      *server.GRPCServer

	closers []func() error
}

type stores struct {
	ledger ledger.Store
	events escalation.Store
	policy policy.Store
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(a.registry)
	a.metrics = collector
	clk := clock.Real{}

	cal, err := newCalendar(cfg.Calendar)
	if err != nil {
		return nil, err
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	var (
		notices sla.NoticeStore = sla.NewMemoryNoticeStore(cfg.Redis.NoticeTTL)
		lock    tracker.SweepLock
	)
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		notices = cache.NewNoticeStore(client, cfg.Redis.KeyPrefix, cfg.Redis.NoticeTTL)
		if cfg.Sweep.LockEnabled {
			lock = newSweepLock(client, cfg, logger)
		}
	}

	sender, err := a.newSender()
	if err != nil {
		return nil, err
	}
	renderer, err := notification.NewRenderer(cfg.Notifications.Templates)
	if err != nil {
		return nil, err
	}
	a.notifier = notification.NewDispatcher(cfg.Notifications, sender, renderer, collector, logger)
	a.hub = realtime.NewHub(logger)

	led := ledger.New(st.ledger, clk, logger)
	pol := policy.NewService(st.policy, clk, logger)
	if err := pol.Seed(ctx, cfg.Seed.SLAConfigurations(), cfg.Seed.EscalationRules()); err != nil {
		return nil, fmt.Errorf("failed to seed configuration: %w", err)
	}

	slaClock := sla.NewClock(cal)
	dispatcher := escalation.NewDispatcher(st.events, a.notifier, a.hub, clk, collector, logger)
	query := compliance.NewQuery(led, pol, st.events, slaClock, clk, cfg.Dashboard.SnapshotTTL, logger)

	a.tracker = tracker.New(tracker.Deps{
		Ledger:          led,
		Policy:          pol,
		SLAClock:        slaClock,
		Evaluator:       escalation.NewEvaluator(st.events, cal, logger),
		Dispatcher:      dispatcher,
		Notifier:        a.notifier,
		Notices:         notices,
		Lock:            lock,
		Observer:        query,
		Clock:           clk,
		Metrics:         collector,
		RedispatchLimit: cfg.Sweep.RedispatchLimit,
	}, logger)

	a.scheduler, err = scheduler.New(a.tracker, cfg.Sweep.Schedule, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Kafka.Enabled {
		a.consumer = kafka.NewConsumer(cfg.Kafka, a.tracker, collector, logger)
		a.closers = append(a.closers, a.consumer.Close)
	}

	a.auth = middleware.NewAuthenticator(cfg.Security, logger)
	a.handler = handlers.NewHandler(handlers.Deps{
		Tracker:     a.tracker,
		Query:       query,
		Escalations: dispatcher,
		Policy:      pol,
		Sweeps:      a.scheduler,
		Stream:      a.hub.HandleWebSocket,
	}, logger)
	a.grpc = server.NewGRPCServer(cfg.Debug, logger)

	built = true
	return a, nil
}

func (a *app) openStores(ctx context.Context) (stores, error) {
	if a.cfg.Storage.Driver != "postgres" {
		a.logger.Warn("Using in-memory storage; state is lost on restart")
		return stores{
			ledger: ledger.NewMemoryStore(),
			events: escalation.NewMemoryStore(),
			policy: policy.NewMemoryStore(),
		}, nil
	}

	db, err := database.Connect(ctx, a.cfg.Database)
	if err != nil {
		return stores{}, err
	}
	a.closers = append(a.closers, db.Close)

	if a.cfg.Database.AutoMigrate {
		if err := database.Migrate(db.DB); err != nil {
			return stores{}, err
		}
	}

	policyStore, err := database.NewPolicyStore(db.DB, a.cfg.Debug)
	if err != nil {
		return stores{}, err
	}
	return stores{
		ledger: database.NewLedgerStore(db),
		events: database.NewEventStore(db),
		policy: policyStore,
	}, nil
}

func (a *app) newSender() (notification.Sender, error) {
	switch a.cfg.Notifications.Sink {
	case "webhook":
		return notification.NewWebhookSender(a.cfg.Notifications.Webhook, a.cfg.Notifications.Timeout, a.logger), nil
	case "kafka":
		s := notification.NewKafkaSender(a.cfg.Kafka, a.logger)
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "log", "":
		return notification.NewLogSender(a.logger), nil
	default:
		return nil, fmt.Errorf("unknown notification sink %q", a.cfg.Notifications.Sink)
	}
}

func newCalendar(cfg config.CalendarConfig) (*calendar.Calendar, error) {
	holidays, err := calendar.ParseHolidays(cfg.Holidays)
	if err != nil {
		return nil, err
	}
	opts := []calendar.Option{calendar.WithHolidays(holidays...)}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid calendar timezone %q: %w", cfg.Timezone, err)
		}
		opts = append(opts, calendar.WithLocation(loc))
	}
	return calendar.New(opts...), nil
}

func newSweepLock(client *redis.Client, cfg config.Config, logger *zap.Logger) tracker.SweepLock {
	return cache.NewSweepLock(client, cfg.Redis.KeyPrefix, cfg.Sweep.LockTTL, logger)
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
