package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hazard-alert-service/internal/api"
	"hazard-alert-service/internal/clock"
	"hazard-alert-service/internal/config"
	"hazard-alert-service/internal/db"
	"hazard-alert-service/internal/dispatch"
	"hazard-alert-service/internal/kafka"
	"hazard-alert-service/internal/live"
	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/metrics"
	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/notification"
	"hazard-alert-service/internal/providers"
	"hazard-alert-service/internal/routing"
	"hazard-alert-service/internal/schedule"
	"hazard-alert-service/internal/snapshot"
	"hazard-alert-service/internal/store"
	"hazard-alert-service/internal/timers"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	fileRepo := snapshot.NewFileRepository(cfg.Engine.ConfigFile, logger)

	// Storage: alerts and configuration live in Postgres, or in memory with
	// the configuration read from the YAML file.
	var (
		alerts  store.AlertStore
		repo    snapshot.Repository
		changes <-chan struct{}
	)
	switch cfg.Store.Backend {
	case "postgres":
		dbConn, err := db.New(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatalf("Database connection failed: %v", err)
		}
		defer dbConn.Close()
		if err := dbConn.Migrate(ctx); err != nil {
			logger.Fatalf("Database migration failed: %v", err)
		}
		configRepo := db.NewConfigRepository(dbConn)
		if seed, err := fileRepo.Load(ctx); err != nil {
			logger.Warnf("No seed configuration loaded from %s: %v", cfg.Engine.ConfigFile, err)
		} else if seeded, err := configRepo.Seed(ctx, seed); err != nil {
			logger.Fatalf("Failed to seed configuration: %v", err)
		} else if seeded {
			logger.Infof("Seeded engine configuration from %s", cfg.Engine.ConfigFile)
		}
		alerts, repo = dbConn, configRepo
	default:
		logger.Warnf("Using in-memory alert store; alerts do not survive a restart")
		alerts, repo = store.NewMemory(), fileRepo
		if changes, err = fileRepo.Watch(ctx); err != nil {
			logger.Warnf("Config file watch disabled: %v", err)
		}
	}

	// Configuration snapshots
	snapshots := snapshot.NewManager(repo, cfg.Engine.ParameterKinds, clk, logger)
	if _, err := snapshots.Load(ctx); err != nil {
		logger.Fatalf("Invalid engine configuration: %v", err)
	}

	// Engine
	queue := timers.New(clk)
	hub := live.NewHub(logger, 0)
	recorder := metrics.New(
		func() float64 { return float64(queue.Len()) },
		func() float64 { return float64(hub.Total()) },
	)
	snapshots.OnSwap(func(s *snapshot.Snapshot) { recorder.ConfigSwapped(s.Version) })
	recorder.ConfigSwapped(snapshots.Current().Version)

	policy := dispatch.Policy{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BaseDelay:   cfg.Delivery.BaseDelay,
		MaxDelay:    cfg.Delivery.MaxDelay,
		Timeouts: map[models.ChannelKind]time.Duration{
			models.ChannelEmail: cfg.Delivery.EmailTimeout,
			models.ChannelPush:  cfg.Delivery.PushTimeout,
			models.ChannelSMS:   cfg.Delivery.SMSTimeout,
			models.ChannelVoice: cfg.Delivery.VoiceTimeout,
		},
	}
	dispatcher := dispatch.New(providers.Build(cfg, logger), alerts, queue, clk, policy, logger).WithObserver(recorder)

	svc := notification.New(notification.Deps{
		Store:      alerts,
		Snapshots:  snapshots,
		Resolver:   schedule.NewResolver(cfg.Engine.Location, cfg.Engine.DefaultEscalationDelay),
		Router:     routing.NewRouter(cfg.Engine.CriticalOnlyTiers),
		Dispatcher: dispatcher,
		Queue:      queue,
		Clock:      clk,
		Logger:     logger,
	}, notification.Options{
		QueueSize:       cfg.Notification.QueueSize,
		MaxWorkers:      cfg.Notification.MaxWorkers,
		DeliveryWorkers: cfg.Notification.DeliveryWorkers,
		MaxDepth:        cfg.Engine.MaxEscalationDepth,
		SignalMaxSkew:   cfg.Engine.SignalMaxSkew,
		HeldRecheck:     cfg.Engine.HeldRecheck,
	})
	svc.Subscribe(hub)
	svc.SetObserver(recorder)

	var wg sync.WaitGroup
	svc.Start(&wg)
	if err := svc.Recover(ctx); err != nil {
		logger.Errorf("Failed to recover open alerts: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshots.Run(ctx, cfg.Engine.ConfigRefresh, changes)
	}()

	// Initialize Kafka consumer
	var consumer *kafka.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, svc, logger)
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.Topic)
		consumer.Start(ctx, &wg)
	} else {
		logger.Warnf("KAFKA_BROKER not set, signals are accepted over HTTP only")
	}

	// Start API server
	router := api.NewRouter(api.Deps{
		Engine:   svc,
		Config:   snapshots,
		Feed:     hub,
		Metrics:  recorder.Handler(),
		Logger:   logger,
		BasePath: cfg.API.BasePath,
	})
	server := &http.Server{Addr: cfg.API.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API server shutdown failed: %v", err)
	}
	hub.Close()
	svc.Stop()
	wg.Wait()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Errorf("Kafka consumer close failed: %v", err)
		}
	}
	logger.Infof("Stopped")
}
