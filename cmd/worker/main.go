package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"chatbroker.app/broker/common/id"
	"chatbroker.app/broker/common/logger"
	"chatbroker.app/broker/common/otel"
	"chatbroker.app/broker/core/config"
	"chatbroker.app/broker/core/db"
	"chatbroker.app/broker/internal/notify"
	"chatbroker.app/broker/internal/queue"
	"chatbroker.app/broker/internal/service"
	"chatbroker.app/broker/internal/store"
	"chatbroker.app/broker/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "broker worker starting", "env", cfg.Env)

	// Use a different node ID than the server so IDs never collide.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "queue", cfg.Queue.Key)

	taskQueue := queue.NewRedisQueue(redisClient, cfg.Queue.Key, nil)

	stores := store.NewStores(database.Pool())
	services := service.NewServices(service.ServicesConfig{
		Stores:     stores,
		TxRunner:   service.NewTxRunner(database),
		Queue:      taskQueue,
		Classifier: service.NewHeuristicClassifier(),
		Session:    cfg.Session,
		Ingest:     cfg.Ingest,
		SendURL:    cfg.SendURL,
	})

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notifier.Enabled() {
		notifier = notify.NewWebhookNotifier(cfg.Notifier.Endpoint, nil)
	} else {
		slog.WarnContext(ctx, "notifier endpoint not configured, notifications are dropped")
	}

	reaper := worker.NewReaper(services.Sessions(), nil)
	reconciler := worker.NewReconciler(services.Dispatcher(), nil)
	outbox := worker.NewOutboxDispatcher(stores, notifier, nil)

	scheduler := cron.New()
	schedule := func(intervalSeconds int, job func(context.Context)) {
		spec := fmt.Sprintf("@every %ds", intervalSeconds)
		if _, err := scheduler.AddFunc(spec, func() { job(ctx) }); err != nil {
			slog.ErrorContext(ctx, "failed to schedule job", "spec", spec, "error", err)
			os.Exit(1)
		}
	}
	schedule(cfg.Session.ReapIntervalSeconds, reaper.Run)
	schedule(cfg.Dispatch.ReconcileIntervalSeconds, reconciler.Run)
	schedule(cfg.Dispatch.OutboxIntervalSeconds, outbox.Run)

	scheduler.Start()
	slog.InfoContext(ctx, "maintenance jobs scheduled",
		"reap_interval_s", cfg.Session.ReapIntervalSeconds,
		"reconcile_interval_s", cfg.Dispatch.ReconcileIntervalSeconds,
		"outbox_interval_s", cfg.Dispatch.OutboxIntervalSeconds)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	<-scheduler.Stop().Done()

	if telemetry != nil {
		if err := telemetry.Shutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}
