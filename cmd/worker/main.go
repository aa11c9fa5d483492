package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/docflow/internal/app"
	"github.com/odyssey-erp/docflow/internal/notify"
	"github.com/odyssey-erp/docflow/internal/observability"
	"github.com/odyssey-erp/docflow/internal/platform/cache"
	"github.com/odyssey-erp/docflow/internal/platform/db"
	"github.com/odyssey-erp/docflow/internal/rbac"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
	"github.com/odyssey-erp/docflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, ApplicationName: "docflow-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	policy, err := workflow.LoadPolicyFile(cfg.WorkflowPolicyFile)
	if err != nil {
		logger.Error("load workflow policy", slog.Any("error", err))
		os.Exit(1)
	}
	registry, err := workflow.DefaultRegistry().WithPolicy(policy)
	if err != nil {
		logger.Error("apply workflow policy", slog.Any("error", err))
		os.Exit(1)
	}

	messages, err := notify.NewMessages(cfg.Locale())
	if err != nil {
		logger.Error("load notification messages", slog.Any("error", err))
		os.Exit(1)
	}

	// Retries from inside the worker go back through the same queue.
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	notifyRepo := notify.NewRepository(pool)
	publisher := notify.NewPublisher(redisClient)
	fanout, err := notify.NewFanout(notify.FanoutConfig{
		Registry:   registry,
		Recipients: rbac.NewService(rbac.NewRepository(pool), registry),
		Store:      notifyRepo,
		Dedup:      notify.NewDeduper(redisClient, cfg.NotifyDedupWindow),
		Pusher:     publisher,
		Retrier:    client,
		Messages:   messages,
		Recorder:   observability.NewMetrics(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("init notification fan-out", slog.Any("error", err))
		os.Exit(1)
	}

	purgeTask, err := jobs.NewPurgeTask(0)
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}

	fanoutJob := &jobs.FanoutJob{Notifier: fanout, Logger: logger}
	pushJob := &jobs.PushJob{Pusher: publisher, Logger: logger}
	purgeJob := &jobs.PurgeJob{
		Notifications: notify.NewInbox(notifyRepo, cfg.NotifyRetention),
		Keys:          shared.NewIdempotencyStore(pool),
		KeyRetention:  cfg.IdempotencyRetention,
		Logger:        logger,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskNotifyFanout, Handler: fanoutJob.Handle},
			{Type: jobs.TaskNotifyPush, Handler: pushJob.Handle},
			{Type: jobs.TaskNotifyPurge, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PurgeCron, Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
