package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/docflow/internal/app"
	"github.com/odyssey-erp/docflow/internal/documents"
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
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, ApplicationName: "docflow"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, registry)
	if n, err := rbacService.SyncCatalog(ctx); err != nil {
		logger.Warn("sync permission catalog", slog.Any("error", err))
	} else {
		logger.Info("permission catalog synced", slog.Int("permissions", n))
	}
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	messages, err := notify.NewMessages(cfg.Locale())
	if err != nil {
		logger.Error("load notification messages", slog.Any("error", err))
		os.Exit(1)
	}
	notifyRepo := notify.NewRepository(dbpool)
	fanout, err := notify.NewFanout(notify.FanoutConfig{
		Registry:   registry,
		Recipients: rbacService,
		Store:      notifyRepo,
		Dedup:      notify.NewDeduper(redisClient, cfg.NotifyDedupWindow),
		Pusher:     notify.NewPublisher(redisClient),
		Retrier:    jobClient,
		Messages:   messages,
		Recorder:   metrics,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("init notification fan-out", slog.Any("error", err))
		os.Exit(1)
	}
	inbox := notify.NewInbox(notifyRepo, cfg.NotifyRetention)

	documentsRepo := documents.NewRepository(dbpool)
	ledger := workflow.NewLedger(documentsRepo, logger)
	documentsService := documents.NewService(documentsRepo, registry, ledger, logger)
	orchestrator := workflow.NewOrchestrator(workflow.OrchestratorConfig{
		Registry:     registry,
		Store:        documentsRepo,
		Capabilities: rbacService,
		Notifier:     fanout,
		Retrier:      jobClient,
		Recorder:     metrics,
		Logger:       logger,
	})

	documentsHandler := documents.NewHandler(documents.HandlerConfig{
		Logger:        logger,
		Service:       documentsService,
		Actions:       orchestrator,
		Capabilities:  rbacService,
		Registry:      registry,
		RBAC:          rbacMiddleware,
		Idempotency:   shared.NewIdempotencyStore(dbpool),
		ActionLimiter: app.ActionRateLimiter(cfg),
	})
	notificationsHandler := notify.NewHandler(logger, inbox, rbacMiddleware)
	permissionsHandler := rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		DocumentsHandler:     documentsHandler,
		NotificationsHandler: notificationsHandler,
		PermissionsHandler:   permissionsHandler,
		JobHandler:           jobHandler,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
