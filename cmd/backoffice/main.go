package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/haulmark/backoffice/internal/app"
	"github.com/haulmark/backoffice/internal/approval"
	approvalhttp "github.com/haulmark/backoffice/internal/approval/http"
	"github.com/haulmark/backoffice/internal/audit"
	audithttp "github.com/haulmark/backoffice/internal/audit/http"
	"github.com/haulmark/backoffice/internal/auth"
	"github.com/haulmark/backoffice/internal/notify"
	notifyhttp "github.com/haulmark/backoffice/internal/notify/http"
	"github.com/haulmark/backoffice/internal/observability"
	"github.com/haulmark/backoffice/internal/platform/broker"
	"github.com/haulmark/backoffice/internal/platform/cache"
	"github.com/haulmark/backoffice/internal/platform/db"
	"github.com/haulmark/backoffice/internal/rbac"
	"github.com/haulmark/backoffice/internal/realtime"
	"github.com/haulmark/backoffice/internal/roles"
	"github.com/haulmark/backoffice/internal/shared"
	"github.com/haulmark/backoffice/internal/users"
	"github.com/haulmark/backoffice/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo)
	auditLogger := shared.NewAuditLogger(dbpool)

	authService := auth.NewService(
		auth.NewRepository(dbpool),
		auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL),
		auth.NewSessionStore(redisClient),
		rbacService,
	)
	authHandler := auth.NewHandler(logger, authService)

	registry := realtime.NewRegistry(realtime.Config{
		Authenticator:  authService,
		Logger:         logger,
		AllowedOrigins: cfg.RealtimeAllowedOrigins,
	})
	registry.Start(ctx)
	metrics.TrackSessions(registry.Online)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer jobClient.Close()

	notifyStore := notify.NewRepository(dbpool)
	notifier := notify.NewEngine(notify.EngineConfig{
		Directory:   rbacService,
		Store:       notifyStore,
		Pusher:      registry,
		Mailer:      jobClient,
		Metrics:     notify.NewMetrics(metrics.Registerer()),
		Logger:      logger,
		Concurrency: cfg.NotifyConcurrency,
	})

	var locker approval.Locker = approval.NewLocalLocker()
	if cfg.LockBackend == "redis" {
		locker = approval.NewRedisLocker(redisClient, cfg.LockTTL)
	}

	var events approval.EventPublisher
	if cfg.RabbitMQURL != "" {
		publisher, err := broker.Dial(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			logger.Warn("rabbitmq unavailable, transition events disabled", slog.Any("error", err))
		} else {
			defer publisher.Close()
			events = publisher
		}
	}

	ledger := audit.NewRepository(dbpool)
	engine := approval.NewEngine(approval.NewRepository(dbpool), approval.Options{
		Table:           rbac.NewApprovalTable(cfg.ManagerRoles, cfg.AccountsRoles),
		Locker:          locker,
		Notifier:        notifier,
		Events:          events,
		Parties:         rbacService,
		History:         ledger,
		Observer:        metrics,
		Logger:          logger,
		NotifyTimeout:   cfg.NotifyTimeout,
		HistoryMaxLimit: cfg.HistoryMaxLimit,
	})

	approvalHandlers := make([]*approvalhttp.Handler, 0, len(approval.Kinds))
	for _, kind := range approval.Kinds {
		approvalHandlers = append(approvalHandlers, approvalhttp.NewHandler(logger, engine, kind, rbacMiddleware))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Authenticator:      auth.Middleware{Service: authService, Logger: logger},
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		ApprovalHandlers:   approvalHandlers,
		NotifyHandler:      notifyhttp.NewHandler(logger, notify.NewService(notifyStore, notifier), rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, users.NewService(rbacRepo, auditLogger, logger), rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, roles.NewService(rbacRepo, auditLogger, logger), rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(ledger), rbacMiddleware),
		JobHandler:         jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger),
		Realtime:           http.HandlerFunc(registry.ServeWS),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("realtime shutdown", slog.Any("error", err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("approval post-commit drain", slog.Any("error", err))
	}
}
