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

	"github.com/serat-auto/backoffice/internal/app"
	"github.com/serat-auto/backoffice/internal/auth"
	"github.com/serat-auto/backoffice/internal/inventory"
	"github.com/serat-auto/backoffice/internal/masterdata"
	"github.com/serat-auto/backoffice/internal/observability"
	"github.com/serat-auto/backoffice/internal/platform/cache"
	"github.com/serat-auto/backoffice/internal/platform/db"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/sales/installments"
	"github.com/serat-auto/backoffice/internal/sales/pricing"
	"github.com/serat-auto/backoffice/internal/sales/ventes"
	"github.com/serat-auto/backoffice/internal/shared"
	"github.com/serat-auto/backoffice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, "api")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if cfg.AppAutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

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

	viewCache := cache.NewVersioned(redisClient, "installments", cfg.ViewCacheTTL)
	if err := viewCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("listen for cache invalidation", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)
	catalog := masterdata.NewRepository(pool)

	installmentService := installments.NewService(sales.NewStore(pool), catalog, viewCache, audit, metrics, logger.With(slog.String("module", "installments")))
	venteService := ventes.NewService(ventes.NewRepository(pool), catalog, pricing.NewCalculator(catalog), ventes.Deps{
		Audit:       audit,
		Invalidator: installmentService,
		Metrics:     metrics,
	}, logger.With(slog.String("module", "ventes")))
	inventoryService := inventory.NewService(inventory.NewRepository(pool), audit, logger.With(slog.String("module", "inventory")))

	tokens := auth.NewTokenStore(redisClient, cfg.TokenTTL)
	authMiddleware := auth.Middleware{Tokens: tokens, Logger: logger}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("job inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Auth:                authMiddleware,
		AuthHandler:         auth.NewHandler(logger, auth.NewService(auth.NewRepository(pool), tokens)),
		VentesHandler:       ventes.NewHandler(logger, venteService),
		InstallmentsHandler: installments.NewHandler(logger, installmentService, nil),
		InventoryHandler:    inventory.NewHandler(logger, inventoryService, authMiddleware.RequireRoles(shared.RoleAdmin)),
		JobHandler:          jobs.NewHandler(inspector, jobClient, logger),
		Metrics:             metrics,
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
