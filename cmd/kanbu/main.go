package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kanbu-pm/kanbu/internal/acl"
	"github.com/kanbu-pm/kanbu/internal/app"
	"github.com/kanbu-pm/kanbu/internal/grants"
	"github.com/kanbu-pm/kanbu/internal/groups"
	"github.com/kanbu-pm/kanbu/internal/hierarchy"
	"github.com/kanbu-pm/kanbu/internal/observability"
	"github.com/kanbu-pm/kanbu/internal/platform/cache"
	"github.com/kanbu-pm/kanbu/internal/platform/db"
	"github.com/kanbu-pm/kanbu/internal/roles"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, decision cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var decisions *cache.Decisions
	if redisClient != nil {
		decisions = cache.NewDecisions(redisClient, cfg.DecisionTTL)
	}

	metrics := observability.NewMetrics()

	groupsRepo := groups.NewRepository(pool)
	groupsService := groups.NewService(groupsRepo)
	groupsHandler := groups.NewHandler(logger, groupsService, decisions)

	builder := hierarchy.NewBuilder(hierarchy.NewRepository(pool))

	aclRepo := acl.NewRepository(pool)
	aclService := acl.NewService(aclRepo, groupsService, builder)
	aclHandler := acl.NewHandler(logger, aclService, decisions, metrics)

	grantsRepo := grants.NewRepository(pool)
	grantsService := grants.NewService(grantsRepo, groupsService)
	grantsHandler := grants.NewHandler(logger, grantsService, decisions, metrics)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, groupsService)
	rolesHandler := roles.NewHandler(logger, rolesService)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		ACLHandler:    aclHandler,
		GrantsHandler: grantsHandler,
		GroupsHandler: groupsHandler,
		RolesHandler:  rolesHandler,
		Metrics:       metrics,
	})

	apiServer := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	metricsServer := &http.Server{
		Addr:        cfg.MetricsAddr,
		Handler:     app.NewMetricsRouter(metrics),
		ReadTimeout: cfg.AppReadTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("starting metrics server", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
