package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/app"
	"github.com/nexhub/nexhub/internal/audit"
	"github.com/nexhub/nexhub/internal/platform/cache"
	"github.com/nexhub/nexhub/internal/platform/db"
	"github.com/nexhub/nexhub/internal/rbac"
	"github.com/nexhub/nexhub/internal/roles"
	"github.com/nexhub/nexhub/internal/users"
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
		// The permission cache degrades to direct resolution, so a
		// missing Redis is a warning, not a startup failure.
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	userRepo := users.NewRepository(dbpool)
	roleRepo := roles.NewRepository(dbpool)

	resolver := rbac.NewResolver(userRepo, roleRepo)
	permCache := rbac.NewCache(redisClient, resolver, cfg.PermissionCacheTTL, logger)
	gate := rbac.NewGate(permCache)
	rbacMiddleware := rbac.Middleware{Gate: gate, Logger: logger}

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo, logger)

	roleService := roles.NewService(roleRepo, userRepo, gate, permCache, auditService, logger)
	if err := roleService.Seed(ctx); err != nil {
		logger.Error("seed built-in roles", slog.Any("error", err))
		os.Exit(1)
	}

	isSuper := func(r *http.Request, actorID uuid.UUID) (bool, error) {
		actor, err := userRepo.FindActor(r.Context(), actorID)
		if err != nil {
			return false, err
		}
		return actor.BaseRole == roles.SlugSuperAdmin, nil
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RolesHandler:       roles.NewHandler(logger, roleService),
		PermissionsHandler: rbac.NewHandler(logger, gate, permCache, rbacMiddleware, isSuper),
		AuditHandler:       audit.NewHandler(logger, auditService, rbacMiddleware),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
