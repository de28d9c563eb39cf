// Command syncserver starts the row-store service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/config"
	"github.com/timewell/syncengine/internal/limiter"
	"github.com/timewell/syncengine/internal/migrate"
	"github.com/timewell/syncengine/internal/repository/postgres"
	"github.com/timewell/syncengine/internal/server/httpapi"
	"github.com/timewell/syncengine/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and starts the HTTP server.
func main() {
	cfgPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
	)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	db := &postgres.DB{Pool: pool}
	userRepo := postgres.NewUserRepo(db)
	tokenRepo := postgres.NewTokenRepo(db)
	rowRepo := postgres.NewRowRepo(db)

	lim := limiter.NewPG(pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)

	authSvc := service.NewAuthService(userRepo, tokenRepo, []byte(cfg.JWTKey), cfg.AccessTTL, lim)
	rowsSvc := service.NewRowsService(rowRepo)

	api := httpapi.New(authSvc, rowsSvc, logger)

	// nightly purge of consumed codes and dead refresh tokens
	c := cron.New()
	if _, err := c.AddFunc("@daily", func() {
		n, err := tokenRepo.PurgeExpired(context.Background(), time.Now())
		if err != nil {
			logger.Warn("token purge", zap.Error(err))
			return
		}
		logger.Info("token purge", zap.Int64("deleted", n))
	}); err != nil {
		logger.Fatal("cron", zap.Error(err))
	}
	c.Start()
	defer c.Stop()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.Router([]byte(cfg.JWTKey), cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
