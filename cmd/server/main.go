package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vocanalytics/voc/internal/auth"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/database"
	"github.com/vocanalytics/voc/internal/handler"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/metrics"
	"github.com/vocanalytics/voc/internal/middleware"
	"github.com/vocanalytics/voc/internal/repository"
	"github.com/vocanalytics/voc/internal/router"
	"github.com/vocanalytics/voc/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting VOC analytics API server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	m := metrics.New()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	sessionRepo := repository.NewSessionRepository(rdb)

	tokenSvc, err := auth.NewTokenService(cfg.Security.Tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}
	hasher := auth.NewArgon2Hasher(auth.NewParams(
		cfg.Security.Password.Argon2Memory,
		cfg.Security.Password.Argon2Iterations,
		cfg.Security.Password.Argon2Parallelism,
	))

	// Initialize services
	activitySvc := service.NewActivityService(activityRepo, cfg, m, log)
	userSvc := service.NewUserService(userRepo, sessionRepo, activitySvc, hasher, cfg, m, log)
	sessionSvc := service.NewSessionService(userRepo, sessionRepo, activitySvc, hasher, tokenSvc, cfg, m, log)
	roleSvc := service.NewRoleService(roleRepo, activitySvc, cfg, m, log)

	h := handler.New(log, cfg, userSvc, sessionSvc, roleSvc, activitySvc, map[string]handler.HealthChecker{
		"postgres": db,
		"redis":    rdb,
	})
	mw := middleware.New(rdb, log, cfg)
	r := router.New(h, mw, sessionSvc, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessionSvc.RunCleanup(ctx, cfg.Sessions.CleanupInterval)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
