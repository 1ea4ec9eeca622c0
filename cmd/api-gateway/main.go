package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/kidcare-enrollment-api/api/swagger"
	"github.com/noah-isme/kidcare-enrollment-api/internal/handler"
	"github.com/noah-isme/kidcare-enrollment-api/internal/repository"
	"github.com/noah-isme/kidcare-enrollment-api/internal/service"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/cache"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/config"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/database"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/logger"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/migrations"
)

// @title Kidcare Enrollment API
// @version 1.0.0
// @description Class session enrollment, capacity and waitlist engine
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Migrations.RunOnStart {
		if err := migrations.Up(ctx, db.DB); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.AvailabilityTTL, logr, cacheRepo.Enabled())

	notifications := repository.NewNotificationRepository(db)
	var sink service.EventSink = service.LogEventSink{Logger: logr}
	if redisClient != nil {
		sink = repository.NewRedisEventChannel(redisClient, cfg.Notifications.Channel)
	}
	dispatcher := service.NewEventDispatcher(notifications, sink, metrics, cfg.Notifications, logr)
	dispatcher.Start(ctx)

	coordinator := service.NewEnrollmentCoordinator(
		service.NewSQLUnitOfWork(db),
		dispatcher,
		cacheSvc,
		metrics,
		service.CoordinatorConfig{
			AutoWaitlist:    cfg.Enrollment.AutoWaitlist,
			OfferTTL:        cfg.Enrollment.OfferTTL,
			AvailabilityTTL: cfg.Cache.AvailabilityTTL,
		},
		validator.New(),
		logr,
	)

	sweeper := service.NewSweeper(coordinator, cfg.Enrollment.SweepInterval, cfg.Enrollment.SweepBatchSize, metrics, logr)
	sweeper.Start(ctx)

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Tokens:         service.NewTokenService(cfg.JWT, logr),
		Metrics:        metrics,
		Enrollments:    handler.NewEnrollmentHandler(coordinator),
		Waitlist:       handler.NewWaitlistHandler(coordinator),
		Admin:          handler.NewAdminEnrollmentHandler(coordinator, service.NewRosterExportService(coordinator, logr)),
		SessionsAdmin:  handler.NewSessionAdminHandler(coordinator, service.NewNotificationService(notifications, logr)),
		Ready:          readinessChecks(db.PingContext, redisClient),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	sweeper.Stop()
	dispatcher.Stop()
	logr.Info("server stopped")
}

func readinessChecks(pingDB func(context.Context) error, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{"postgres": pingDB}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
