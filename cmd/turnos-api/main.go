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

	_ "github.com/noah-isme/turnos-api/api/swagger"
	"github.com/noah-isme/turnos-api/internal/handler"
	"github.com/noah-isme/turnos-api/internal/repository"
	"github.com/noah-isme/turnos-api/internal/service"
	"github.com/noah-isme/turnos-api/pkg/broker"
	"github.com/noah-isme/turnos-api/pkg/cache"
	"github.com/noah-isme/turnos-api/pkg/config"
	"github.com/noah-isme/turnos-api/pkg/database"
	"github.com/noah-isme/turnos-api/pkg/export"
	"github.com/noah-isme/turnos-api/pkg/logger"
)

// @title Turnos API
// @version 1.0.0
// @description Shift coverage requests for restaurant staff.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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

	if err := run(cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Roster.CacheEnabled || cfg.Realtime.RedisEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, continuing without cache and cross-instance updates", zap.Error(err))
			redisClient = nil
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	var subscriber service.Subscriber
	broadcasters := make([]service.Broadcaster, 0, 2)
	if cfg.Realtime.RedisEnabled && cacheRepo.Enabled() {
		rb := service.NewRedisBroadcaster(cacheRepo, cfg.Realtime.ChannelPrefix, logr)
		broadcasters = append(broadcasters, rb)
		subscriber = rb
	} else {
		hub := service.NewLocalHub()
		broadcasters = append(broadcasters, hub)
		subscriber = hub
	}
	if cfg.Realtime.MQTTBroker != "" {
		mqttClient, err := broker.NewMQTT(cfg.Realtime, logr)
		if err != nil {
			logr.Warn("mqtt bridge disabled", zap.Error(err))
		} else {
			defer mqttClient.Close()
			broadcasters = append(broadcasters, service.NewMQTTBroadcaster(mqttClient))
		}
	}
	broadcaster := service.NewMultiBroadcaster(logr, broadcasters...)

	userRepo := repository.NewUserRepository(db)
	shiftRepo := repository.NewShiftRepository(db)
	requestRepo := repository.NewChangeRequestRepository(db)
	eventRepo := repository.NewChangeRequestEventRepository(db)
	reactionRepo := repository.NewReactionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	rules, err := service.NewMatchingRules(cfg.Matching)
	if err != nil {
		return fmt.Errorf("matching rules: %w", err)
	}

	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.Roster.CacheTTL, logr, cfg.Roster.CacheEnabled)
	roster := service.NewRosterProvider(userRepo, cacheService, cfg.Roster.CacheTTL)

	reactor := service.NewChangeRequestReactor(eventRepo, reactionRepo, roster, broadcaster, metrics, service.ReactorConfig{
		QueueBuffer:   cfg.Workflow.QueueBuffer,
		MaxRetries:    cfg.Workflow.MaxRetries,
		RetryDelay:    cfg.Workflow.RetryDelay,
		SweepInterval: cfg.Workflow.SweepInterval,
		SweepBatch:    cfg.Workflow.SweepBatch,
	}, logr)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	employees := service.NewEmployeeCoordinator(requestRepo, shiftRepo, reactor, metrics, validate, logr)
	managers := service.NewManagerCoordinator(requestRepo, shiftRepo, userRepo, roster, service.NewReplacementFinder(rules), reactor, metrics, validate, logr)
	queries := service.NewChangeRequestService(requestRepo, shiftRepo)
	exports := service.NewExportService(requestRepo, service.ExportConfig{
		Enabled: cfg.Exports.Enabled,
		MaxRows: cfg.Exports.MaxRows,
	}, logr, export.NewCSVExporter(), export.NewPDFExporter(), export.NewXLSXExporter())

	handlers := routerHandlers{
		auth:           handler.NewAuthHandler(authService),
		shifts:         handler.NewShiftHandler(service.NewShiftService(shiftRepo, userRepo, broadcaster, validate, logr)),
		changeRequests: handler.NewChangeRequestHandler(employees, managers, queries, exports),
		notifications:  handler.NewNotificationHandler(service.NewNotificationService(notificationRepo)),
		users:          handler.NewUserHandler(service.NewUserService(userRepo, roster, broadcaster, validate, logr)),
		reconciliation: handler.NewReconciliationHandler(reactor),
		stream:         handler.NewStreamHandler(subscriber, cfg.Realtime.StreamKeepAlive, logr),
		metrics: handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
			"database": handler.PingFunc(db.PingContext),
			"redis":    cacheRepo,
		}),
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, logr, metrics, authService, handlers)

	reactor.Start(ctx)
	defer reactor.Stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
