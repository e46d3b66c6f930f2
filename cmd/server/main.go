package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"levelup-loyalty/config"
	"levelup-loyalty/internal/api"
	"levelup-loyalty/internal/broker"
	"levelup-loyalty/internal/ledger"
	"levelup-loyalty/internal/redisclient"
	"levelup-loyalty/internal/remote"
	"levelup-loyalty/internal/sequence"
	"levelup-loyalty/internal/service"
	"levelup-loyalty/internal/store"
	"levelup-loyalty/internal/util"
	"levelup-loyalty/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting levelup loyalty service")

	tp, err := util.InitTracer("levelup-loyalty", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	backends, err := buildBackends(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open local cache", zap.Error(err))
	}

	gw := store.NewGateway(backends,
		store.WithSeedDir(cfg.Local.SeedDir),
		store.WithRetryAfter(time.Duration(cfg.Business.BackendRetrySeconds)*time.Second),
	)
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Error("Error closing storage backends", zap.Error(err))
		}
	}()

	var eventPublisher service.EventPublisher = service.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		eventPublisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	userService := service.NewUserService(gw)
	catalogService := service.NewCatalogService(gw)
	redemptionService := service.NewRedemptionService(gw,
		sequence.New(gw, store.KeyRedemptionSeq), eventPublisher)
	purchaseService := service.NewPurchaseService(gw,
		sequence.New(gw, store.KeyPurchaseSeq),
		ledger.NewRules(cfg.Business.PointsEarnRate),
		cfg.Business.DuocDiscountPercent,
		eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var tierWorker *worker.TierWorker
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		tierWorker = worker.NewTierWorker(consumer, userService)
		go func() {
			if err := tierWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Tier worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(userService, catalogService, redemptionService, purchaseService, gw)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if tierWorker != nil {
		if err := tierWorker.Stop(); err != nil {
			logger.Error("Error stopping tier worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// buildBackends orders storage by preference: the upstream API first, then
// the shared caches, then the on-disk cache that is always present.
// Optional backends that cannot be reached at startup are skipped.
func buildBackends(cfg *config.Config, logger *zap.Logger) ([]store.Backend, error) {
	var backends []store.Backend

	if cfg.Remote.BaseURL != "" {
		timeout := time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
		backends = append(backends, remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.AuthToken, timeout))
		logger.Info("Remote backend configured", zap.String("base_url", cfg.Remote.BaseURL))
	}

	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without it", zap.Error(err))
		} else {
			backends = append(backends, redisClient)
			logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		}
	}

	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresBackend(cfg.Database.URL)
		if err != nil {
			logger.Warn("Postgres unavailable, continuing without it", zap.Error(err))
		} else {
			backends = append(backends, pg)
			logger.Info("Postgres connected")
		}
	}

	local, err := store.NewLevelDBBackend(cfg.Local.CachePath)
	if err != nil {
		return nil, err
	}
	backends = append(backends, local)
	logger.Info("Local cache opened", zap.String("path", cfg.Local.CachePath))

	return backends, nil
}
