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

	"cart-service/config"
	"cart-service/internal/api"
	"cart-service/internal/broker"
	"cart-service/internal/redisclient"
	"cart-service/internal/schema"
	"cart-service/internal/service"
	"cart-service/internal/store"
	"cart-service/internal/util"
	"cart-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "cart-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting cart service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(serviceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	gdb, err := db.Gorm()
	if err != nil {
		logger.Fatal("Failed to open ORM", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(context.Background(), gdb); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCart)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicCart))

	eventPublisher := broker.NewEventPublisher(producer)

	carts := store.NewCartGormRepository(gdb)
	fallback := store.NewFallbackStore(db.GetDB(), schema.NewCatalogResolver(db.GetDB()), store.Tables{
		Cart:     cfg.Schema.CartTable,
		CartItem: cfg.Schema.CartItemTable,
		Product:  cfg.Schema.ProductTable,
	})

	cartService := service.NewCartService(carts, fallback, service.Options{
		Events:   eventPublisher,
		Cache:    redisClient,
		CacheTTL: cfg.Business.TotalsCacheTTL,
		Logger:   logger,
	})
	checkout := service.NewCheckoutOrchestrator(cartService, db, redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	checkoutConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.ConsumerGroup)
	checkoutWorker := worker.NewCheckoutWorker(checkoutConsumer, checkout)
	go func() {
		if err := checkoutWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Checkout worker error", zap.Error(err))
		}
	}()

	expiryWorker := worker.NewExpiryWorker(cartService, redisClient, cfg.Business.AbandonAfter, cfg.Business.ExpirySweepEvery)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Expiry worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, map[string]api.ReadinessCheck{
		"postgres": db.Ping,
		"redis":    redisClient.Ping,
	})
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
	if err := checkoutWorker.Stop(); err != nil {
		logger.Error("Failed to stop checkout worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
