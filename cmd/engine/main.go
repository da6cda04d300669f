package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"rulebot/internal/application/service/execution"
	"rulebot/internal/application/service/subscriptions"
	"rulebot/internal/config"
	"rulebot/internal/infrastructure/botstore"
	"rulebot/internal/infrastructure/broker"
	infraexchange "rulebot/internal/infrastructure/exchange"
	"rulebot/internal/infrastructure/statestore"
	"rulebot/internal/infrastructure/ticks"
	"rulebot/internal/infrastructure/tradelog"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	tradeRepo, err := tradelog.NewRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("failed to init trade log repo: %v", err)
	}
	defer tradeRepo.Close()

	tickRepo, err := ticks.NewRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("failed to init tick repo: %v", err)
	}
	defer tickRepo.Close()

	botRepo, err := botstore.NewRepository(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("failed to init bot repo: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	stateStore := statestore.NewRedisStore(redisClient, cfg.Engine.StatePrefix)
	binance := infraexchange.NewBinance(cfg.Binance.APIKey, cfg.Binance.SecretKey, logger)
	controller := execution.NewController(stateStore, tradeRepo, binance, cfg.Engine.OrderTimeout, logger)

	registry := subscriptions.NewMemoryRegistry()
	reconciler := subscriptions.NewReconciler(registry, logger)

	consumer, err := broker.NewConsumer(cfg.RabbitMQ, controller, registry, reconciler, botRepo, tickRepo, logger)
	if err != nil {
		logger.Fatalf("failed to init consumer: %v", err)
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatalf("failed to start consumer: %v", err)
	}

	logger.WithField("component", "engine").Info("engine started")

	<-ctx.Done()
	logger.Info("shutting down engine")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := consumer.Close(shutdownCtx); err != nil {
		logger.Errorf("consumer shutdown error: %v", err)
	}
	logger.Info("engine stopped")
}
