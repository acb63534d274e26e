package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"github.com/xela07ax/schedmesh-engine/internal/infra"
	"github.com/xela07ax/schedmesh-engine/internal/repository/postgres"
	"github.com/xela07ax/schedmesh-engine/internal/sweeper"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. Postgres
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := postgres.NewStore(bootCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to open postgres pool", zap.Error(err))
	}
	if err := store.Ping(bootCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	bootCancel()
	defer store.Close()

	// 3. Redis (распределенный lease на проходы)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// 4. Аудит-рекордер: записи о протухших сессиях идут в общий трейл
	recorder := audit.NewRecorder(postgres.NewAuditRepo(store), logger)
	recorder.Start()
	defer recorder.Stop()

	// 5. Сборка и запуск
	sw := sweeper.New(
		sweeper.Config{
			Interval:     cfg.Sweeper.Interval,
			BatchSize:    cfg.Sweeper.BatchSize,
			KeyRetention: cfg.Sweeper.KeyRetention,
		},
		store,
		sweeper.NewLocker(rdb, infra.RedisKeyLockSweep, cfg.Sweeper.LeaseTTL),
		recorder,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go sw.Run(ctx)

	// Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("sweeper stopping...")
	cancel()
	logger.Info("sweeper exited properly")
}
