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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"github.com/xela07ax/schedmesh-engine/internal/connectors"
	"github.com/xela07ax/schedmesh-engine/internal/engine"
	"github.com/xela07ax/schedmesh-engine/internal/infra"
	"github.com/xela07ax/schedmesh-engine/internal/infra/auth"
	"github.com/xela07ax/schedmesh-engine/internal/negotiator/handler"
	"github.com/xela07ax/schedmesh-engine/internal/negotiator/server"
	"github.com/xela07ax/schedmesh-engine/internal/negotiator/service"
	"github.com/xela07ax/schedmesh-engine/internal/notify"
	"github.com/xela07ax/schedmesh-engine/internal/policy"
	"github.com/xela07ax/schedmesh-engine/internal/repository/postgres"
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

	// 3. Redis (уведомления)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// 4. Метрики на отдельном порту
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Engine.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 5. Аудит-рекордер (асинхронный, с финальным flush на Stop)
	recorder := audit.NewRecorder(postgres.NewAuditRepo(store), logger)
	recorder.Start()
	defer recorder.Stop()

	// 6. Календарный провайдер за обёрткой надежности
	var base connectors.CalendarProvider
	switch cfg.Calendar.Provider {
	case "google":
		base = connectors.NewGoogleCalendar(connectors.StaticTokenSource(cfg.Calendar.Token), cfg.Calendar.BaseURL)
	default:
		base = connectors.NewMockCalendar()
	}
	calendar := engine.NewReliableCalendar(base)
	logger.Info("calendar provider ready", zap.String("provider", cfg.Calendar.Provider))

	// 7. Сервисы движка
	checker := policy.NewChecker(store, logger)
	notifier := notify.NewRedisDispatcher(rdb, logger)
	connSvc := engine.NewConnectionService(store, store, recorder, logger)
	sessSvc := engine.NewSessionService(
		engine.SessionConfig{TTL: cfg.Engine.SessionTTL, SearchHorizon: cfg.Engine.SearchHorizon},
		store, store, store, store, checker, calendar, recorder, notifier, metrics, logger,
	)

	// 8. Аутентификация (RS256)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse RSA public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse RSA private key", zap.Error(err))
	}
	authSvc := service.NewAuthService(store, privKey, cfg.Auth.TokenTTL)

	// 9. HTTP-сервер
	rp := handler.NewResponder(logger, metrics)
	api := server.NewNegotiatorServer(
		cfg,
		logger,
		auth.NewBaseValidator(pubKey),
		engine.NewCallerLimiter(cfg.Engine.RateRPS, cfg.Engine.RateBurst),
		metrics,
		handler.NewAuthHandler(authSvc),
		handler.NewConnectionHandler(connSvc, rp),
		handler.NewSessionHandler(sessSvc, rp),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Фоновая публикация gauge-метрик (circuit breaker, буфер аудита)
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()
	go publishGauges(appCtx, metrics, calendar, recorder)

	// Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("negotiator API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("negotiator stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("negotiator exited properly")
}

// publishGauges раз в 5 секунд снимает состояние circuit breaker-а
// и заполненность буфера аудита.
func publishGauges(ctx context.Context, m *engine.Metrics, cal *engine.ReliableCalendar, rec *audit.Recorder) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CircuitBreakerState.WithLabelValues("calendar").Set(float64(cal.CircuitState()))
			m.AuditBufferFill.Set(float64(rec.Depth()))
		}
	}
}
