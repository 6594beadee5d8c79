package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/audit"
	"github.com/xela07ax/agentpay/internal/gateway"
	"github.com/xela07ax/agentpay/internal/infra"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"github.com/xela07ax/agentpay/internal/policy"
	"github.com/xela07ax/agentpay/internal/repository/postgres"
	"github.com/xela07ax/agentpay/internal/repository/redisstore"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("agentpay gateway failed", zap.Error(err))
	}
}

func loadConfig(path string) (*infra.Config, error) {
	if path != "" {
		return infra.LoadConfigFile(path)
	}
	return infra.LoadConfig()
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст старта: подключения к хранилищам с ретраями
	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer startCancel()

	// 1. Ключ проверки токенов (выпускает их только консоль)
	pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return fmt.Errorf("auth public key: %w", err)
	}
	validator := auth.NewBaseValidator(pub, cfg.Auth.Issuer)

	window, err := policy.ParseDailyWindow(cfg.Policy.DailyWindow)
	if err != nil {
		return err
	}

	// 2. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := gateway.NewMetrics(reg)

	// 3. Инфраструктура: Postgres нужен, если в нем политики или журнал
	var pool *pgxpool.Pool
	if cfg.Policy.Store == "postgres" || cfg.Audit.Sink == "postgres" {
		pool, err = postgres.NewPool(startCtx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(startCtx, pool); err != nil {
			return err
		}
	}

	// 4. Хранилище политик
	var store policy.Store
	switch cfg.Policy.Store {
	case "redis":
		var rdb *redis.Client
		rdb, err = redisstore.Connect(startCtx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		store = redisstore.NewPolicyStore(rdb, logger)
	case "postgres":
		store = postgres.NewPolicyRepo(pool)
	default:
		logger.Warn("policy store is in-memory: policies are lost on restart")
		store = policy.NewMemoStore(logger)
	}

	// 5. Журнал решений: Postgres за предохранителем, при обрыве — в лог
	logSink := audit.NewLogSink(logger)
	var sink audit.Sink = logSink
	if cfg.Audit.Sink == "postgres" {
		sink = audit.NewBreakerSink(postgres.NewAuditRepo(pool), logSink, audit.BreakerConfig{
			MaxRequests:      uint32(cfg.Audit.CBMaxRequests),
			Interval:         cfg.Audit.CBInterval,
			Timeout:          cfg.Audit.CBTimeout,
			FailureThreshold: uint32(cfg.Audit.CBFailures),
		}, metrics.CircuitBreakerState.WithLabelValues("journal-sink"), logger)
	}
	journal := audit.NewJournal(sink, audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, metrics.AuditBufferFill, logger)
	journal.Start()
	// Журнал останавливаем последним: в него еще пишут завершающиеся запросы
	defer journal.Stop()

	// 6. Core
	clock := policy.SystemClock{}
	admin := policy.NewAdmin(store, clock, window, logger)
	authorizer := policy.NewAuthorizer(store, clock, window, logger)
	gw := gateway.NewPaymentGateway(authorizer, journal, metrics, logger)
	limiter := gateway.NewAgentLimiter(cfg.Gateway.RateLimitRPS, cfg.Gateway.RateLimitBurst)

	// 7. Транспорты
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      gateway.NewRouter(gateway.NewAgentHandler(admin, gw, metrics, logger), validator, limiter, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcSrv := gateway.NewGRPCServer(gw, validator, limiter, metrics, logger)

	errCh := make(chan error, 3)

	go func() {
		logger.Info("metrics server started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	if cfg.GRPC.Port > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("failed to listen gRPC: %w", err)
		}
		go func() {
			logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("agentpay gateway started",
			zap.String("addr", srv.Addr),
			zap.String("policy_store", cfg.Policy.Store),
			zap.String("daily_window", string(window)),
			zap.String("audit_sink", cfg.Audit.Sink))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", zap.Error(runErr))
	}

	// Даем 10 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("agentpay gateway exited properly")
	return runErr
}
