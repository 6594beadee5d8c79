package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xela07ax/agentpay/internal/console/handler"
	"github.com/xela07ax/agentpay/internal/console/server"
	"github.com/xela07ax/agentpay/internal/console/service"
	"github.com/xela07ax/agentpay/internal/infra"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"github.com/xela07ax/agentpay/internal/repository/postgres"
	"github.com/xela07ax/agentpay/internal/repository/redisstore"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	var (
		cfg *infra.Config
		err error
	)
	if *configPath != "" {
		cfg, err = infra.LoadConfigFile(*configPath)
	} else {
		cfg, err = infra.LoadConfig()
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("console failed", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// 1. Ключи: консоль подписывает, проверяет по публичному
	priv, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		return fmt.Errorf("auth private key: %w", err)
	}
	issuer := auth.NewIssuer(priv, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	validator := auth.NewBaseValidator(&priv.PublicKey, cfg.Auth.Issuer)

	// 2. Nonce входа живут в Redis
	rdb, err := redisstore.Connect(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	authH := handler.NewAuthHandler(
		service.NewAuthService(redisstore.NewNonceStore(rdb), issuer, cfg.Auth.NonceTTL, logger),
		logger)

	// 3. Журнал решений доступен, только если шлюз пишет его в Postgres
	var auditH *handler.AuditHandler
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		auditH = handler.NewAuditHandler(service.NewAuditService(postgres.NewAuditRepo(pool)), logger)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewConsoleServer(logger, validator, authH, auditH),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr), zap.Bool("decisions", auditH != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-stop:
	case runErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
	logger.Info("console exited properly")
	return runErr
}
