package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pustakalab/pustaka/internal/app"
	"github.com/pustakalab/pustaka/internal/auth"
	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/catalog"
	"github.com/pustakalab/pustaka/internal/loan"
	"github.com/pustakalab/pustaka/internal/pending"
	"github.com/pustakalab/pustaka/internal/platform/db"
	"github.com/pustakalab/pustaka/internal/shared"
	"github.com/pustakalab/pustaka/internal/token"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tokens, err := token.NewService(cfg.JWTSecret, cfg.TokenTTL, logger)
	if err != nil {
		logger.Error("token service", slog.Any("error", err))
		os.Exit(1)
	}
	revocations := token.NewRevocationStore(redisClient)
	gate := authz.NewGate(tokens, revocations, logger)

	auditLogger := shared.NewAuditLogger(pool, logger)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)

	authService := auth.NewService(auth.NewRepository(pool))
	authHandler := auth.NewHandler(logger, authService, tokens, revocations)

	catalogService := catalog.NewService(catalog.NewRepository(pool), auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService, gate)

	loanService := loan.NewService(loan.NewRepository(pool), auditLogger, approvalRecorder,
		loan.ServiceConfig{FineRatePerDay: cfg.FineRatePerDay})
	loanHandler := loan.NewHandler(logger, loanService, gate)

	pendingService := pending.NewService(pending.NewRepository(pool), auditLogger, approvalRecorder)
	pendingHandler := pending.NewHandler(logger, pendingService, gate)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Gate:           gate,
		AuthHandler:    authHandler,
		CatalogHandler: catalogHandler,
		LoanHandler:    loanHandler,
		PendingHandler: pendingHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
