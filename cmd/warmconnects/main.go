// Package main запускает HTTP-сервер маркетплейса warmconnects.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/warmconnects/internal/config"
	"github.com/mmeshcher/warmconnects/internal/dispute"
	"github.com/mmeshcher/warmconnects/internal/escrow"
	"github.com/mmeshcher/warmconnects/internal/handler"
	"github.com/mmeshcher/warmconnects/internal/ledger"
	"github.com/mmeshcher/warmconnects/internal/metrics"
	"github.com/mmeshcher/warmconnects/internal/middleware"
	"github.com/mmeshcher/warmconnects/internal/notify"
	"github.com/mmeshcher/warmconnects/internal/orders"
	"github.com/mmeshcher/warmconnects/internal/repository"
	"github.com/mmeshcher/warmconnects/internal/repository/memory"
	"github.com/mmeshcher/warmconnects/internal/service"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func openStore(dsn string, platformID int64) (repository.Store, error) {
	if dsn == "" {
		return memory.NewStoreWithPlatform(platformID), nil
	}
	repo, err := repository.NewPostgresRepository(dsn)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	store, err := openStore(cfg.DatabaseURI, cfg.PlatformAccountID)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	if cfg.DatabaseURI == "" {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
	}

	m := metrics.New()

	l := ledger.New(store, nil)
	esc := escrow.New(l, escrow.BasisPoints(cfg.PlatformFeeBps), cfg.PlatformAccountID, nil)
	machine := orders.NewMachine(store, esc, nil, logger)
	machine.Observe(m)

	var notifier *notify.Notifier
	if cfg.NotifyEndpoint != "" {
		notifier = notify.New(notify.NewClient(cfg.NotifyEndpoint), 0, logger, m)
		machine.Observe(notifier)
	}

	svc := service.NewService(store, l, machine, dispute.New(store, machine, nil), service.Policy{
		MaxRevisions:   cfg.MaxRevisions,
		MinWithdrawal:  cfg.MinWithdrawal,
		Arbiters:       cfg.Arbiters,
		CreditBonus:    cfg.CreditBonus,
		AcceptTimeout:  cfg.AcceptTimeout,
		ExpiryInterval: cfg.ExpiryInterval,
	}, logger, m)
	defer svc.Close()

	if err := svc.VerifyPlatformAccount(context.Background(), cfg.PlatformAccountID); err != nil {
		sugar.Fatalw("platform account check failed", "error", err)
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, sessions will not survive a restart")
	}
	h := handler.NewHandler(svc, logger, authMiddleware, m)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Отмена заказов, не принятых продавцом вовремя
	g.Go(func() error {
		svc.StartExpiry(ctx)
		return nil
	})

	if notifier != nil {
		g.Go(func() error {
			return notifier.Run(ctx)
		})
	}

	g.Go(func() error {
		sugar.Infow("starting warmconnects server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
