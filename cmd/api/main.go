package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/bank-ledger/internal/auth"
	"github.com/Dan9191/bank-ledger/internal/config"
	"github.com/Dan9191/bank-ledger/internal/handler"
	"github.com/Dan9191/bank-ledger/internal/notify"
	"github.com/Dan9191/bank-ledger/internal/repository"
	"github.com/Dan9191/bank-ledger/internal/scheduler"
	"github.com/Dan9191/bank-ledger/internal/service"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	opts := repository.Options{Timeout: cfg.StorageTimeout, MaxRetries: cfg.TxMaxRetries}
	var store repository.Store
	if cfg.DBDriver == "memory" {
		logger.Warn("Using in-memory store; balances are lost on restart")
		store = repository.NewMemoryStore(opts)
	} else {
		db, err := repository.Open(ctx, cfg.DBDriver, cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		store = repository.NewPostgresStore(db, opts, logger)
	}

	// Initialize layers
	var notifier service.MaturityNotifier
	if cfg.NotifyEnabled {
		notifier = notify.NewSender(cfg, logger)
	}
	gate := auth.NewGate(cfg.JWTSecret, cfg.TokenTTL, cfg.OperatorKey, store)
	identities := service.NewIdentityService(store, gate, logger)
	ledger := service.NewLedgerService(store, logger, nil)
	savings := service.NewSavingsService(store, notifier, logger, nil)
	engine := service.NewAccrualEngine(store, logger, cfg.AccrualWorkers, nil)
	h := handler.NewHandler(store, identities, ledger, savings, engine, logger)

	sched, err := scheduler.New(cfg.AccrualSchedule, cfg.SweepSchedule, engine, savings, logger)
	if err != nil {
		logger.Fatalf("Failed to configure scheduler: %v", err)
	}
	sched.Start()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(h, gate, logger, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	sched.Stop(shutdownCtx)
}
