// Package main is the entry point for the forecastpool exchange API server.
// It wires the AMM trading engine, settlement pipeline and HTTP surface, and
// runs the deadline-close scheduler alongside the server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/forecastpool/exchange/internal/api"
	"github.com/forecastpool/exchange/internal/config"
	"github.com/forecastpool/exchange/internal/repository"
	"github.com/forecastpool/exchange/internal/scheduler"
	"github.com/forecastpool/exchange/internal/service"
	"github.com/forecastpool/exchange/internal/ws"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting forecastpool exchange", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	marketRepo := repository.NewMarketRepository(db)
	poolRepo := repository.NewPoolRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	// ── 5. WebSocket hub + services ───────────────────────────────────────────
	var wsOrigins []string
	for o := range cfg.Server.AllowedOrigins {
		wsOrigins = append(wsOrigins, o)
	}
	hub := ws.NewHub(wsOrigins)
	go hub.Run()

	invalidator := service.NewPriceFeed(db, marketRepo, hub)

	quoteSvc := service.NewQuoteService(db, marketRepo, poolRepo, cfg)
	execSvc := service.NewExecutionService(db, marketRepo, poolRepo, ledgerRepo, cfg, invalidator)
	setupSvc := service.NewSetupService(db, marketRepo, poolRepo, cfg)
	settlementSvc := service.NewSettlementService(db, marketRepo, poolRepo, ledgerRepo, cfg, invalidator)

	// ── 6. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 7. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(marketRepo, cfg, logger)
	sched.Start(ctx)

	// ── 8. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		QuoteSvc:      quoteSvc,
		ExecSvc:       execSvc,
		SetupSvc:      setupSvc,
		SettlementSvc: settlementSvc,
		MarketRepo:    marketRepo,
		LedgerRepo:    ledgerRepo,
		Hub:           hub,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 9. Start server ───────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	// ── 10. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
