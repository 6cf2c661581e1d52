package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/walletwatch/geotrigger/internal/api"
	"github.com/walletwatch/geotrigger/internal/config"
	"github.com/walletwatch/geotrigger/internal/engine"
	"github.com/walletwatch/geotrigger/internal/executor"
	"github.com/walletwatch/geotrigger/internal/gate"
	"github.com/walletwatch/geotrigger/internal/ledger"
	"github.com/walletwatch/geotrigger/internal/rules"
	"github.com/walletwatch/geotrigger/internal/store"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/worker.yaml", "Path to worker YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open store", "err", err, "path", cfg.Database.Path)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("store open", "path", cfg.Database.Path)

	// ── Function registry ─────────────────────────────────────────────────────
	registry := executor.NewRegistry()
	for _, fn := range cfg.Functions {
		registry.Register(executor.Binding{Function: fn.Name, ReadOnly: fn.ReadOnly})
	}
	slog.Info("function bindings registered", "count", len(cfg.Functions))

	// ── Ledger client ─────────────────────────────────────────────────────────
	var client ledger.Client
	if cfg.Ledger.Endpoint != "" {
		credential, err := ledger.CredentialFromSeed(cfg.Ledger.CredentialSeed)
		if err != nil {
			slog.Error("failed to load service credential", "err", err)
			os.Exit(1)
		}
		client = ledger.NewRPCClient(cfg.Ledger.Endpoint, credential)
		slog.Info("ledger client ready", "endpoint", cfg.Ledger.Endpoint, "signer", credential.Address())
	} else {
		slog.Warn("no ledger endpoint configured; submit_readonly_to_ledger rules will fail")
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	exec := executor.New(registry, client, db, cfg.Ledger.ContractID,
		cfg.Ledger.ConfirmAttempts,
		time.Duration(cfg.Ledger.ConfirmBackoffMs)*time.Millisecond)

	scheduler := engine.NewScheduler(db, rules.New(db), gate.New(db), exec,
		time.Duration(cfg.Worker.MatchIntervalMs)*time.Millisecond,
		cfg.Worker.BatchSize, logger)

	sweeper := engine.NewSweeper(db,
		time.Duration(cfg.Worker.SweepIntervalMs)*time.Millisecond,
		time.Duration(cfg.Worker.RetentionHours)*time.Hour, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	slog.Info("worker started",
		"match_interval_ms", cfg.Worker.MatchIntervalMs,
		"sweep_interval_ms", cfg.Worker.SweepIntervalMs)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.WorkerConfig) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		slog.Info("config reloaded; cadence and credential changes apply on restart",
			"version", newCfg.Version)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(db, loader)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop scheduling future cycles; the in-flight one finishes
	wg.Wait()
	slog.Info("goodbye")
}
