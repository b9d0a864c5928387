package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/simgate/internal/api"
	"github.com/gyaneshwarpardhi/simgate/internal/config"
	"github.com/gyaneshwarpardhi/simgate/internal/engine"
	"github.com/gyaneshwarpardhi/simgate/internal/gate"
)

func main() {
	envCfg, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to read environment", "err", err)
		os.Exit(1)
	}

	addr := flag.String("addr", envCfg.Addr, "HTTP listen address")
	cfgPath := flag.String("config", envCfg.MachinesPath, "Path to machine templates YAML")
	flag.Parse()

	logger := newLogger(envCfg.LogLevel, envCfg.LogFormat)
	slog.SetDefault(logger)

	// ── Load templates ───────────────────────────────────────────────────────
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
	slog.Info("machine templates loaded", "path", *cfgPath, "templates", len(cfg.Machines))

	// ── Engine ───────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(ctx, cfg, engine.WithLogger(logger))
	slog.Info("engine started",
		"tick_hz", cfg.Engine.TickHz,
		"manual_step", cfg.Engine.ManualStep,
		"queue_depth", cfg.Engine.QueueDepth,
	)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.MachineConfig) {
		eng.SwapTemplates(newCfg)
		slog.Info("machine templates hot-reloaded", "templates", len(newCfg.Machines))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Admission gate ───────────────────────────────────────────────────────
	g := gate.New(gate.Config{
		RequiredToken:      envCfg.APIToken,
		RateLimitPerWindow: envCfg.RateLimitPerSec,
	}, gate.NewBuckets(), gate.WithLogger(logger))
	if !g.AuthEnabled() {
		slog.Warn("SIMGATE_API_TOKEN is empty; /v1 is open to any client")
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.New(eng, loader, g),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr, "rate_limit_per_sec", envCfg.RateLimitPerSec)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Shutdown()
	cancel()
	slog.Info("goodbye")
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
