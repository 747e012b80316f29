// Command schedulerd runs the scheduler daemon: it loads configuration,
// starts the Scheduler facade (which owns the dispatcher's thread of
// control), optionally exposes the admin HTTP surface, and waits for
// SIGINT/SIGTERM to begin graceful shutdown.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/selfhostly/scheduler/internal/adminapi"
	"github.com/selfhostly/scheduler/internal/config"
	"github.com/selfhostly/scheduler/internal/resolver"
	"github.com/selfhostly/scheduler/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (overrides SCHEDULERD_CONFIG)")
	adminAddr := flag.String("admin-addr", "", "address for the optional admin HTTP surface, e.g. :8090 (disabled if empty)")
	adminKey := flag.String("admin-key", "", "HMAC signing key for admin API bearer tokens (unauthenticated if empty)")
	flag.Parse()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	logger := slog.Default()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	registry := resolver.New()
	registerBuiltinWorkers(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(ctx, cfg, registry, scheduler.WithPlugins(resolver.NewPluginLoader()))
	if err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	var admin *adminapi.Server
	if *adminAddr != "" {
		admin = adminapi.New(sched, *adminKey)
		go func() {
			sched.Log().Info("admin API listening", "address", *adminAddr)
			if err := admin.ListenAndServe(*adminAddr); err != nil {
				sched.Log().Error("admin API server error", "error", err)
			}
		}()
	}

	sched.Log().Info("schedulerd started", "db_path", cfg.DBPath, "poll_interval", cfg.PollInterval)

	<-ctx.Done()
	sched.Log().Info("shutting down schedulerd...")

	if admin != nil {
		if err := admin.Shutdown(); err != nil {
			sched.Log().Warn("admin API shutdown error", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		sched.End()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		sched.Log().Warn("shutdown timed out waiting for workers to drain")
	}

	sched.Log().Info("schedulerd stopped")
}
