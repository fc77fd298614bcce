package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/splax/conveyor/internal/app/migrate"
	"github.com/splax/conveyor/internal/app/process"
	"github.com/splax/conveyor/internal/frontend"
	httpx "github.com/splax/conveyor/internal/http"
	"github.com/splax/conveyor/internal/repository/postgres"
	"github.com/splax/conveyor/internal/worker"
	"github.com/splax/conveyor/pkg/config"
	"github.com/splax/conveyor/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	pool, err := process.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := postgres.New(pool)

	b, err := process.OpenBus(ctx, cfg.Bus, log)
	if err != nil {
		log.Error("failed to open bus", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	builds := frontend.New(repo, worker.NewClient(b.Client), log)
	router := httpx.New(log, httpx.Options{
		Builds:     builds,
		AuthSecret: cfg.AuthSecret,
		Checks: map[string]httpx.HealthCheck{
			"database": repo.Ping,
			"bus":      b.Ping,
		},
	})

	if err := process.Run(ctx, log, cfg.Addr, router); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
