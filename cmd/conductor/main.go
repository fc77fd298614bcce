package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/splax/conveyor/internal/app/process"
	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	httpx "github.com/splax/conveyor/internal/http"
	"github.com/splax/conveyor/internal/repository/postgres"
	"github.com/splax/conveyor/pkg/config"
	"github.com/splax/conveyor/pkg/logger"
)

func main() {
	cfg := config.LoadConductorConfig()
	log := logger.New("conductor", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	dispatcher := bus.NewDispatcher()
	conductor.NewHandler(repo, log).Register(dispatcher)

	router := httpx.New(log, httpx.Options{Checks: map[string]httpx.HealthCheck{
		"database": repo.Ping,
		"bus":      b.Ping,
	}})
	if err := process.Run(ctx, log, cfg.Addr, router, b.Server(cfg.Bus, conductor.Topic, dispatcher, log)); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
