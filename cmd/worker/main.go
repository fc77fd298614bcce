package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/splax/conveyor/internal/app/process"
	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	"github.com/splax/conveyor/internal/deployer"
	"github.com/splax/conveyor/internal/domain"
	httpx "github.com/splax/conveyor/internal/http"
	"github.com/splax/conveyor/internal/repository/postgres"
	"github.com/splax/conveyor/internal/userlog"
	"github.com/splax/conveyor/internal/worker"
	"github.com/splax/conveyor/internal/workspace"
	"github.com/splax/conveyor/pkg/config"
	"github.com/splax/conveyor/pkg/logger"
)

func main() {
	cfg := config.LoadWorkerConfig()
	log := logger.New("worker", logger.ParseLevel(cfg.LogLevel)).With("handler", cfg.Handler)

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

	ws, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("workspace init failed", "error", err, "workdir", cfg.Workdir)
		os.Exit(1)
	}
	uploader, err := userlog.New(cfg.Logs, repo, log)
	if err != nil {
		log.Error("log uploader init failed", "error", err, "strategy", cfg.Logs.Strategy)
		os.Exit(1)
	}

	seq := domain.NewSequencer()
	deps := worker.Deps{
		Reporter:  conductor.NewClient(b.Client, seq),
		Deployer:  deployer.NewClient(b.Client),
		Uploader:  uploader,
		Workspace: ws,
		Sequencer: seq,
		Logger:    log,
	}
	if cfg.Handler == worker.HandlerShellNoBuild {
		deps.Direct = repo
	}
	backend, err := worker.New(cfg.Handler, worker.Options{
		ScriptDir:     cfg.ScriptDir,
		BuildTimeout:  cfg.BuildTimeout,
		LogRetryDelay: cfg.Logs.RetryDelay,
	}, deps)
	if err != nil {
		log.Error("worker backend init failed", "error", err)
		os.Exit(1)
	}

	dispatcher := bus.NewDispatcher()
	worker.Register(dispatcher, backend)

	router := httpx.New(log, httpx.Options{Checks: map[string]httpx.HealthCheck{
		"database": repo.Ping,
		"bus":      b.Ping,
	}})
	if err := process.Run(ctx, log, cfg.Addr, router, b.Server(cfg.Bus, worker.Topic, dispatcher, log)); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
