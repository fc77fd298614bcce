package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splax/conveyor/internal/app/process"
	"github.com/splax/conveyor/internal/bus"
	"github.com/splax/conveyor/internal/conductor"
	"github.com/splax/conveyor/internal/deployer"
	"github.com/splax/conveyor/internal/docker"
	"github.com/splax/conveyor/internal/domain"
	httpx "github.com/splax/conveyor/internal/http"
	"github.com/splax/conveyor/internal/openstack"
	"github.com/splax/conveyor/internal/repository/postgres"
	"github.com/splax/conveyor/pkg/config"
	"github.com/splax/conveyor/pkg/logger"
)

func main() {
	cfg := config.LoadDeployerConfig()
	log := logger.New("deployer", logger.ParseLevel(cfg.LogLevel)).With("handler", cfg.Handler)

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

	checks := map[string]httpx.HealthCheck{
		"database": repo.Ping,
		"bus":      b.Ping,
	}
	deps := deployer.Deps{
		Reporter: conductor.NewClient(b.Client, domain.NewSequencer()),
		Reader:   repo,
		Logger:   log,
	}
	switch cfg.Handler {
	case deployer.HandlerHeat:
		deps.Heat, err = heatOptions(cfg)
		if err != nil {
			log.Error("openstack init failed", "error", err)
			os.Exit(1)
		}
	case deployer.HandlerDocker:
		dockerClient, err := docker.New(cfg.DockerHost)
		if err != nil {
			log.Error("failed to create docker client", "error", err)
			os.Exit(1)
		}
		defer dockerClient.Close()
		if err := dockerClient.Ping(ctx); err != nil {
			log.Error("docker ping failed", "error", err)
			os.Exit(1)
		}
		deps.Docker = &deployer.DockerOptions{Runtime: dockerClient, PublicIP: cfg.DockerPublicIP}
		checks["docker"] = dockerClient.Ping
	}

	backend, err := deployer.New(cfg.Handler, deps)
	if err != nil {
		log.Error("deployer backend init failed", "error", err)
		os.Exit(1)
	}
	dispatcher := bus.NewDispatcher()
	deployer.Register(dispatcher, backend)

	router := httpx.New(log, httpx.Options{Checks: checks})
	if err := process.Run(ctx, log, cfg.Addr, router, b.Server(cfg.Bus, deployer.Topic, dispatcher, log)); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func heatOptions(cfg config.DeployerConfig) (*deployer.HeatOptions, error) {
	provider, err := openstack.Authenticate(cfg.OpenStack)
	if err != nil {
		return nil, err
	}
	orchestration, err := provider.Orchestration()
	if err != nil {
		return nil, err
	}
	network, err := provider.Network()
	if err != nil {
		return nil, err
	}
	return &deployer.HeatOptions{
		Orchestration:  orchestration,
		Network:        network,
		TemplateDir:    cfg.TemplateDir,
		Template:       cfg.Template,
		PublicNetwork:  cfg.PublicNetwork,
		PrivateNetwork: cfg.PrivateNetwork,
		StackTimeout:   time.Duration(cfg.StackTimeout) * time.Minute,
	}, nil
}
