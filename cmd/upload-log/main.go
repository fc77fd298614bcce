// Command upload-log stores one build stage log with the configured strategy.
// Build scripts call it after each stage; it exits non-zero when both upload
// attempts fail.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/splax/conveyor/internal/app/process"
	"github.com/splax/conveyor/internal/repository/postgres"
	"github.com/splax/conveyor/internal/userlog"
	"github.com/splax/conveyor/pkg/config"
	"github.com/splax/conveyor/pkg/logger"
)

func main() {
	var req userlog.Request
	flag.StringVar(&req.Path, "file", "", "path of the JSON log file")
	flag.StringVar(&req.ResourceType, "resource-type", "assembly", "type of the resource the log belongs to")
	flag.StringVar(&req.ResourceName, "resource-name", "", "name of the resource")
	flag.StringVar(&req.ResourceID, "resource-id", "", "id of the resource")
	flag.StringVar(&req.ProjectID, "project-id", "", "project owning the resource")
	flag.StringVar(&req.Stage, "stage", "", "pipeline stage (build, unittest)")
	flag.StringVar(&req.BuildID, "build-id", "", "build the log was produced by")
	flag.Parse()

	cfg := config.LoadWorkerConfig()
	log := logger.New("upload-log", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, req); err != nil {
		log.Error("log upload failed", "error", err, "resource_id", req.ResourceID, "stage", req.Stage)
		fmt.Fprintf(os.Stderr, "upload-log: %v\n", err)
		os.Exit(1)
	}
	log.Info("log uploaded", "resource_id", req.ResourceID, "stage", req.Stage, "strategy", cfg.Logs.Strategy)
}

func run(ctx context.Context, cfg config.WorkerConfig, req userlog.Request) error {
	pool, err := process.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	log := logger.New("upload-log", logger.ParseLevel(cfg.LogLevel))
	uploader, err := userlog.New(cfg.Logs, postgres.New(pool), log)
	if err != nil {
		return err
	}
	return userlog.UploadWithRetry(ctx, uploader, req, cfg.Logs.RetryDelay, userlog.ContextSleep, log)
}
