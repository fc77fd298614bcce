package userlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/splax/conveyor/internal/domain"
	"github.com/splax/conveyor/internal/repository"
)

// Strategy names.
const (
	StrategyLocal = "local"
	StrategySwift = "swift"
	StrategyS3    = "s3"
)

// ErrInvalidObjectSize is returned when a log exceeds the store's object size limit.
var ErrInvalidObjectSize = errors.New("userlog: invalid object size")

// Request identifies one stage log to publish.
type Request struct {
	ResourceType string
	ResourceName string
	ResourceID   string
	ProjectID    string
	Stage        string
	BuildID      string
	Path         string
}

// ObjectKey is the store key for req: "{name}-{id}/{stage}-{build}.log".
func (r Request) ObjectKey() string {
	return fmt.Sprintf("%s-%s/%s-%s.log", r.ResourceName, r.ResourceID, r.Stage, r.BuildID)
}

func (r Request) validate() error {
	if r.ResourceID == "" || r.Stage == "" || r.BuildID == "" || r.Path == "" {
		return errors.New("resource id, stage, build id and path are required")
	}
	return nil
}

// Uploader publishes a stage log and records a Userlog entry on success only.
type Uploader interface {
	Upload(ctx context.Context, req Request) error
	Strategy() string
}

func record(ctx context.Context, repo repository.UserlogRepository, req Request, strategy, location string, info map[string]string) error {
	entry := &domain.Userlog{
		ResourceType: req.ResourceType,
		ResourceUUID: req.ResourceID,
		ProjectID:    req.ProjectID,
		Location:     location,
		Strategy:     strategy,
		StrategyInfo: info,
	}
	if err := repo.CreateUserlog(ctx, entry); err != nil {
		return fmt.Errorf("record userlog: %w", err)
	}
	return nil
}

// transformToTemp renders req.Path into a temporary text file the caller must remove.
func transformToTemp(req Request, logger *slog.Logger) (*os.File, int64, error) {
	src, err := os.Open(req.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "conveyor-log-*.log")
	if err != nil {
		return nil, 0, fmt.Errorf("create temp log: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := TransformJSONLog(src, tmp, logger); err != nil {
		cleanup()
		return nil, 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		cleanup()
		return nil, 0, fmt.Errorf("stat temp log: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		cleanup()
		return nil, 0, fmt.Errorf("rewind temp log: %w", err)
	}
	return tmp, info.Size(), nil
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UploadWithRetry makes at most two attempts separated by delay.
func UploadWithRetry(ctx context.Context, up Uploader, req Request, delay time.Duration, sleep Sleeper, logger *slog.Logger) error {
	if sleep == nil {
		sleep = ContextSleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("strategy", up.Strategy(), "resource_id", req.ResourceID, "stage", req.Stage, "build_id", req.BuildID)

	first := up.Upload(ctx, req)
	if first == nil {
		return nil
	}
	log.Warn("log upload failed, retrying", "error", first, "delay", delay)
	if err := sleep(ctx, delay); err != nil {
		return fmt.Errorf("upload log: %w", first)
	}
	if err := up.Upload(ctx, req); err != nil {
		log.Error("log upload failed after retry", "error", err)
		return fmt.Errorf("upload log after retry: %w", err)
	}
	return nil
}
