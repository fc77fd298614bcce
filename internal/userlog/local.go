package userlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/splax/conveyor/internal/repository"
)

// LocalUploader renders logs into a directory on the worker host.
type LocalUploader struct {
	dir    string
	repo   repository.UserlogRepository
	logger *slog.Logger
}

// NewLocalUploader constructs a LocalUploader rooted at dir.
func NewLocalUploader(dir string, repo repository.UserlogRepository, logger *slog.Logger) (*LocalUploader, error) {
	if dir == "" {
		return nil, fmt.Errorf("local log dir cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalUploader{dir: dir, repo: repo, logger: logger}, nil
}

// Strategy returns "local".
func (u *LocalUploader) Strategy() string { return StrategyLocal }

// Upload writes the transformed log under the object key and records that copy's
// path as the entry location. The stage log in req.Path lives in the build
// workspace, which is deleted once the build finishes, so it is kept only as
// the "source" strategy info.
func (u *LocalUploader) Upload(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	src, err := os.Open(req.Path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer src.Close()

	dest := filepath.Join(u.dir, filepath.FromSlash(req.ObjectKey()))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	if _, err := TransformJSONLog(src, out, u.logger); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("close log: %w", err)
	}
	return record(ctx, u.repo, req, StrategyLocal, dest, map[string]string{"source": req.Path})
}
