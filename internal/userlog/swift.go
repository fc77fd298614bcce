package userlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/objectstorage/v1/objects"

	"github.com/splax/conveyor/internal/repository"
)

// SwiftUploader stores logs as Swift objects.
type SwiftUploader struct {
	client    *gophercloud.ServiceClient
	container string
	maxSize   int64
	repo      repository.UserlogRepository
	logger    *slog.Logger
}

// NewSwiftUploader constructs a SwiftUploader. maxSize <= 0 disables the size check.
func NewSwiftUploader(client *gophercloud.ServiceClient, container string, maxSize int64, repo repository.UserlogRepository, logger *slog.Logger) *SwiftUploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SwiftUploader{client: client, container: container, maxSize: maxSize, repo: repo, logger: logger}
}

// Strategy returns "swift".
func (u *SwiftUploader) Strategy() string { return StrategySwift }

// Upload sends one attempt to Swift. Failures are logged and returned without retrying.
func (u *SwiftUploader) Upload(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	key := req.ObjectKey()
	log := u.logger.With("container", u.container, "object", key)

	tmp, size, err := transformToTemp(req, u.logger)
	if err != nil {
		log.Error("prepare log for upload", "error", err)
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if u.maxSize > 0 && size > u.maxSize {
		log.Error("log exceeds object size limit", "size", size, "limit", u.maxSize)
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidObjectSize, size, u.maxSize)
	}

	res := objects.Create(u.client, u.container, key, objects.CreateOpts{
		Content:       tmp,
		ContentType:   "text/plain",
		ContentLength: size,
	})
	if res.Err != nil {
		log.Error("swift upload failed", "error", res.Err)
		return fmt.Errorf("swift upload %s: %w", key, res.Err)
	}
	log.Info("log uploaded", "size", size)
	return record(ctx, u.repo, req, StrategySwift, key, map[string]string{"container": u.container})
}
