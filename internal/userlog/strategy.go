package userlog

import (
	"fmt"
	"log/slog"

	"github.com/splax/conveyor/internal/openstack"
	"github.com/splax/conveyor/internal/repository"
	"github.com/splax/conveyor/pkg/config"
)

// New selects the uploader named by cfg.Strategy.
func New(cfg config.LogConfig, repo repository.UserlogRepository, logger *slog.Logger) (Uploader, error) {
	switch cfg.Strategy {
	case "", StrategyLocal:
		return NewLocalUploader(cfg.LocalDir, repo, logger)
	case StrategySwift:
		provider, err := openstack.Authenticate(cfg.OpenStack)
		if err != nil {
			return nil, err
		}
		client, err := provider.ObjectStorage()
		if err != nil {
			return nil, err
		}
		return NewSwiftUploader(client, cfg.SwiftContainer, cfg.SwiftMaxObject, repo, logger), nil
	case StrategyS3:
		client, err := NewS3Client(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL)
		if err != nil {
			return nil, err
		}
		return NewS3Uploader(client, cfg.S3Bucket, repo, logger), nil
	default:
		return nil, fmt.Errorf("unknown log upload strategy %q", cfg.Strategy)
	}
}
