package userlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/splax/conveyor/internal/repository"
)

// S3Uploader stores logs in an S3 compatible bucket.
type S3Uploader struct {
	client *minio.Client
	bucket string
	repo   repository.UserlogRepository
	logger *slog.Logger
}

// NewS3Client builds a minio client for endpoint.
func NewS3Client(endpoint, accessKey, secretKey, region string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return client, nil
}

// NewS3Uploader constructs an S3Uploader.
func NewS3Uploader(client *minio.Client, bucket string, repo repository.UserlogRepository, logger *slog.Logger) *S3Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Uploader{client: client, bucket: bucket, repo: repo, logger: logger}
}

// Strategy returns "s3".
func (u *S3Uploader) Strategy() string { return StrategyS3 }

// Upload puts the transformed log under the object key.
func (u *S3Uploader) Upload(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	key := req.ObjectKey()
	log := u.logger.With("bucket", u.bucket, "object", key)

	tmp, size, err := transformToTemp(req, u.logger)
	if err != nil {
		log.Error("prepare log for upload", "error", err)
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	info, err := u.client.PutObject(ctx, u.bucket, key, tmp, size, minio.PutObjectOptions{ContentType: "text/plain"})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		log.Error("s3 upload failed", "error", err, "code", resp.Code)
		if resp.Code == "EntityTooLarge" {
			return fmt.Errorf("%w: %v", ErrInvalidObjectSize, err)
		}
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	log.Info("log uploaded", "size", info.Size, "etag", info.ETag)
	return record(ctx, u.repo, req, StrategyS3, key, map[string]string{"bucket": u.bucket, "etag": info.ETag})
}
