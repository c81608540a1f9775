// Package minio implements the MinIO storage backend for on-premises and
// disconnected deployments, where field kits run their own object store.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aspr-photos/intake/internal/config"
	"github.com/aspr-photos/intake/internal/storage"
)

const defaultRegion = "us-east-1"

func init() {
	storage.Register("minio", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Minio)
	})
}

// MinioStorage implements the Storage interface on a MinIO bucket.
type MinioStorage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client. No request is made until the first operation.
func New(cfg *config.MinioStorageConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		// A fixed region skips the bucket location lookup.
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinioStorage{client: client, bucket: cfg.Bucket, region: region}, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Upload puts an object with its content type and user metadata.
func (s *MinioStorage) Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	return nil
}

// Open fetches an object. GetObject is lazy, so Stat forces the request and
// surfaces a missing key here rather than on first Read.
func (s *MinioStorage) Open(ctx context.Context, path string) (*storage.Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get MinIO object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat MinIO object: %w", err)
	}
	return &storage.Object{Body: obj, ContentType: info.ContentType, Size: info.Size}, nil
}

// Exists stats the object.
func (s *MinioStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat MinIO object: %w", err)
	}
	return true, nil
}

// Delete removes an object. RemoveObject succeeds for missing keys, so a stat
// comes first to report existence.
func (s *MinioStorage) Delete(ctx context.Context, path string) (bool, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil || !exists {
		return false, err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("failed to delete MinIO object: %w", err)
	}
	return true, nil
}

// DeleteByPrefix lists recursively under prefix and removes each object.
func (s *MinioStorage) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.New("refusing to delete with an empty prefix")
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deleted := 0
	for object := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return deleted, fmt.Errorf("failed to list MinIO objects: %w", object.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return deleted, fmt.Errorf("failed to delete MinIO object %s: %w", object.Key, err)
		}
		deleted++
	}
	return deleted, nil
}

// EnsureContainer creates the bucket if it does not exist.
func (s *MinioStorage) EnsureContainer(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check MinIO bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("failed to create MinIO bucket: %w", err)
	}
	return nil
}
