// Package storage keeps pet avatar images in an S3-compatible object
// store. Everything else the app persists lives in the document store;
// avatars are the one binary that gets served directly to browsers, so
// they go through presigned URLs instead of data URIs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/caneko-app/caneko-server/internal/config"
)

const presignExpiry = time.Hour

// Storage provides avatar object operations
type Storage struct {
	client     *minio.Client
	bucketName string
}

// New creates a new storage client and ensures the bucket exists.
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

// UploadAvatar stores an avatar image and returns its object key. The key
// carries a random suffix so replacing an avatar never serves a stale
// cached object.
func (s *Storage) UploadAvatar(ctx context.Context, userID string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("avatars/%s/%s", userID, uuid.New().String())

	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	return key, nil
}

// AvatarURL returns a presigned URL for an avatar object
func (s *Storage) AvatarURL(ctx context.Context, objectKey string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey, presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return url.String(), nil
}

// DeleteAvatar deletes an avatar object
func (s *Storage) DeleteAvatar(ctx context.Context, objectKey string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete avatar: %w", err)
	}

	return nil
}

// DeleteUserAvatars removes all avatar objects belonging to a user.
// Used by the purge worker after an account delete.
func (s *Storage) DeleteUserAvatars(ctx context.Context, userID string) error {
	prefix := fmt.Sprintf("avatars/%s/", userID)

	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return fmt.Errorf("failed to list avatars: %w", object.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete avatar %s: %w", object.Key, err)
		}
	}

	return nil
}
