// Package storage keeps book cover images in MinIO/S3-compatible object
// storage. Only the object key is persisted on the book; downloads go through
// short-lived pre-signed URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	coverPrefix       = "covers/"
	coverURLExpiry    = 15 * time.Minute
	maxCoverSizeBytes = 5 << 20
)

// CoverStore holds book cover images in a single bucket.
type CoverStore struct {
	client *minio.Client
	bucket string
}

// NewCoverStore connects to the object store and ensures the bucket exists.
func NewCoverStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*CoverStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &CoverStore{client: client, bucket: bucket}, nil
}

// SaveCover uploads a cover image and returns its object key. Only common
// image types are accepted and uploads are size-capped.
func (s *CoverStore) SaveCover(ctx context.Context, bookID string, r io.Reader, size int64, contentType string) (string, error) {
	ext, err := coverExtension(contentType)
	if err != nil {
		return "", err
	}
	if size <= 0 || size > maxCoverSizeBytes {
		return "", fmt.Errorf("cover image must be between 1 byte and %d bytes", maxCoverSizeBytes)
	}
	key := coverPrefix + bookID + ext
	_, err = s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put cover: %w", err)
	}
	return key, nil
}

// CoverURL generates a short-lived pre-signed GET URL for a stored cover.
func (s *CoverStore) CoverURL(ctx context.Context, key string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, coverURLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign cover: %w", err)
	}
	return url.String(), nil
}

// DeleteCover removes a stored cover.
func (s *CoverStore) DeleteCover(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete cover: %w", err)
	}
	return nil
}

func coverExtension(contentType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/webp":
		return ".webp", nil
	}
	return "", fmt.Errorf("unsupported cover content type %q", contentType)
}
