package minio

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// A stack is stored as two objects: "<key>.json" with the axis layout
// and calibration, and "<key>.raw" with the flattened samples.
const (
	metaSuffix = ".json"
	rawSuffix  = ".raw"
)

type Storage struct {
	client      *miniogo.Client
	stackBucket string
	logBucket   string
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	StackBucket string
	LogBucket   string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client:      client,
		stackBucket: cfg.StackBucket,
		logBucket:   cfg.LogBucket,
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.stackBucket, s.logBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// DownloadStack fetches the metadata and sample objects of a stack
// into destDir and returns their local paths.
func (s *Storage) DownloadStack(ctx context.Context, stackKey string, destDir string) (string, string, error) {
	metaPath := filepath.Join(destDir, "stack"+metaSuffix)
	if err := s.client.FGetObject(ctx, s.stackBucket, stackKey+metaSuffix, metaPath, miniogo.GetObjectOptions{}); err != nil {
		return "", "", fmt.Errorf("download stack metadata %s: %w", stackKey+metaSuffix, err)
	}
	rawPath := filepath.Join(destDir, "stack"+rawSuffix)
	if err := s.client.FGetObject(ctx, s.stackBucket, stackKey+rawSuffix, rawPath, miniogo.GetObjectOptions{}); err != nil {
		return "", "", fmt.Errorf("download stack samples %s: %w", stackKey+rawSuffix, err)
	}
	return metaPath, rawPath, nil
}

// UploadRunLog stores the captured predictor log of a failed run for
// later inspection.
func (s *Storage) UploadRunLog(ctx context.Context, objectKey string, reader io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.logBucket, objectKey, reader, size, miniogo.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("upload run log: %w", err)
	}
	return nil
}
