// Package storage is the object store adapter for document blobs.
package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-documents/internal/platform/config"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
)

// MinioStore stores blobs in a single S3-compatible bucket. The bucket is
// created on first use.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	log    zerolog.Logger

	mu    sync.Mutex
	ready bool
}

// NewMinioStore creates the client. No request is made until the first call.
func NewMinioStore(cfg config.StorageConfig, log zerolog.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to initialize object store client")
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, region: cfg.Region, log: log}, nil
}

// ensureBucket creates the bucket if it is missing. Concurrent creators and
// a bucket created by another replica are both tolerated.
func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Unavailable(err, "failed to check bucket")
	}
	if !exists {
		err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
		if err != nil {
			code := minio.ToErrorResponse(err).Code
			if code != "BucketAlreadyOwnedByYou" && code != "BucketAlreadyExists" {
				return errors.Unavailable(err, "failed to create bucket")
			}
		} else {
			s.log.Info().Str("bucket", s.bucket).Msg("Object store bucket created")
		}
	}

	s.ready = true
	return nil
}

// Put writes data under key. It returns once the object is durable.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Unavailable(err, "failed to store object")
	}
	return nil
}

// GetStream opens the object at key. The caller closes the reader.
func (s *MinioStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Unavailable(err, "failed to open object")
	}
	// GetObject is lazy; Stat surfaces a missing key before streaming starts.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.NotFound("object", key)
		}
		return nil, errors.Unavailable(err, "failed to open object")
	}
	return obj, nil
}

// Copy duplicates srcKey to dstKey server side.
func (s *MinioStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey},
	)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return errors.NotFound("object", srcKey)
		}
		return errors.Unavailable(err, "failed to copy object")
	}
	return nil
}

// Remove deletes the object at key. Removing a missing key succeeds.
func (s *MinioStore) Remove(ctx context.Context, key string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Unavailable(err, "failed to remove object")
	}
	return nil
}
