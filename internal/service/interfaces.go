package service

import (
	"context"
	"io"

	"github.com/pesio-ai/be-documents/internal/scanner"
)

// ObjectStore persists version blobs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Remove(ctx context.Context, key string) error
}

// MalwareScanner gates content before it is stored.
type MalwareScanner interface {
	Scan(ctx context.Context, data []byte) (scanner.Result, error)
}

// JobScheduler owns the reminder and escalation jobs of a version under review.
type JobScheduler interface {
	Schedule(ctx context.Context, versionID, documentID string) error
	// Cancel removes jobs that have not fired yet and returns how many it removed.
	Cancel(ctx context.Context, versionID string) (int, error)
}
