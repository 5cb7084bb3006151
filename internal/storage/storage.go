// Package storage puts file blobs in object storage and hands out
// time-limited URLs to read them.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hugh/go-backoffice/pkg/config"
)

type Storage interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete succeeds when the key does not exist.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// New returns the backend selected by cfg.Driver.
func New(ctx context.Context, cfg *config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3(ctx, cfg)
	case "gcs":
		return NewGCS(ctx, cfg)
	case "memory":
		return NewMemory("http://localhost/files"), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
