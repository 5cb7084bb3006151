package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/hugh/go-backoffice/pkg/config"
	"google.golang.org/api/option"
)

type GCSStorage struct {
	client *gcs.Client
	bucket string
}

// NewGCS uses the service account file when configured, application
// default credentials otherwise.
func NewGCS(ctx context.Context, cfg *config.StorageConfig) (*GCSStorage, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

func (s *GCSStorage) Upload(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing object %s: %w", key, err)
	}
	return nil
}

func (s *GCSStorage) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.Bucket(s.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("signing %s: %w", key, err)
	}
	return u, nil
}

func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("deleting object %s: %w", key, err)
	}
	return nil
}

func (s *GCSStorage) Ping(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}
