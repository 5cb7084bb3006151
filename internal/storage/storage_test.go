package storage_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hugh/go-backoffice/internal/storage"
	"github.com/hugh/go-backoffice/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Storage_SignedURL(t *testing.T) {
	s, err := storage.NewS3(context.Background(), &config.StorageConfig{
		Driver:          "s3",
		Bucket:          "backoffice",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	u, err := s.SignedURL(context.Background(), "images/logo.png", 15*time.Minute)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(u, "http://localhost:9000/backoffice/images/logo.png?"), u)
	assert.Contains(t, u, "X-Amz-Expires=900")
	assert.Contains(t, u, "X-Amz-Signature=")
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory("http://files.local")

	require.NoError(t, m.Upload(ctx, "a/b.png", bytes.NewReader([]byte("png")), 3, "image/png"))
	assert.True(t, m.Has("a/b.png"))

	u, err := m.SignedURL(ctx, "a/b.png", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "http://files.local/a%2Fb.png?expires=")

	require.NoError(t, m.Delete(ctx, "a/b.png"))
	require.NoError(t, m.Delete(ctx, "a/b.png"))
	assert.False(t, m.Has("a/b.png"))

	_, err = m.SignedURL(ctx, "a/b.png", time.Minute)
	assert.Error(t, err)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := storage.New(context.Background(), &config.StorageConfig{Driver: "ftp"})
	assert.ErrorContains(t, err, "unknown storage driver")
}
