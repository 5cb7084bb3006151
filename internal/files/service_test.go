package files_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/storage"
	"github.com/hugh/go-backoffice/internal/testutil"
	"github.com/hugh/go-backoffice/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type recordingScheduler struct {
	keys []string
	err  error
}

func (r *recordingScheduler) ScheduleFileDelete(_ context.Context, key string) error {
	if r.err != nil {
		return r.err
	}
	r.keys = append(r.keys, key)
	return nil
}

func newService(t *testing.T, scheduler files.DeleteScheduler) (*files.Service, *storage.MemoryStorage) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := storage.NewMemory("http://files.test")
	return files.NewService(db, store, scheduler, 64, time.Hour, util.DiscardLogger()), store
}

func pngUpload() files.UploadInput {
	return files.UploadInput{
		Reader:   bytes.NewReader(pngBytes),
		Name:     "../avatar.png",
		MimeType: "image/png; charset=binary",
		Size:     int64(len(pngBytes)),
		Prefix:   "/users/",
	}
}

func TestUpload(t *testing.T) {
	svc, store := newService(t, nil)
	owner := uuid.New()

	in := pngUpload()
	in.CreatedBy = &owner
	file, err := svc.Upload(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(file.Key, "users/"))
	assert.True(t, strings.HasSuffix(file.Key, ".png"))
	assert.True(t, store.Has(file.Key))
	assert.Equal(t, "image/png", file.MimeType)
	assert.Equal(t, "avatar.png", file.OriginalName)
	assert.Equal(t, int64(len(pngBytes)), file.Size)
	assert.Contains(t, file.URL, "http://files.test/")
	assert.True(t, file.URLExpiresAt.After(time.Now().Add(59*time.Minute)))
	assert.Equal(t, &owner, file.CreatedByID)
}

func TestUpload_Rejections(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	in := pngUpload()
	in.MimeType = "application/pdf"
	_, err := svc.Upload(ctx, in)
	assert.True(t, errors.Is(err, apperr.ErrWrongFileFormat))

	in = pngUpload()
	in.Reader = strings.NewReader("just some text, not an image at all")
	_, err = svc.Upload(ctx, in)
	assert.True(t, errors.Is(err, apperr.ErrWrongFileFormat))

	in = pngUpload()
	in.Size = 65
	_, err = svc.Upload(ctx, in)
	assert.True(t, errors.Is(err, apperr.ErrFileTooLarge))

	// A lying size header is caught while reading.
	in = pngUpload()
	in.Reader = bytes.NewReader(append(append([]byte{}, pngBytes...), make([]byte, 64)...))
	_, err = svc.Upload(ctx, in)
	assert.True(t, errors.Is(err, apperr.ErrFileTooLarge))
}

func TestGet_RefreshesExpiredURL(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := storage.NewMemory("http://files.test")
	svc := files.NewService(db, store, nil, 64, time.Hour, util.DiscardLogger())
	ctx := context.Background()

	file, err := svc.Upload(ctx, pngUpload())
	require.NoError(t, err)

	stale := time.Now().Add(-time.Minute)
	require.NoError(t, db.Model(&models.File{}).Where("id = ?", file.ID).
		UpdateColumns(map[string]interface{}{"url": "http://stale", "url_expires_at": stale}).Error)

	got, err := svc.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "http://stale", got.URL)
	assert.True(t, got.URLExpiresAt.After(time.Now()))

	many, err := svc.GetMany(ctx, []uuid.UUID{file.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, many, 1)

	_, err = svc.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRename(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	file, err := svc.Upload(ctx, pngUpload())
	require.NoError(t, err)

	renamed, err := svc.Rename(ctx, file.ID, "  Company logo ", nil)
	require.NoError(t, err)
	assert.Equal(t, "Company logo", renamed.CustomName)
}

func TestDelete_SchedulesObjectRemoval(t *testing.T) {
	scheduler := &recordingScheduler{}
	svc, store := newService(t, scheduler)
	ctx := context.Background()

	file, err := svc.Upload(ctx, pngUpload())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, file.ID))
	assert.Equal(t, []string{file.Key}, scheduler.keys)
	assert.True(t, store.Has(file.Key), "object removed by the background task")

	err = svc.Delete(ctx, file.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDelete_FallsBackToInline(t *testing.T) {
	scheduler := &recordingScheduler{err: errors.New("redis down")}
	svc, store := newService(t, scheduler)
	ctx := context.Background()

	file, err := svc.Upload(ctx, pngUpload())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, file.ID))
	assert.False(t, store.Has(file.Key))
}
