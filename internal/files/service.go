// Package files stores uploaded images in object storage and keeps their
// signed URLs fresh.
package files

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/storage"
	"gorm.io/gorm"
)

// AllowedImageTypes maps accepted mime types to the key extension.
var AllowedImageTypes = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/x-icon":  ".ico",
	"image/svg+xml": ".svg",
}

// refreshMargin re-signs URLs that would expire shortly after being served.
const refreshMargin = time.Minute

// DeleteScheduler removes storage objects in the background.
type DeleteScheduler interface {
	ScheduleFileDelete(ctx context.Context, key string) error
}

type Service struct {
	db        *gorm.DB
	storage   storage.Storage
	scheduler DeleteScheduler
	maxBytes  int64
	urlTTL    time.Duration
	logger    *slog.Logger
}

// NewService creates the file service. With a nil scheduler objects are
// deleted inline.
func NewService(db *gorm.DB, store storage.Storage, scheduler DeleteScheduler, maxBytes int64, urlTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		storage:   store,
		scheduler: scheduler,
		maxBytes:  maxBytes,
		urlTTL:    urlTTL,
		logger:    logger,
	}
}

type UploadInput struct {
	Reader    io.Reader
	Name      string
	MimeType  string
	Size      int64
	Prefix    string
	CreatedBy *uuid.UUID
}

// Upload validates an image, stores it and records a File.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*models.File, error) {
	mimeType := strings.ToLower(strings.TrimSpace(strings.Split(in.MimeType, ";")[0]))
	ext, ok := AllowedImageTypes[mimeType]
	if !ok {
		return nil, apperr.ErrWrongFileFormat
	}
	if in.Size > s.maxBytes {
		return nil, apperr.ErrFileTooLarge
	}

	br := bufio.NewReader(io.LimitReader(in.Reader, s.maxBytes+1))
	head, _ := br.Peek(512)
	if !contentMatches(mimeType, head) {
		return nil, apperr.ErrWrongFileFormat
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, apperr.ErrFileTooLarge
	}

	prefix := strings.Trim(in.Prefix, "/")
	if prefix == "" {
		prefix = "uploads"
	}
	key := path.Join(prefix, uuid.NewString()+ext)

	if err := s.storage.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), mimeType); err != nil {
		return nil, err
	}

	url, expiresAt, err := s.sign(ctx, key)
	if err != nil {
		return nil, err
	}

	file := &models.File{
		Audit:        models.Audit{CreatedByID: in.CreatedBy, UpdatedByID: in.CreatedBy},
		Key:          key,
		URL:          url,
		URLExpiresAt: expiresAt,
		MimeType:     mimeType,
		Size:         int64(len(body)),
		OriginalName: path.Base(in.Name),
	}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to remove orphaned object", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("creating file: %w", err)
	}

	s.logger.Info("file uploaded", "file_id", file.ID, "key", key, "size", file.Size)
	return file, nil
}

// contentMatches sniffs the first bytes. SVG and ICO are not reliably
// detected, so only the text/binary split is checked for them.
func contentMatches(mimeType string, head []byte) bool {
	detected := http.DetectContentType(head)
	switch mimeType {
	case "image/svg+xml":
		return strings.HasPrefix(detected, "text/")
	case "image/x-icon":
		return detected == "image/x-icon" || detected == "application/octet-stream"
	default:
		return detected == mimeType
	}
}

func (s *Service) sign(ctx context.Context, key string) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.urlTTL)
	url, err := s.storage.SignedURL(ctx, key, s.urlTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return url, expiresAt, nil
}

// Get loads a file, re-signing its URL when it has expired or is about to.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.File, error) {
	var file models.File
	if err := s.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("File")
		}
		return nil, fmt.Errorf("loading file: %w", err)
	}
	if err := s.refresh(ctx, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetMany loads files by id, skipping ids that do not exist.
func (s *Service) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.File, error) {
	out := make(map[uuid.UUID]*models.File, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.File
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading files: %w", err)
	}
	for i := range rows {
		if err := s.refresh(ctx, &rows[i]); err != nil {
			return nil, err
		}
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

func (s *Service) refresh(ctx context.Context, file *models.File) error {
	if time.Now().Add(refreshMargin).Before(file.URLExpiresAt) {
		return nil
	}
	url, expiresAt, err := s.sign(ctx, file.Key)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(file).UpdateColumns(map[string]interface{}{
		"url":            url,
		"url_expires_at": expiresAt,
	}).Error; err != nil {
		return fmt.Errorf("storing signed url: %w", err)
	}
	file.URL = url
	file.URLExpiresAt = expiresAt
	return nil
}

// Rename sets the display name of a file.
func (s *Service) Rename(ctx context.Context, id uuid.UUID, name string, actorID *uuid.UUID) (*models.File, error) {
	file, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(file).Updates(map[string]interface{}{
		"custom_name":   strings.TrimSpace(name),
		"updated_by_id": actorID,
	}).Error; err != nil {
		return nil, fmt.Errorf("renaming file: %w", err)
	}
	file.CustomName = strings.TrimSpace(name)
	return file, nil
}

// Delete removes the record and schedules removal of the stored object.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var file models.File
	if err := s.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("File")
		}
		return fmt.Errorf("loading file: %w", err)
	}
	if err := s.db.WithContext(ctx).Delete(&file).Error; err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	if s.scheduler != nil {
		err := s.scheduler.ScheduleFileDelete(ctx, file.Key)
		if err == nil {
			return nil
		}
		s.logger.Warn("failed to schedule object delete, deleting inline", "key", file.Key, "error", err)
	}
	return s.storage.Delete(ctx, file.Key)
}
