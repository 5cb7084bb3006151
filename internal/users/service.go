// Package users implements account administration: listing, profile edits,
// role changes, suspension and deletion.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/api/validation"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/tokens"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	auth   *auth.Service
	files  *files.Service
	tokens *tokens.Service
	logger *slog.Logger
}

func NewService(db *gorm.DB, authService *auth.Service, fileService *files.Service, tokenService *tokens.Service, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		auth:   authService,
		files:  fileService,
		tokens: tokenService,
		logger: logger,
	}
}

type ListParams struct {
	Page    int
	PerPage int
	Search  string
	Role    models.Role
}

func (p *ListParams) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 20
	}
	if p.PerPage > 100 {
		p.PerPage = 100
	}
}

type Page struct {
	Users   []models.User
	Total   int64
	Page    int
	PerPage int
}

// TotalPages returns the number of pages needed for Total rows.
func (p *Page) TotalPages() int {
	if p.PerPage == 0 {
		return 0
	}
	pages := int(p.Total) / p.PerPage
	if int(p.Total)%p.PerPage > 0 {
		pages++
	}
	return pages
}

func (s *Service) List(ctx context.Context, params ListParams) (*Page, error) {
	params.normalize()

	query := s.db.WithContext(ctx).Model(&models.User{})
	if term := strings.ToLower(strings.TrimSpace(params.Search)); term != "" {
		like := "%" + term + "%"
		query = query.Where(
			"LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(display_name) LIKE ?",
			like, like, like, like,
		)
	}
	if params.Role != "" {
		if !params.Role.Valid() {
			return nil, apperr.InvalidField("role", "Unknown role")
		}
		query = query.Where("role = ?", params.Role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	var rows []models.User
	if err := query.
		Order("created_at DESC").
		Offset((params.Page - 1) * params.PerPage).
		Limit(params.PerPage).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	return &Page{Users: rows, Total: total, Page: params.Page, PerPage: params.PerPage}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.auth.GetUserByID(ctx, id)
}

// ProfileInput carries optional profile fields; nil leaves a field as is.
type ProfileInput struct {
	FirstName   *string
	LastName    *string
	DisplayName *string
	Username    *string
	BirthDate   *time.Time
	Gender      *string
	PhoneNumber *string
}

// maxProfileField bounds free-text profile columns, in characters.
const maxProfileField = 255

func (s *Service) UpdateProfile(ctx context.Context, user *models.User, in ProfileInput) (*models.User, error) {
	updates := map[string]interface{}{}
	setString := func(column string, v *string) {
		if v != nil {
			updates[column] = validation.TruncateString(validation.SanitizeString(strings.TrimSpace(*v)), maxProfileField)
		}
	}
	setString("first_name", in.FirstName)
	setString("last_name", in.LastName)
	setString("display_name", in.DisplayName)
	setString("gender", in.Gender)
	setString("phone_number", in.PhoneNumber)

	if in.BirthDate != nil {
		if in.BirthDate.After(time.Now()) {
			return nil, apperr.InvalidField("birth_date", "Birth date cannot be in the future")
		}
		updates["birth_date"] = *in.BirthDate
	}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		switch {
		case username == "":
			updates["username"] = nil
		case !validation.IsValidUsername(username):
			return nil, apperr.InvalidField("username", "Username must be 3 to 32 letters, digits, dots, dashes or underscores")
		default:
			var taken int64
			if err := s.db.WithContext(ctx).Model(&models.User{}).
				Where("username = ? AND id <> ?", username, user.ID).
				Count(&taken).Error; err != nil {
				return nil, fmt.Errorf("checking username: %w", err)
			}
			if taken > 0 {
				return nil, apperr.InvalidField("username", "Username is already taken")
			}
			updates["username"] = username
		}
	}

	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_by_id"] = user.ID

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return s.Get(ctx, user.ID)
}

// administer loads target and checks that actor may act on it: nobody acts
// on the owner or on themselves here, and only the owner acts on admins.
func (s *Service) administer(ctx context.Context, actor *models.User, targetID uuid.UUID) (*models.User, error) {
	if actor.ID == targetID {
		return nil, apperr.Forbidden("Use your account settings to change your own account")
	}
	target, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == models.RoleOwner {
		return nil, apperr.Forbidden("The owner account cannot be changed")
	}
	if target.Role == models.RoleAdmin && actor.Role != models.RoleOwner {
		return nil, apperr.Forbidden("Only the owner can manage administrators")
	}
	return target, nil
}

// SetRole changes a user's role. The owner role moves only through an
// ownership transfer.
func (s *Service) SetRole(ctx context.Context, actor *models.User, targetID uuid.UUID, role models.Role) (*models.User, error) {
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, apperr.InvalidField("role", "Role must be admin or user")
	}
	if role == models.RoleAdmin && actor.Role != models.RoleOwner {
		return nil, apperr.Forbidden("Only the owner can grant the admin role")
	}

	target, err := s.administer(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == role {
		return target, nil
	}

	if err := s.db.WithContext(ctx).Model(target).Updates(map[string]interface{}{
		"role":          role,
		"updated_by_id": actor.ID,
	}).Error; err != nil {
		return nil, fmt.Errorf("updating role: %w", err)
	}
	target.Role = role

	s.logger.Info("role changed", "user_id", target.ID, "role", role, "by", actor.ID)
	return target, nil
}

// Suspend disables the account and signs it out everywhere.
func (s *Service) Suspend(ctx context.Context, actor *models.User, targetID uuid.UUID) (*models.User, error) {
	target, err := s.setDisabled(ctx, actor, targetID, true)
	if err != nil {
		return nil, err
	}
	if err := s.auth.RevokeSessions(ctx, target.ID); err != nil {
		return nil, err
	}
	return target, nil
}

func (s *Service) Activate(ctx context.Context, actor *models.User, targetID uuid.UUID) (*models.User, error) {
	return s.setDisabled(ctx, actor, targetID, false)
}

func (s *Service) setDisabled(ctx context.Context, actor *models.User, targetID uuid.UUID, disabled bool) (*models.User, error) {
	target, err := s.administer(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(target).Updates(map[string]interface{}{
		"is_disabled":   disabled,
		"updated_by_id": actor.ID,
	}).Error; err != nil {
		return nil, fmt.Errorf("updating account state: %w", err)
	}
	target.IsDisabled = disabled

	s.logger.Info("account state changed", "user_id", target.ID, "disabled", disabled, "by", actor.ID)
	return target, nil
}

// Delete removes another user's account.
func (s *Service) Delete(ctx context.Context, actor *models.User, targetID uuid.UUID) error {
	target, err := s.administer(ctx, actor, targetID)
	if err != nil {
		return err
	}
	return s.remove(ctx, target)
}

// DeleteAccount removes the caller's own account after confirming the
// password. The owner must transfer ownership first.
func (s *Service) DeleteAccount(ctx context.Context, user *models.User, password string) error {
	if user.Role == models.RoleOwner {
		return apperr.Forbidden("Transfer ownership before deleting your account")
	}
	if user.HasPassword {
		if err := s.auth.ConfirmPassword(ctx, user, password); err != nil {
			return err
		}
	}
	return s.remove(ctx, user)
}

func (s *Service) remove(ctx context.Context, user *models.User) error {
	res := s.db.WithContext(ctx).Delete(&models.User{}, "id = ?", user.ID)
	if res.Error != nil {
		return fmt.Errorf("deleting user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrUserNotFound
	}

	if err := s.tokens.DeleteForTarget(ctx, user.ID); err != nil {
		s.logger.Warn("failed to delete user tokens", "user_id", user.ID, "error", err)
	}
	if err := s.auth.RevokeSessions(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke sessions", "user_id", user.ID, "error", err)
	}
	if user.PhotoID != nil {
		s.deletePhoto(ctx, *user.PhotoID)
	}

	s.logger.Info("user deleted", "user_id", user.ID)
	return nil
}

// SetPhoto uploads a new profile photo and removes the previous one.
func (s *Service) SetPhoto(ctx context.Context, user *models.User, in files.UploadInput) (*models.User, *models.File, error) {
	in.Prefix = "users/" + user.ID.String()
	in.CreatedBy = &user.ID

	file, err := s.files.Upload(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	previous := user.PhotoID
	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"photo_id":      file.ID,
		"updated_by_id": user.ID,
	}).Error; err != nil {
		s.deletePhoto(ctx, file.ID)
		return nil, nil, fmt.Errorf("storing photo: %w", err)
	}
	user.PhotoID = &file.ID

	if previous != nil {
		s.deletePhoto(ctx, *previous)
	}
	return user, file, nil
}

// RemovePhoto clears the profile photo.
func (s *Service) RemovePhoto(ctx context.Context, user *models.User) error {
	if user.PhotoID == nil {
		return nil
	}
	previous := *user.PhotoID
	if err := s.db.WithContext(ctx).Model(user).Update("photo_id", nil).Error; err != nil {
		return fmt.Errorf("clearing photo: %w", err)
	}
	user.PhotoID = nil
	s.deletePhoto(ctx, previous)
	return nil
}

func (s *Service) deletePhoto(ctx context.Context, id uuid.UUID) {
	if err := s.files.Delete(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("failed to delete photo", "file_id", id, "error", err)
	}
}

// Summary is the public projection of a user referenced by audit columns.
type Summary struct {
	ID    uuid.UUID   `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role"`
}

// Audit resolves the created_by/updated_by ids of the given records into
// summaries, keyed by user id. Ids of deleted users are absent.
func (s *Service) Audit(ctx context.Context, audits ...models.Audit) (map[uuid.UUID]Summary, error) {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	add := func(id *uuid.UUID) {
		if id == nil {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}
	for _, a := range audits {
		add(a.CreatedByID)
		add(a.UpdatedByID)
	}

	out := make(map[uuid.UUID]Summary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading audit users: %w", err)
	}
	for i := range rows {
		out[rows[i].ID] = Summary{
			ID:    rows[i].ID,
			Email: rows[i].Email,
			Name:  rows[i].Name(),
			Role:  rows[i].Role,
		}
	}
	return out, nil
}
