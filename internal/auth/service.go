package auth

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
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/tokens"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	jwt      *JWTService
	sessions SessionStore
	tokens   *tokens.Service
	settings *settings.Service
	logger   *slog.Logger
}

func NewService(db *gorm.DB, jwt *JWTService, sessions SessionStore, tokens *tokens.Service, settings *settings.Service, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		jwt:      jwt,
		sessions: sessions,
		tokens:   tokens,
		settings: settings,
		logger:   logger,
	}
}

type SignUpInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Session is an opened session and the user it belongs to.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
	// VerificationSent is false when sign-up could not deliver the
	// verification email; the account exists and can request a resend.
	VerificationSent bool `json:"verification_sent,omitempty"`
}

// NormalizeEmail is applied to every email before lookup or storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (*Session, error) {
	enabled, err := s.settings.Bool(ctx, settings.SignUpEnabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, apperr.Forbidden("Sign-up is disabled")
	}

	email := NormalizeEmail(input.Email)
	if !validation.IsValidEmail(email) {
		return nil, apperr.InvalidField("email", "Invalid email address")
	}
	if err := s.validatePassword(ctx, input.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: &hash,
		HasPassword:  true,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		ProviderData: models.ProviderEmail,
	}
	if err := s.createUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", "user_id", user.ID, "role", user.Role)

	session, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}

	_, err = s.tokens.Issue(ctx, tokens.IssueInput{
		Action:    models.ActionEmailVerification,
		TargetID:  user.ID,
		Recipient: user.Email,
	})
	if err != nil {
		s.logger.Error("failed to send verification email", "user_id", user.ID, "error", err)
	} else {
		session.VerificationSent = true
	}

	return session, nil
}

// createUser inserts user, making it the owner when it is the first account.
func (s *Service) createUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&taken).Error; err != nil {
			return fmt.Errorf("checking email: %w", err)
		}
		if taken > 0 {
			return apperr.ErrUserAlreadyExists
		}

		var total int64
		if err := tx.Model(&models.User{}).Count(&total).Error; err != nil {
			return fmt.Errorf("counting users: %w", err)
		}
		user.Role = models.RoleUser
		if total == 0 {
			user.Role = models.RoleOwner
		}

		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a race with a concurrent sign-up for the same email.
				return apperr.ErrUserAlreadyExists
			}
			return fmt.Errorf("creating user: %w", err)
		}
		if user.Role == models.RoleOwner {
			return s.settings.AssignOwner(tx, user.ID, nil)
		}
		return nil
	})
}

// SignIn verifies email and password. Failures are checked in a fixed
// order and write nothing; success writes only last_login_date.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	enabled, err := s.settings.Bool(ctx, settings.EmailPasswordEnabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, apperr.Forbidden("Password sign-in is disabled")
	}

	user, err := s.findByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user.IsDisabled {
		return nil, apperr.ErrAccountDisabled
	}
	if !user.HasPassword || user.PasswordHash == nil {
		return nil, apperr.ErrWrongAuthMethod
	}
	if !CheckPassword(password, *user.PasswordHash) {
		return nil, apperr.ErrWrongPassword
	}

	if err := s.touchLogin(ctx, user); err != nil {
		return nil, err
	}
	return s.openSession(ctx, user)
}

func (s *Service) touchLogin(ctx context.Context, user *models.User) error {
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(user).UpdateColumn("last_login_date", now).Error; err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	user.LastLoginDate = &now
	return nil
}

func (s *Service) openSession(ctx context.Context, user *models.User) (*Session, error) {
	sid := uuid.NewString()
	if err := s.sessions.Create(ctx, user.ID, sid, s.jwt.Expiry()); err != nil {
		return nil, err
	}
	token, err := s.jwt.GenerateToken(user, sid)
	if err != nil {
		return nil, fmt.Errorf("signing session: %w", err)
	}
	return &Session{
		Token:     token,
		ExpiresAt: time.Now().Add(s.jwt.Expiry()),
		User:      user,
	}, nil
}

func (s *Service) SignOut(ctx context.Context, p *Principal) error {
	return s.sessions.Delete(ctx, p.User.ID, p.Claims.SessionID)
}

// Refresh replaces the caller's session with one carrying the current
// user record.
func (s *Service) Refresh(ctx context.Context, p *Principal) (*Session, error) {
	if err := s.sessions.Delete(ctx, p.User.ID, p.Claims.SessionID); err != nil {
		return nil, err
	}
	return s.openSession(ctx, p.User)
}

// RevokeSessions signs the user out everywhere.
func (s *Service) RevokeSessions(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.DeleteAllForUser(ctx, userID)
}

func (s *Service) RequestMagicLink(ctx context.Context, email string) (*models.SafeToken, error) {
	enabled, err := s.settings.Bool(ctx, settings.MagicLinkEnabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, apperr.Forbidden("Magic link sign-in is disabled")
	}

	user, err := s.findByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user.IsDisabled {
		return nil, apperr.ErrAccountDisabled
	}

	return s.tokens.Issue(ctx, tokens.IssueInput{
		Action:    models.ActionMagicLink,
		TargetID:  user.ID,
		Recipient: user.Email,
	})
}

// SignInWithMagicLink consumes a magic link token. Following the link
// proves ownership of the address, so the email is marked verified.
func (s *Service) SignInWithMagicLink(ctx context.Context, raw string) (*Session, error) {
	token, err := s.tokens.Consume(ctx, raw, models.ActionMagicLink)
	if err != nil {
		return nil, err
	}

	user, err := s.GetUserByID(ctx, token.TargetID)
	if err != nil {
		return nil, err
	}
	if user.IsDisabled {
		return nil, apperr.ErrAccountDisabled
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"has_email_verified": true,
		"last_login_date":    now,
	}).Error; err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}
	user.HasEmailVerified = true
	user.LastLoginDate = &now

	return s.openSession(ctx, user)
}

func (s *Service) ForgotPassword(ctx context.Context, email string) (*models.SafeToken, error) {
	user, err := s.findByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user.IsDisabled {
		return nil, apperr.ErrAccountDisabled
	}

	return s.tokens.Issue(ctx, tokens.IssueInput{
		Action:    models.ActionResetPassword,
		TargetID:  user.ID,
		Recipient: user.Email,
	})
}

// ResetPassword sets a new password from a reset token and signs the user
// out everywhere. The password is checked before the token is spent.
func (s *Service) ResetPassword(ctx context.Context, raw, password string) error {
	if err := s.validatePassword(ctx, password); err != nil {
		return err
	}

	token, err := s.tokens.Consume(ctx, raw, models.ActionResetPassword)
	if err != nil {
		return err
	}

	user, err := s.GetUserByID(ctx, token.TargetID)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, user, password, map[string]interface{}{"has_email_verified": true}); err != nil {
		return err
	}

	s.logger.Info("password reset", "user_id", user.ID)
	return s.sessions.DeleteAllForUser(ctx, user.ID)
}

func (s *Service) ResendVerification(ctx context.Context, user *models.User) (*models.SafeToken, error) {
	if user.HasEmailVerified {
		return nil, apperr.ErrEmailAlreadyVerified
	}
	return s.tokens.Issue(ctx, tokens.IssueInput{
		Action:    models.ActionEmailVerification,
		TargetID:  user.ID,
		CreatedBy: &user.ID,
		Recipient: user.Email,
	})
}

func (s *Service) VerifyEmail(ctx context.Context, raw string) (*models.User, error) {
	token, err := s.tokens.Consume(ctx, raw, models.ActionEmailVerification)
	if err != nil {
		return nil, err
	}

	user, err := s.GetUserByID(ctx, token.TargetID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("has_email_verified", true).Error; err != nil {
		return nil, fmt.Errorf("verifying email: %w", err)
	}
	user.HasEmailVerified = true
	return user, nil
}

// RequestEmailChange sends a confirmation link to newEmail and records it
// as pending once the link is out. The current address stays active until
// confirmation.
func (s *Service) RequestEmailChange(ctx context.Context, user *models.User, newEmail, password string) (*models.SafeToken, error) {
	if err := s.ConfirmPassword(ctx, user, password); err != nil {
		return nil, err
	}

	email := NormalizeEmail(newEmail)
	if !validation.IsValidEmail(email) {
		return nil, apperr.InvalidField("email", "Invalid email address")
	}
	if email == user.Email {
		return nil, apperr.InvalidField("email", "This is already your email address")
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	// Issue enforces the cooldown; a rejected request must not touch the
	// pending address of a link already mailed.
	token, err := s.tokens.Issue(ctx, tokens.IssueInput{
		Action:    models.ActionNewEmailConfirmation,
		TargetID:  user.ID,
		CreatedBy: &user.ID,
		Recipient: email,
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(user).Update("new_email", email).Error; err != nil {
		return nil, fmt.Errorf("storing new email: %w", err)
	}
	user.NewEmail = &email
	return token, nil
}

// ConfirmEmailChange promotes the address the token was mailed to. The
// token is only spent once the address is known to be free.
func (s *Service) ConfirmEmailChange(ctx context.Context, raw string) (*models.User, error) {
	token, err := s.tokens.Check(ctx, raw, models.ActionNewEmailConfirmation)
	if err != nil {
		return nil, err
	}

	user, err := s.GetUserByID(ctx, token.TargetID)
	if err != nil {
		return nil, err
	}
	email := token.Recipient
	if user.NewEmail == nil || *user.NewEmail != email {
		return nil, apperr.ErrInvalidToken
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	if _, err := s.tokens.Consume(ctx, raw, models.ActionNewEmailConfirmation); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"email":              email,
		"new_email":          nil,
		"has_email_verified": true,
	}).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("changing email: %w", err)
	}
	user.Email = email
	user.NewEmail = nil
	user.HasEmailVerified = true

	s.logger.Info("email changed", "user_id", user.ID)
	return user, nil
}

// ChangePassword replaces the caller's password and reopens their session;
// every other session is revoked. Accounts created through OAuth may set a
// first password by leaving current empty.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, current, next string) (*Session, error) {
	user := p.User
	if user.HasPassword {
		if err := s.ConfirmPassword(ctx, user, current); err != nil {
			return nil, err
		}
	} else if current != "" {
		return nil, apperr.ErrWrongAuthMethod
	}

	if err := s.validatePassword(ctx, next); err != nil {
		return nil, err
	}
	if err := s.setPassword(ctx, user, next, nil); err != nil {
		return nil, err
	}
	if err := s.sessions.DeleteAllForUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.openSession(ctx, user)
}

// ConfirmPassword re-authenticates user against the stored hash.
func (s *Service) ConfirmPassword(ctx context.Context, user *models.User, password string) error {
	fresh, err := s.GetUserByID(ctx, user.ID)
	if err != nil {
		return err
	}
	if !fresh.HasPassword || fresh.PasswordHash == nil {
		return apperr.ErrWrongAuthMethod
	}
	if !CheckPassword(password, *fresh.PasswordHash) {
		return apperr.ErrWrongPassword
	}
	return nil
}

func (s *Service) setPassword(ctx context.Context, user *models.User, password string, extra map[string]interface{}) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	updates := map[string]interface{}{
		"password_hash": hash,
		"has_password":  true,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	user.PasswordHash = &hash
	user.HasPassword = true
	return nil
}

func (s *Service) validatePassword(ctx context.Context, password string) error {
	policy, err := s.settings.PasswordPolicy(ctx)
	if err != nil {
		return err
	}
	return policy.Validate(password)
}

func (s *Service) ensureEmailFree(ctx context.Context, email string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return fmt.Errorf("checking email: %w", err)
	}
	if count > 0 {
		return apperr.ErrUserAlreadyExists
	}
	return nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &user, nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &user, nil
}
