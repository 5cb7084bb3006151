// Package tokens issues and consumes single-use action tokens: password
// reset, email verification, new email confirmation and magic links.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"gorm.io/gorm"
)

// Cooldown is the minimum time between two issuances for the same target
// and action.
const Cooldown = 60 * time.Second

// TTL returns how long a token for action stays valid.
func TTL(action models.TokenAction) time.Duration {
	switch action {
	case models.ActionEmailVerification:
		return 24 * time.Hour
	case models.ActionMagicLink:
		return 15 * time.Minute
	default:
		return 2 * time.Hour
	}
}

// linkPath is the page a token link lands on.
func linkPath(action models.TokenAction) string {
	switch action {
	case models.ActionResetPassword:
		return "/reset-password"
	case models.ActionEmailVerification:
		return "/verify-email"
	case models.ActionNewEmailConfirmation:
		return "/confirm-email"
	case models.ActionMagicLink:
		return "/magic-link"
	default:
		return "/"
	}
}

// Notification is handed to the Notifier once a token is persisted.
type Notification struct {
	Action    models.TokenAction
	To        string
	Link      string
	ExpiresAt time.Time
}

// Notifier delivers the token link. Issue waits for it to return.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Service struct {
	db       *gorm.DB
	signer   *Signer
	notifier Notifier
	baseURL  string
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the wall clock used for cooldown and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, secret, baseURL string, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		notifier: notifier,
		baseURL:  baseURL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.signer = NewSigner(secret, s.now)
	return s
}

type IssueInput struct {
	Action    models.TokenAction
	TargetID  uuid.UUID
	CreatedBy *uuid.UUID
	// Recipient is the address the link is sent to. For new email
	// confirmation this is the pending address, not the current one.
	Recipient string
}

// Issue creates a token for (target, action) and sends its link. A token
// issued less than Cooldown ago blocks re-issuance with TokenAlreadySent;
// an older one is replaced in the same transaction.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*models.SafeToken, error) {
	now := s.now()
	expiresAt := now.Add(TTL(in.Action))

	raw, err := s.signer.Sign(in.Action, in.TargetID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	token := models.Token{
		Base:           models.Base{CreatedAt: now, UpdatedAt: now},
		Token:          raw,
		Action:         in.Action,
		TargetID:       in.TargetID,
		CreatedByID:    in.CreatedBy,
		ExpirationDate: expiresAt,
		Recipient:      in.Recipient,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.Token
		if err := tx.Where("target_id = ? AND action = ?", in.TargetID, in.Action).
			Find(&existing).Error; err != nil {
			return fmt.Errorf("loading existing tokens: %w", err)
		}
		for _, t := range existing {
			if !t.IsExpired(now) && now.Sub(t.CreatedAt) < Cooldown {
				return apperr.ErrTokenAlreadySent
			}
		}
		if len(existing) > 0 {
			if err := tx.Where("target_id = ? AND action = ?", in.TargetID, in.Action).
				Delete(&models.Token{}).Error; err != nil {
				return fmt.Errorf("deleting previous tokens: %w", err)
			}
		}
		if err := tx.Create(&token).Error; err != nil {
			return fmt.Errorf("creating token: %w", err)
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent request for the same target and action won.
		return nil, apperr.ErrTokenAlreadySent
	}
	if err != nil {
		return nil, err
	}

	link := s.baseURL + linkPath(in.Action) + "?token=" + url.QueryEscape(raw)
	if err := s.notifier.Notify(ctx, Notification{
		Action:    in.Action,
		To:        in.Recipient,
		Link:      link,
		ExpiresAt: expiresAt,
	}); err != nil {
		// An undelivered token would only block the next attempt.
		if delErr := s.db.WithContext(ctx).Delete(&models.Token{}, "id = ?", token.ID).Error; delErr != nil {
			s.logger.Error("failed to remove undelivered token", "token_id", token.ID, "error", delErr)
		}
		return nil, fmt.Errorf("sending %s email: %w", in.Action, err)
	}

	s.logger.Info("token issued", "action", in.Action, "target_id", in.TargetID, "token_id", token.ID)

	safe := token.Safe()
	return &safe, nil
}

// Check verifies raw for action without spending it.
func (s *Service) Check(ctx context.Context, raw string, action models.TokenAction) (*models.Token, error) {
	if raw == "" {
		return nil, apperr.ErrTokenNotFound
	}

	var token models.Token
	if err := s.db.WithContext(ctx).Where("token = ?", raw).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrTokenNotFound
		}
		return nil, fmt.Errorf("loading token: %w", err)
	}

	claims, err := s.signer.Verify(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidToken, apperr.ErrInvalidToken.Message, err)
	}
	if token.Action != action || claims.Action != action || claims.Subject != token.TargetID.String() {
		return nil, apperr.ErrInvalidToken
	}
	if token.IsExpired(s.now()) {
		return nil, apperr.ErrInvalidToken
	}
	return &token, nil
}

// Consume verifies raw for action and deletes it. The caller applies the
// side effect after Consume returns; a second call with the same string
// fails with TokenNotFound.
func (s *Service) Consume(ctx context.Context, raw string, action models.TokenAction) (*models.Token, error) {
	token, err := s.Check(ctx, raw, action)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Delete(&models.Token{}, "id = ?", token.ID)
	if res.Error != nil {
		return nil, fmt.Errorf("deleting token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Consumed by a concurrent request.
		return nil, apperr.ErrTokenNotFound
	}

	return token, nil
}

// DeleteForTarget removes every token targeting a user.
func (s *Service) DeleteForTarget(ctx context.Context, targetID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("target_id = ?", targetID).Delete(&models.Token{}).Error
}

// PurgeExpired deletes tokens past their expiration date.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expiration_date <= ?", s.now()).Delete(&models.Token{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
