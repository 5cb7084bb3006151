package models

import (
	"time"

	"github.com/google/uuid"
)

type TokenAction string

const (
	ActionResetPassword        TokenAction = "reset_password"
	ActionEmailVerification    TokenAction = "email_verification"
	ActionNewEmailConfirmation TokenAction = "new_email_confirmation"
	ActionMagicLink            TokenAction = "magic_link"
)

// Token is a single-use action token. The raw Token string is never
// serialized; use Safe for anything leaving the service.
type Token struct {
	Base
	Token          string      `gorm:"uniqueIndex;not null" json:"-"`
	Action         TokenAction `gorm:"uniqueIndex:idx_tokens_target_action;not null" json:"action"`
	TargetID       uuid.UUID   `gorm:"type:uuid;uniqueIndex:idx_tokens_target_action;not null" json:"target_id"`
	CreatedByID    *uuid.UUID  `gorm:"type:uuid" json:"created_by_id,omitempty"`
	ExpirationDate time.Time   `gorm:"index;not null" json:"expiration_date"`
	// Recipient is the address the link was mailed to.
	Recipient string `gorm:"not null;default:''" json:"-"`
}

func (Token) TableName() string {
	return "tokens"
}

// SafeToken is the projection of a Token without its secret.
type SafeToken struct {
	ID             uuid.UUID   `json:"id"`
	Action         TokenAction `json:"action"`
	TargetID       uuid.UUID   `json:"target_id"`
	CreatedByID    *uuid.UUID  `json:"created_by_id,omitempty"`
	ExpirationDate time.Time   `json:"expiration_date"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (t *Token) Safe() SafeToken {
	return SafeToken{
		ID:             t.ID,
		Action:         t.Action,
		TargetID:       t.TargetID,
		CreatedByID:    t.CreatedByID,
		ExpirationDate: t.ExpirationDate,
		CreatedAt:      t.CreatedAt,
	}
}

// IsExpired reports whether the token is past its expiration at now.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpirationDate)
}
