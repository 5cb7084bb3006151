package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/database/models"
)

var errBadSignature = errors.New("invalid action token")

// ActionClaims bind a token to one action and one target user.
type ActionClaims struct {
	Action models.TokenAction `json:"act"`
	jwt.RegisteredClaims
}

// Signer signs and verifies action tokens with HS256.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: []byte(secret), now: now}
}

func (s *Signer) Sign(action models.TokenAction, target uuid.UUID, expiresAt time.Time) (string, error) {
	now := s.now()
	claims := ActionClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   target.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "go-backoffice",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Signer) Verify(raw string) (*ActionClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &ActionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errBadSignature
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ActionClaims)
	if !ok || !token.Valid {
		return nil, errBadSignature
	}
	return claims, nil
}
