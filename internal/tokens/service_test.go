package tokens_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/testutil"
	"github.com/hugh/go-backoffice/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issue(t *testing.T, s *testutil.Stack, action models.TokenAction, target uuid.UUID) (*models.SafeToken, error) {
	t.Helper()
	return s.Tokens.Issue(context.Background(), tokens.IssueInput{
		Action:    action,
		TargetID:  target,
		Recipient: "a@b.com",
	})
}

func countTokens(t *testing.T, s *testutil.Stack, target uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB.Model(&models.Token{}).Where("target_id = ?", target).Count(&n).Error)
	return n
}

func TestIssue_SendsLinkAndReturnsSafeToken(t *testing.T) {
	s := testutil.NewStack(t)
	target := uuid.New()

	safe, err := issue(t, s, models.ActionEmailVerification, target)
	require.NoError(t, err)
	assert.Equal(t, target, safe.TargetID)
	assert.Equal(t, models.ActionEmailVerification, safe.Action)
	assert.WithinDuration(t, s.Clock.Now().Add(24*time.Hour), safe.ExpirationDate, time.Second)

	sent := s.Notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@b.com", sent[0].To)
	assert.True(t, strings.HasPrefix(sent[0].Link, testutil.TestBaseURL+"/verify-email?token="))

	raw := s.Notifier.LastToken(t, models.ActionEmailVerification)
	var stored models.Token
	require.NoError(t, s.DB.Where("target_id = ?", target).First(&stored).Error)
	assert.Equal(t, raw, stored.Token)
}

func TestIssue_TTLs(t *testing.T) {
	assert.Equal(t, 2*time.Hour, tokens.TTL(models.ActionResetPassword))
	assert.Equal(t, 2*time.Hour, tokens.TTL(models.ActionNewEmailConfirmation))
	assert.Equal(t, 24*time.Hour, tokens.TTL(models.ActionEmailVerification))
	assert.Equal(t, 15*time.Minute, tokens.TTL(models.ActionMagicLink))
}

func TestIssue_Cooldown(t *testing.T) {
	s := testutil.NewStack(t)
	target := uuid.New()

	_, err := issue(t, s, models.ActionResetPassword, target)
	require.NoError(t, err)
	first := s.Notifier.LastToken(t, models.ActionResetPassword)

	s.Clock.Advance(30 * time.Second)
	_, err = issue(t, s, models.ActionResetPassword, target)
	assert.True(t, errors.Is(err, apperr.ErrTokenAlreadySent))
	assert.Len(t, s.Notifier.Sent(), 1)

	// Other actions for the same target are independent.
	_, err = issue(t, s, models.ActionEmailVerification, target)
	require.NoError(t, err)

	s.Clock.Advance(31 * time.Second)
	_, err = issue(t, s, models.ActionResetPassword, target)
	require.NoError(t, err)
	second := s.Notifier.LastToken(t, models.ActionResetPassword)
	assert.NotEqual(t, first, second)

	_, err = s.Tokens.Consume(context.Background(), first, models.ActionResetPassword)
	assert.True(t, errors.Is(err, apperr.ErrTokenNotFound))

	_, err = s.Tokens.Consume(context.Background(), second, models.ActionResetPassword)
	assert.NoError(t, err)
}

func TestIssue_ExpiredTokenDoesNotBlock(t *testing.T) {
	s := testutil.NewStack(t)
	target := uuid.New()

	_, err := issue(t, s, models.ActionMagicLink, target)
	require.NoError(t, err)

	s.Clock.Advance(16 * time.Minute)
	_, err = issue(t, s, models.ActionMagicLink, target)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countTokens(t, s, target))
}

func TestIssue_NotifyFailureRemovesToken(t *testing.T) {
	s := testutil.NewStack(t)
	target := uuid.New()

	s.Notifier.Fail(errors.New("smtp down"))
	_, err := issue(t, s, models.ActionResetPassword, target)
	assert.ErrorContains(t, err, "smtp down")
	assert.Zero(t, countTokens(t, s, target))

	s.Notifier.Fail(nil)
	_, err = issue(t, s, models.ActionResetPassword, target)
	assert.NoError(t, err)
}

func TestConsume_IsSingleUse(t *testing.T) {
	s := testutil.NewStack(t)
	target := uuid.New()
	ctx := context.Background()

	_, err := issue(t, s, models.ActionEmailVerification, target)
	require.NoError(t, err)
	raw := s.Notifier.LastToken(t, models.ActionEmailVerification)

	token, err := s.Tokens.Consume(ctx, raw, models.ActionEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, target, token.TargetID)
	assert.Zero(t, countTokens(t, s, target))

	_, err = s.Tokens.Consume(ctx, raw, models.ActionEmailVerification)
	assert.True(t, errors.Is(err, apperr.ErrTokenNotFound))
}

func TestCheck_LeavesTokenUnspent(t *testing.T) {
	s := testutil.NewStack(t)
	target := uuid.New()
	_, err := issue(t, s, models.ActionNewEmailConfirmation, target)
	require.NoError(t, err)
	raw := s.Notifier.LastToken(t, models.ActionNewEmailConfirmation)

	token, err := s.Tokens.Check(context.Background(), raw, models.ActionNewEmailConfirmation)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", token.Recipient)
	assert.EqualValues(t, 1, countTokens(t, s, target))

	_, err = s.Tokens.Check(context.Background(), raw, models.ActionMagicLink)
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))

	_, err = s.Tokens.Consume(context.Background(), raw, models.ActionNewEmailConfirmation)
	require.NoError(t, err)
	_, err = s.Tokens.Check(context.Background(), raw, models.ActionNewEmailConfirmation)
	assert.True(t, errors.Is(err, apperr.ErrTokenNotFound))
}

func TestConsume_Rejections(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()

	_, err := s.Tokens.Consume(ctx, "", models.ActionResetPassword)
	assert.True(t, errors.Is(err, apperr.ErrTokenNotFound))

	_, err = s.Tokens.Consume(ctx, "not-a-token", models.ActionResetPassword)
	assert.True(t, errors.Is(err, apperr.ErrTokenNotFound))

	target := uuid.New()
	_, err = issue(t, s, models.ActionResetPassword, target)
	require.NoError(t, err)
	raw := s.Notifier.LastToken(t, models.ActionResetPassword)

	_, err = s.Tokens.Consume(ctx, raw, models.ActionEmailVerification)
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))

	s.Clock.Advance(3 * time.Hour)
	_, err = s.Tokens.Consume(ctx, raw, models.ActionResetPassword)
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))
}

func TestConsume_ForgedSignature(t *testing.T) {
	s := testutil.NewStack(t)
	target := uuid.New()

	other := tokens.NewSigner("another-secret", s.Clock.Now)
	raw, err := other.Sign(models.ActionResetPassword, target, s.Clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.DB.Create(&models.Token{
		Token:          raw,
		Action:         models.ActionResetPassword,
		TargetID:       target,
		ExpirationDate: s.Clock.Now().Add(time.Hour),
	}).Error)

	_, err = s.Tokens.Consume(context.Background(), raw, models.ActionResetPassword)
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))
}

func TestPurgeExpired(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()

	expiring := uuid.New()
	_, err := issue(t, s, models.ActionMagicLink, expiring)
	require.NoError(t, err)
	lasting := uuid.New()
	_, err = issue(t, s, models.ActionEmailVerification, lasting)
	require.NoError(t, err)

	s.Clock.Advance(time.Hour)
	n, err := s.Tokens.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, countTokens(t, s, expiring))
	assert.Equal(t, int64(1), countTokens(t, s, lasting))

	require.NoError(t, s.Tokens.DeleteForTarget(ctx, lasting))
	assert.Zero(t, countTokens(t, s, lasting))
}
