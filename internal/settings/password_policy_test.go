package settings_test

import (
	"errors"
	"testing"

	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordPolicy_Composition(t *testing.T) {
	policy := settings.PasswordPolicy{UppercaseMin: 1, NumbersMin: 2, MinLength: 8}

	assert.Equal(t, "^(?=(?:.*[A-Z]){1})(?=(?:.*[0-9]){2})(?=.{8,}).*$", policy.Pattern())

	tests := []struct {
		password string
		valid    bool
	}{
		{"Ab123456", true},
		{"abcdefgh", false},
		{"Abcdefg1", false},
		{"AB12", false},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := policy.Validate(tt.password)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
			assert.Equal(t, policy.Message(), apperr.As(err).Fields["password"])
		})
	}
}

func TestPasswordPolicy_Message(t *testing.T) {
	tests := []struct {
		name   string
		policy settings.PasswordPolicy
		want   string
	}{
		{"empty", settings.PasswordPolicy{}, ""},
		{"length only", settings.PasswordPolicy{MinLength: 8}, "Password must contain at least 8 characters"},
		{
			"composite",
			settings.PasswordPolicy{UppercaseMin: 1, NumbersMin: 2, MinLength: 8, UniqueChars: true},
			"Password must contain at least 1 uppercase letter, 2 numbers and 8 characters and not repeat any character",
		},
		{"unique only", settings.PasswordPolicy{UniqueChars: true}, "Password must not repeat any character"},
		{"symbols", settings.PasswordPolicy{LowercaseMin: 2, SymbolsMin: 1}, "Password must contain at least 2 lowercase letters and 1 symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Message())
		})
	}
}

func TestPasswordPolicy_UniqueAndSymbols(t *testing.T) {
	policy := settings.PasswordPolicy{SymbolsMin: 1, UniqueChars: true}

	assert.NoError(t, policy.Validate("abc!"))
	assert.Error(t, policy.Validate("abca!"))
	assert.Error(t, policy.Validate("abcd"))
}

func TestPasswordPolicy_NoRulesAcceptsAnything(t *testing.T) {
	policy := settings.PasswordPolicy{}
	assert.Equal(t, "^.*$", policy.Pattern())
	assert.NoError(t, policy.Validate(""))
	assert.NoError(t, policy.Validate("x"))
}
