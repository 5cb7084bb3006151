package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEncryptor_GenerateNewKey(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)
	assert.NotNil(t, enc.identity)
	assert.NotNil(t, enc.recipient)
}

func TestNewEncryptor_WithProvidedKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	enc, err := NewEncryptor(key)
	require.NoError(t, err)
	assert.Contains(t, enc.PublicKey(), "age1")
}

func TestNewEncryptor_InvalidKey(t *testing.T) {
	_, err := NewEncryptor("invalid-key-format")
	assert.ErrorContains(t, err, "parsing identity")
}

func TestSeal_Open(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)

	sealed, err := enc.Seal("client-secret")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "client-secret")

	opened, err := enc.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "client-secret", opened)
}

func TestSeal_DifferentOutputEachTime(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)

	a, err := enc.Seal("same")
	require.NoError(t, err)
	b, err := enc.Seal("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_NotSealed(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)

	_, err = enc.Open("plain value")
	assert.ErrorIs(t, err, ErrNotSealed)
}

func TestOpen_WrongKey(t *testing.T) {
	enc1, err := NewEncryptor("")
	require.NoError(t, err)
	enc2, err := NewEncryptor("")
	require.NoError(t, err)

	sealed, err := enc1.Seal("secret")
	require.NoError(t, err)

	_, err = enc2.Open(sealed)
	assert.Error(t, err)
}

func TestOpen_InvalidBase64(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)

	_, err = enc.Open(sealedPrefix + "!!!not-base64!!!")
	assert.ErrorContains(t, err, "decoding base64")
}

func TestEncryptor_KeyReuse(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	enc1, err := NewEncryptor(key)
	require.NoError(t, err)
	sealed, err := enc1.Seal("persisted across restarts")
	require.NoError(t, err)

	enc2, err := NewEncryptor(key)
	require.NoError(t, err)
	opened, err := enc2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "persisted across restarts", opened)
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b, err := RandomToken(32)
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
}
