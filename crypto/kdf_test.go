package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := DeriveKey("correct horse", salt)
	k2 := DeriveKey("correct horse", salt)
	assert.Equal(t, k1, k2)

	k3 := DeriveKey("battery staple", salt)
	assert.NotEqual(t, k1, k3)
}

func TestClientSecretHashAndVerify(t *testing.T) {
	hash, err := HashClientSecret("s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.True(t, VerifyClientSecret("s3cret", hash))
	assert.False(t, VerifyClientSecret("wrong", hash))
	assert.False(t, VerifyClientSecret("s3cret", "$argon2id$garbage"))
	assert.False(t, VerifyClientSecret("s3cret", ""))
}

func TestClientSecretHashesAreSalted(t *testing.T) {
	h1, err := HashClientSecret("same")
	require.NoError(t, err)
	h2, err := HashClientSecret("same")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
