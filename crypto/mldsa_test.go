package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	msg := []byte("header.payload")
	sig, err := key.Sign(msg)
	require.NoError(t, err)

	assert.NoError(t, Verify(key.PublicKeyBytes(), msg, sig))
	assert.Error(t, Verify(key.PublicKeyBytes(), []byte("tampered"), sig))
}

func TestKeyFromSeedDeterministic(t *testing.T) {
	var seed [SeedSize]byte
	copy(seed[:], []byte("fixed test seed fixed test seed!"))

	k1 := SigningKeyFromSeed(seed)
	k2 := SigningKeyFromSeed(seed)

	assert.Equal(t, k1.PublicKeyBytes(), k2.PublicKeyBytes())
	assert.Equal(t, k1.KeyID(), k2.KeyID())
}

func TestKeyStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewKeyStore(dir)
	require.NoError(t, err)
	assert.False(t, ks.HasKeys())

	key, err := ks.LoadOrGenerate("passphrase")
	require.NoError(t, err)
	assert.True(t, ks.HasKeys())

	loaded, err := ks.Load("passphrase")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKeyBytes(), loaded.PublicKeyBytes())

	// Wrong passphrase must not unlock the seed
	_, err = ks.Load("wrong")
	assert.Error(t, err)

	pub, err := ks.LoadPublicKey()
	require.NoError(t, err)
	assert.Equal(t, key.PublicKeyBytes(), pub)
}
