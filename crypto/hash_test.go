package crypto

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA3256KnownVector(t *testing.T) {
	// NIST SHA3-256 of empty input
	got := SHA3256()
	assert.Equal(t,
		"a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a",
		hex.EncodeToString(got[:]))
}

func TestSHA3256Concatenates(t *testing.T) {
	a := SHA3256([]byte("foo"), []byte("bar"))
	b := SHA3256([]byte("foobar"))
	assert.Equal(t, a, b)
}

func TestPoseidonDeterministic(t *testing.T) {
	x := ToField([]byte("left"))
	y := ToField([]byte("right"))

	h1 := Poseidon(x, y)
	h2 := Poseidon(x, y)
	assert.Equal(t, h1, h2)

	h3 := Poseidon(y, x)
	assert.NotEqual(t, h1, h3, "order must matter")
}

func TestPoseidonDomainSeparation(t *testing.T) {
	x := ToField([]byte("input"))
	a := PoseidonDomain("tag-a", x)
	b := PoseidonDomain("tag-b", x)
	assert.NotEqual(t, a, b)
}

func TestCommitBindsValueAndSalt(t *testing.T) {
	c1 := Commit(big.NewInt(19900101), big.NewInt(42))
	c2 := Commit(big.NewInt(19900101), big.NewInt(42))
	c3 := Commit(big.NewInt(19900102), big.NewInt(42))
	c4 := Commit(big.NewInt(19900101), big.NewInt(43))

	require.Equal(t, c1, c2)
	assert.NotEqual(t, c1, c3)
	assert.NotEqual(t, c1, c4)
}

func TestAESGCMRoundTrip(t *testing.T) {
	key := SHA3256([]byte("test key material"))
	plaintext := []byte("the quick brown fox")

	blob, err := EncryptAESGCM(key, plaintext, []byte("aad"))
	require.NoError(t, err)
	assert.Greater(t, len(blob), len(plaintext))

	got, err := DecryptAESGCM(key, blob, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	// Wrong AAD must fail
	_, err = DecryptAESGCM(key, blob, []byte("other"))
	assert.Error(t, err)

	// Tampered ciphertext must fail
	blob[len(blob)-1] ^= 0xff
	_, err = DecryptAESGCM(key, blob, []byte("aad"))
	assert.Error(t, err)
}

func TestNullifierDomainBinding(t *testing.T) {
	leaf := ToField([]byte("credential"))
	secret := ToField([]byte("user secret"))
	var zero [32]byte

	n1 := Nullifier(leaf, secret, "rp.example", zero)
	n2 := Nullifier(leaf, secret, "rp.example", zero)
	assert.Equal(t, n1, n2)

	n3 := Nullifier(leaf, secret, "other.example", zero)
	assert.NotEqual(t, n1, n3)

	nonce := ToField([]byte("request nonce"))
	n4 := Nullifier(leaf, secret, "rp.example", nonce)
	assert.NotEqual(t, n1, n4)

	h1 := NullifierHash(n1)
	h2 := NullifierHash(n3)
	assert.NotEqual(t, h1, h2)
}
