package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fantasma-id/fantasma/crypto"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	var seed [crypto.SeedSize]byte
	copy(seed[:], []byte("deterministic signer seed 32 byt"))
	return &Signer{
		Issuer: "https://fantasma.example",
		Key:    crypto.SigningKeyFromSeed(seed),
	}
}

func TestIDTokenRoundTrip(t *testing.T) {
	s := testSigner(t)

	zk := ZkClaims{
		"age": {
			Satisfied:  true,
			Parameters: map[string]any{"threshold": 21},
			ProofRef: ProofRef{
				ID:        "prf_abc",
				Hash:      "00ff",
				CircuitID: "age_verification_v1",
			},
			VerifiedAt: time.Now().Unix(),
		},
	}

	token, err := s.IDToken("demo", "zkid:0123456789abcdef0123456789abcdef01234567", "nonce-1", zk, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Contains(t, token, ".")

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "https://fantasma.example", claims.Issuer)
	assert.Equal(t, "zkid:0123456789abcdef0123456789abcdef01234567", claims.Subject)
	assert.Equal(t, "nonce-1", claims.Nonce)
	assert.NotZero(t, claims.AuthTime)

	age, ok := claims.ZkClaims["age"]
	require.True(t, ok)
	assert.True(t, age.Satisfied)
	assert.Equal(t, "prf_abc", age.ProofRef.ID)
	assert.Equal(t, "age_verification_v1", age.ProofRef.CircuitID)
}

func TestIDTokenRejectsTampering(t *testing.T) {
	s := testSigner(t)

	token, err := s.IDToken("demo", "zkid:00", "", nil, time.Now(), time.Hour)
	require.NoError(t, err)

	_, err = s.Parse(token[:len(token)-3] + "abc")
	assert.Error(t, err)
}

func TestIDTokenRejectsWrongIssuer(t *testing.T) {
	s := testSigner(t)
	other := &Signer{Issuer: "https://other.example", Key: s.Key}

	token, err := other.IDToken("demo", "zkid:00", "", nil, time.Now(), time.Hour)
	require.NoError(t, err)

	_, err = s.Parse(token)
	assert.Error(t, err)
}

func TestIDTokenExpiry(t *testing.T) {
	s := testSigner(t)

	// Expired beyond the 60s leeway.
	token, err := s.IDToken("demo", "zkid:00", "", nil, time.Now(), -2*time.Minute)
	require.NoError(t, err)
	_, err = s.Parse(token)
	assert.Error(t, err)

	// Expired but within leeway still parses.
	token, err = s.IDToken("demo", "zkid:00", "", nil, time.Now(), -30*time.Second)
	require.NoError(t, err)
	_, err = s.Parse(token)
	assert.NoError(t, err)
}

func TestJWKSShape(t *testing.T) {
	s := testSigner(t)
	set := s.JWKS()
	require.Len(t, set.Keys, 1)

	k := set.Keys[0]
	assert.Equal(t, "AKP", k.Kty)
	assert.Equal(t, crypto.AlgMLDSA65, k.Alg)
	assert.Equal(t, "sig", k.Use)
	assert.Equal(t, s.Key.KeyID(), k.Kid)
	assert.NotEmpty(t, k.Pub)
}

func TestDiscoveryDocument(t *testing.T) {
	doc := NewDiscoveryDocument("https://fantasma.example/", []CircuitMetadata{
		{ID: "age_verification_v1", Version: 1, Description: "age"},
	})

	assert.Equal(t, "https://fantasma.example", doc.Issuer)
	assert.Equal(t, "https://fantasma.example/authorize", doc.AuthorizationEndpoint)
	assert.Equal(t, "https://fantasma.example/token", doc.TokenEndpoint)
	assert.Equal(t, []string{"code"}, doc.ResponseTypesSupported)
	assert.Contains(t, doc.GrantTypesSupported, "refresh_token")
	assert.Equal(t, []string{"pairwise"}, doc.SubjectTypesSupported)
	assert.Contains(t, doc.IDTokenSigningAlgValuesSupported, crypto.AlgMLDSA65)
	assert.Contains(t, doc.CodeChallengeMethodsSupported, "S256")
	assert.Contains(t, doc.CodeChallengeMethodsSupported, "plain")
	assert.Contains(t, doc.ScopesSupported, "zk:age:21+")
	assert.Contains(t, doc.ScopesSupported, "zk:kyc:enhanced")
	require.Len(t, doc.ZkCircuits, 1)
}
