package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// AlgMLDSA65 is the JOSE algorithm identifier for ML-DSA-65 (Dilithium3).
const AlgMLDSA65 = "ML-DSA-65"

// SeedSize is the ML-DSA keygen seed length.
const SeedSize = mldsa65.SeedSize

// SigningKey is an ML-DSA-65 keypair held by the server for ID token
// signatures. The 32-byte seed fully determines the keypair and is the
// only part persisted at rest.
type SigningKey struct {
	seed [SeedSize]byte
	pub  *mldsa65.PublicKey
	priv *mldsa65.PrivateKey
}

// GenerateSigningKey creates a keypair from a fresh random seed.
func GenerateSigningKey() (*SigningKey, error) {
	var seed [SeedSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	return SigningKeyFromSeed(seed), nil
}

// SigningKeyFromSeed derives the keypair deterministically from seed.
func SigningKeyFromSeed(seed [SeedSize]byte) *SigningKey {
	pub, priv := mldsa65.NewKeyFromSeed(&seed)
	return &SigningKey{seed: seed, pub: pub, priv: priv}
}

// Seed returns the keygen seed.
func (k *SigningKey) Seed() [SeedSize]byte { return k.seed }

// Sign produces a deterministic ML-DSA-65 signature over msg.
func (k *SigningKey) Sign(msg []byte) ([]byte, error) {
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(k.priv, msg, nil, false, sig); err != nil {
		return nil, fmt.Errorf("mldsa sign: %w", err)
	}
	return sig, nil
}

// PublicKeyBytes returns the packed public key.
func (k *SigningKey) PublicKeyBytes() []byte {
	b, err := k.pub.MarshalBinary()
	if err != nil {
		// MarshalBinary on a valid key cannot fail
		panic(err)
	}
	return b
}

// KeyID derives a stable key identifier from the public key.
func (k *SigningKey) KeyID() string {
	return KeyIDFor(k.PublicKeyBytes())
}

// KeyIDFor derives a key identifier from packed public key bytes.
func KeyIDFor(pub []byte) string {
	sum := SHA3256(pub)
	return hex.EncodeToString(sum[:8])
}

// Verify checks an ML-DSA-65 signature under a packed public key.
func Verify(pubBytes, msg, sig []byte) error {
	pub := new(mldsa65.PublicKey)
	if err := pub.UnmarshalBinary(pubBytes); err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	if !mldsa65.Verify(pub, msg, nil, sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
