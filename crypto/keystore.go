package crypto

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// KeyStore persists the server signing key on disk.
//
// Layout under the key directory:
//
//	signing.pub — packed ML-DSA-65 public key
//	signing.key — salt(16) || nonce(12) || AES-256-GCM(seed)
//
// The secret seed is encrypted with a key derived from the passphrase via
// PBKDF2-HMAC-SHA256.
type KeyStore struct {
	dir string
}

const keySaltLen = 16

// NewKeyStore opens a key store rooted at dir, creating it if absent.
func NewKeyStore(dir string) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	return &KeyStore{dir: dir}, nil
}

func (ks *KeyStore) pubPath() string { return filepath.Join(ks.dir, "signing.pub") }
func (ks *KeyStore) keyPath() string { return filepath.Join(ks.dir, "signing.key") }

// HasKeys reports whether both key files exist.
func (ks *KeyStore) HasKeys() bool {
	_, errPub := os.Stat(ks.pubPath())
	_, errKey := os.Stat(ks.keyPath())
	return errPub == nil && errKey == nil
}

// LoadOrGenerate loads the keypair when present, otherwise generates and
// persists a fresh one.
func (ks *KeyStore) LoadOrGenerate(passphrase string) (*SigningKey, error) {
	if ks.HasKeys() {
		return ks.Load(passphrase)
	}
	key, err := GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	if err := ks.Save(key, passphrase); err != nil {
		return nil, err
	}
	return key, nil
}

// Save writes the public key and the encrypted seed.
func (ks *KeyStore) Save(key *SigningKey, passphrase string) error {
	if err := os.WriteFile(ks.pubPath(), key.PublicKeyBytes(), 0o644); err != nil {
		return err
	}
	salt := make([]byte, keySaltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	enc := DeriveKey(passphrase, salt)
	seed := key.Seed()
	blob, err := EncryptAESGCM(enc, seed[:], nil)
	if err != nil {
		return err
	}
	return os.WriteFile(ks.keyPath(), append(salt, blob...), 0o600)
}

// Load reads and decrypts the keypair.
func (ks *KeyStore) Load(passphrase string) (*SigningKey, error) {
	raw, err := os.ReadFile(ks.keyPath())
	if err != nil {
		return nil, err
	}
	if len(raw) < keySaltLen+NonceSize {
		return nil, fmt.Errorf("signing.key truncated: %d bytes", len(raw))
	}
	enc := DeriveKey(passphrase, raw[:keySaltLen])
	seedBytes, err := DecryptAESGCM(enc, raw[keySaltLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("unlock signing key: %w", err)
	}
	if len(seedBytes) != SeedSize {
		return nil, fmt.Errorf("invalid seed length %d", len(seedBytes))
	}
	var seed [SeedSize]byte
	copy(seed[:], seedBytes)
	return SigningKeyFromSeed(seed), nil
}

// LoadPublicKey reads only the public key file.
func (ks *KeyStore) LoadPublicKey() ([]byte, error) {
	return os.ReadFile(ks.pubPath())
}
