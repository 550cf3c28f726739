package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// NonceSize is the AES-GCM nonce length in bytes.
const NonceSize = 12

// EncryptAESGCM seals plaintext under key with AES-256-GCM and a random
// 96-bit nonce. The result is nonce || ciphertext.
func EncryptAESGCM(key [32]byte, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// DecryptAESGCM opens a nonce || ciphertext blob produced by EncryptAESGCM.
func DecryptAESGCM(key [32]byte, blob, aad []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(blob))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, blob[:NonceSize], blob[NonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
