// Package vault provides authenticated encryption for credential material
// that has to be persisted at rest (panel session tokens). Ciphertexts are
// AES-256-GCM with a random 16-byte nonce, stored as
// base64(nonce || ciphertext || tag) in a single string column.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32

	// nonceSize matches the IV width the original deployment wrote, so
	// existing rows stay decryptable.
	nonceSize = 16
)

var (
	// ErrEncrypt indicates plaintext could not be sealed.
	ErrEncrypt = errors.New("encryption failed")

	// ErrDecrypt indicates ciphertext is corrupt, truncated, or was sealed
	// with a different key. Callers must treat this as "credentials
	// unusable, re-authenticate", not as a fatal error.
	ErrDecrypt = errors.New("decryption failed")
)

// Vault seals and opens small string secrets with a fixed symmetric key.
type Vault struct {
	aead cipher.AEAD
}

// ParseKey decodes a 64-character hex string into a vault key. Malformed
// keys are rejected here, at configuration time, rather than at first use.
func ParseKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes (%d hex characters), got %d bytes", KeySize, KeySize*2, len(key))
	}
	return key, nil
}

// New creates a Vault from a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns a base64 string safe for storage.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. It fails closed: any
// tampering, truncation, or key mismatch yields an error wrapping
// ErrDecrypt, never silently wrong plaintext.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding: %v", ErrDecrypt, err)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}
