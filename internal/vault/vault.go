// Package vault encrypts OAuth tokens at rest with AES-256-GCM.
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

var (
	ErrInvalidKey         = errors.New("vault key must be 32 bytes (64 hex characters)")
	ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")
)

type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a hex-encoded 256-bit key.
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is prepended
// to the ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens nonce||ciphertext. A wrong key or corrupted input fails with
// an authentication error, it never returns garbage.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < v.aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:v.aead.NonceSize()], ciphertext[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptString encrypts a string and returns base64 for DB storage.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	ct, err := v.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString decrypts a base64 value produced by EncryptString.
func (v *Vault) DecryptString(encoded string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	pt, err := v.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
