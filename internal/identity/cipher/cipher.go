// Package cipher protects canonical phone numbers at rest with AES-256-GCM.
//
// Each encryption draws a fresh random nonce, stored alongside the ciphertext
// as base64(nonce || ciphertext). Decryption fails closed: tampered or
// truncated input yields sentinel.ErrDecryption, never garbage plaintext.
// Plaintext and key material are never persisted.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	dErrors "phonegate/pkg/domain-errors"
	"phonegate/pkg/platform/sentinel"
)

const keySize = 32

// Cipher performs AEAD encryption of canonical phones. The key is injected
// once at construction and immutable for the process lifetime.
type Cipher struct {
	aead gocipher.AEAD
}

// New constructs a Cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("cipher key must be %d bytes", keySize))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals the canonical phone under a fresh nonce.
func (c *Cipher) Encrypt(canonical string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(canonical), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored ciphertext. Corrupt, forged, or truncated input
// returns sentinel.ErrDecryption.
func (c *Cipher) Decrypt(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", sentinel.ErrDecryption)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("ciphertext truncated: %w", sentinel.ErrDecryption)
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", sentinel.ErrDecryption)
	}
	return string(plaintext), nil
}
