// Package credentials encrypts and decrypts tenant mail-provider secrets with AES-256-GCM.
// Ciphertexts are hex encoded as nonce followed by sealed data.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required key length in bytes
const KeySize = 32

var (
	// ErrInvalidKey is returned when the key is not 32 bytes
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	// ErrEmptyCredential is returned when there is nothing to decrypt
	ErrEmptyCredential = errors.New("credential is empty")
)

// Cipher encrypts and decrypts credentials with one key
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher for the given 32-byte key
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a random nonce
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens a hex-encoded nonce+ciphertext
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", ErrEmptyCredential
	}

	data, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("hex decode: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}
