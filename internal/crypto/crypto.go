// Package crypto seals profile secrets at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidKey        = errors.New("encryption key must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// ParseKey accepts a base64-encoded or raw 32-byte key. An empty string
// returns a nil key, meaning secrets are stored as-is.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(s) == 32 {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("%w (got %d bytes), preferably base64 encoded", ErrInvalidKey, len(s))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext using AES-256-GCM. The nonce is prepended and
// the result base64 encoded.
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt
func Decrypt(ciphertext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// SealPtr returns an encrypted copy of *value. Nil and empty values pass
// through, and a nil key leaves the value untouched.
func SealPtr(value *string, key []byte) (*string, error) {
	if value == nil || *value == "" || key == nil {
		return value, nil
	}
	enc, err := Encrypt(*value, key)
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

// OpenPtr is the inverse of SealPtr
func OpenPtr(value *string, key []byte) (*string, error) {
	if value == nil || *value == "" || key == nil {
		return value, nil
	}
	dec, err := Decrypt(*value, key)
	if err != nil {
		return nil, err
	}
	return &dec, nil
}
