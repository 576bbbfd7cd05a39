// Package crypto seals persisted values with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const prefix = "aes-gcm:"

// ErrOpen is returned when sealed data cannot be decrypted.
var ErrOpen = errors.New("crypto: invalid key or corrupted data")

// Sealer encrypts and decrypts strings with one key.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a Sealer from a key in any form DeriveKey accepts.
func NewSealer(key string) (*Sealer, error) {
	keyBytes, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal returns "aes-gcm:" + base64(nonce + ciphertext + tag).
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the prefix were written before
// encryption was enabled and are returned unchanged.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}
	n := s.gcm.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: sealed value too short", ErrOpen)
	}
	plaintext, err := s.gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrOpen
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the "aes-gcm:" prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}

// DeriveKey converts input to a 32-byte AES key. Hex (64 chars), base64
// (44 chars) and raw 32-byte keys are used as-is; any other non-empty input is
// treated as a passphrase and hashed with SHA-256.
func DeriveKey(input string) ([]byte, error) {
	if input == "" {
		return nil, errors.New("crypto: encryption key is required")
	}
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}
	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	if len(input) == 32 {
		return []byte(input), nil
	}
	sum := sha256.Sum256([]byte(input))
	return sum[:], nil
}
