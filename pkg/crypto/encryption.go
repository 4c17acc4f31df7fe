// Package crypto seals exchange credentials at rest so .env and accounts
// files can carry ENC[vN]: values instead of plaintext API secrets.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	sealedPrefix = "ENC[v"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Sealer encrypts and opens credential strings with a single AES-256-GCM key.
type Sealer struct {
	aead    cipher.AEAD
	version int
}

// NewSealer builds a Sealer for the given key version.
func NewSealer(key []byte, version int) (*Sealer, error) {
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
	return &Sealer{aead: aead, version: version}, nil
}

// Seal returns ENC[vN]:base64(nonce|ciphertext|tag).
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", sealedPrefix, s.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open reverses Seal. The version tag is not checked here; Keyring routes by it.
func (s *Sealer) Open(value string) (string, error) {
	_, payload, ok := splitSealed(value)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}
	plain, err := s.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// Version returns the key version this Sealer writes.
func (s *Sealer) Version() int {
	return s.version
}

// IsSealed reports whether value carries the ENC[vN]: marker.
func IsSealed(value string) bool {
	_, _, ok := splitSealed(value)
	return ok
}

func splitSealed(value string) (version int, payload string, ok bool) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return 0, "", false
	}
	end := strings.Index(value, "]:")
	if end == -1 {
		return 0, "", false
	}
	if _, err := fmt.Sscanf(value[len(sealedPrefix):end], "%d", &version); err != nil || version <= 0 {
		return 0, "", false
	}
	return version, value[end+2:], true
}
