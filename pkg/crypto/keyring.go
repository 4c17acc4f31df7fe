package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

var ErrKeyNotFound = errors.New("encryption key not found")

// Keyring holds every configured key version. Values are sealed with the
// newest version and opened with whichever version they were written with.
type Keyring struct {
	current int
	sealers map[int]*Sealer
}

// KeyringFromEnv loads MASTER_ENCRYPTION_KEY (v1) and MASTER_ENCRYPTION_KEY_V2..V10.
// A missing v1 key yields an empty keyring: plaintext values still pass through Reveal.
func KeyringFromEnv() (*Keyring, error) {
	kr := &Keyring{sealers: make(map[int]*Sealer)}
	if err := kr.add(1, os.Getenv("MASTER_ENCRYPTION_KEY")); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return kr, nil
		}
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	for v := 2; v <= 10; v++ {
		if err := kr.add(v, os.Getenv(fmt.Sprintf("MASTER_ENCRYPTION_KEY_V%d", v))); err != nil && !errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("load key v%d: %w", v, err)
		}
	}
	return kr, nil
}

// NewKeyring builds a keyring from raw keys indexed by version.
func NewKeyring(keys map[int][]byte) (*Keyring, error) {
	kr := &Keyring{sealers: make(map[int]*Sealer)}
	for v, key := range keys {
		s, err := NewSealer(key, v)
		if err != nil {
			return nil, fmt.Errorf("key v%d: %w", v, err)
		}
		kr.sealers[v] = s
		if v > kr.current {
			kr.current = v
		}
	}
	return kr, nil
}

func (kr *Keyring) add(version int, encoded string) error {
	if encoded == "" {
		return ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	s, err := NewSealer(key, version)
	if err != nil {
		return err
	}
	kr.sealers[version] = s
	if version > kr.current {
		kr.current = version
	}
	return nil
}

// Reveal returns plaintext values unchanged and opens sealed ones.
func (kr *Keyring) Reveal(value string) (string, error) {
	version, _, ok := splitSealed(value)
	if !ok {
		return value, nil
	}
	s, found := kr.sealers[version]
	if !found {
		return "", fmt.Errorf("key version %d not available", version)
	}
	return s.Open(value)
}

// Seal encrypts with the newest key version.
func (kr *Keyring) Seal(plaintext string) (string, error) {
	s, ok := kr.sealers[kr.current]
	if !ok {
		return "", ErrKeyNotFound
	}
	return s.Seal(plaintext)
}

// Empty reports whether no key is loaded.
func (kr *Keyring) Empty() bool {
	return len(kr.sealers) == 0
}

// GenerateKey returns a random base64-encoded AES-256 key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
