package crypto

import (
	"strings"
	"testing"
)

func testKey(seed byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(testKey(0), 1)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"api_key", "abc123XYZ789"},
		{"passphrase", "Tr@ding-Pass!"},
		{"unicode", "中文測試"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if !strings.HasPrefix(sealed, "ENC[v1]:") {
				t.Fatalf("expected ENC[v1]: prefix, got %s", sealed)
			}
			got, err := s.Open(sealed)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("expected %q, got %q", tt.plaintext, got)
			}
		})
	}
}

func TestSealerRejectsBadInput(t *testing.T) {
	if _, err := NewSealer([]byte("short"), 1); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}

	s, _ := NewSealer(testKey(0), 1)
	other, _ := NewSealer(testKey(7), 1)
	sealed, _ := s.Seal("secret")

	if _, err := other.Open(sealed); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed with wrong key, got %v", err)
	}
	if _, err := s.Open("not-sealed"); err != ErrInvalidCiphertext {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestKeyringReveal(t *testing.T) {
	kr, err := NewKeyring(map[int][]byte{1: testKey(0), 2: testKey(9)})
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}

	v1, _ := NewSealer(testKey(0), 1)
	oldSealed, _ := v1.Seal("old-secret")

	got, err := kr.Reveal(oldSealed)
	if err != nil || got != "old-secret" {
		t.Fatalf("expected old-secret, got %q (err %v)", got, err)
	}

	newSealed, err := kr.Seal("new-secret")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !strings.HasPrefix(newSealed, "ENC[v2]:") {
		t.Errorf("expected newest key version 2, got %s", newSealed)
	}

	plain, err := kr.Reveal("plain-value")
	if err != nil || plain != "plain-value" {
		t.Errorf("plaintext should pass through, got %q (err %v)", plain, err)
	}

	if _, err := kr.Reveal("ENC[v5]:AAAA"); err == nil {
		t.Error("expected error for unknown key version")
	}
}

func TestIsSealed(t *testing.T) {
	cases := map[string]bool{
		"ENC[v1]:abc":  true,
		"ENC[v12]:abc": true,
		"ENC[vx]:abc":  false,
		"ENC[v1]abc":   false,
		"plain":        false,
	}
	for in, want := range cases {
		if got := IsSealed(in); got != want {
			t.Errorf("IsSealed(%q) expected %v, got %v", in, want, got)
		}
	}
}
