package instance

import (
	"errors"
	"testing"
)

func TestResolveFallbacks(t *testing.T) {
	fail := func(string) (string, error) { return "", errors.New("no machine id") }
	ok := func(string) (string, error) { return "abc123", nil }
	host := func() (string, error) { return "box", nil }
	noHost := func() (string, error) { return "", errors.New("no hostname") }

	tests := []struct {
		name    string
		machine func(string) (string, error)
		host    func() (string, error)
		want    string
	}{
		{"machine id", ok, host, "abc123"},
		{"hostname fallback", fail, host, "box"},
		{"unknown", fail, noHost, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolve(tt.machine, tt.host); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIDIsStable(t *testing.T) {
	first := ID()
	if first == "" {
		t.Fatal("expected non-empty id")
	}
	if again := ID(); again != first {
		t.Errorf("expected stable id %q, got %q", first, again)
	}
}
