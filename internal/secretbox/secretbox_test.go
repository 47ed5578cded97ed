package secretbox

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	enc, err := c.Encrypt("sk-abc123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if enc == "sk-abc123" {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}
	dec, err := c.Decrypt(enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if dec != "sk-abc123" {
		t.Fatalf("expected round trip to recover plaintext, got %q", dec)
	}
}

func TestNewRejectsEmptySecret(t *testing.T) {
	if _, err := New(""); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestStringRevealReturnsPlaintext(t *testing.T) {
	s := String("sk-abc123")
	if got := s.Reveal(); got != "sk-abc123" {
		t.Fatalf("expected Reveal to return the wrapped plaintext, got %q", got)
	}
}

func TestStringPanicsOnFormatting(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected formatting a secretbox.String to panic")
		}
	}()
	s := String("sk-abc123")
	_ = s.String()
}
