package crypto

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("correct horse battery staple", 1)
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"short", "hello"},
		{"api_key", "abc123XYZ789"},
		{"long", "this is a very long string that represents an API secret from a venue"},
		{"unicode", "중문 테스트 🔐"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if !strings.HasPrefix(ciphertext, "ENC[v1]:") {
				t.Errorf("ciphertext missing version prefix: %s", ciphertext)
			}

			decrypted, err := enc.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("decrypted = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptNoncesDiffer(t *testing.T) {
	enc, _ := NewEncryptor("same-secret", 1)

	c1, _ := enc.Encrypt("same-api-key")
	c2, _ := enc.Encrypt("same-api-key")
	if c1 == c2 {
		t.Error("two encryptions of one plaintext must not collide")
	}
}

func TestHexKeyAccepted(t *testing.T) {
	hexKey := strings.Repeat("ab", KeySize)
	enc, err := NewEncryptor(hexKey, 2)
	if err != nil {
		t.Fatalf("hex key rejected: %v", err)
	}
	c, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := enc.Decrypt(c)
	if err != nil || got != "secret" {
		t.Fatalf("round trip = %q, %v", got, err)
	}
	if ParseVersion(c) != 2 {
		t.Fatalf("version = %d, want 2", ParseVersion(c))
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := NewEncryptor("", 1); err == nil {
		t.Fatal("empty secret must be rejected")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	a, _ := NewEncryptor("key-a", 1)
	b, _ := NewEncryptor("key-b", 1)

	c, _ := a.Encrypt("secret")
	if _, err := b.Decrypt(c); err != ErrDecryptionFailed {
		t.Fatalf("err = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptInvalidCiphertext(t *testing.T) {
	enc, _ := NewEncryptor("key", 1)

	invalids := []string{
		"",
		"not-encrypted",
		"ENC[v1]:",
		"ENC[v1]:!!!invalid",
	}
	for _, invalid := range invalids {
		if _, err := enc.Decrypt(invalid); err == nil {
			t.Errorf("expected error for %q", invalid)
		}
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		ciphertext string
		expected   int
	}{
		{"ENC[v1]:data", 1},
		{"ENC[v2]:data", 2},
		{"ENC[v10]:data", 10},
		{"invalid", 0},
		{"ENC[vX]:data", 0},
	}
	for _, tt := range tests {
		if got := ParseVersion(tt.ciphertext); got != tt.expected {
			t.Errorf("ParseVersion(%q) = %d, want %d", tt.ciphertext, got, tt.expected)
		}
	}
}
