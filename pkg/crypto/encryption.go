// Package crypto provides reversible encryption for exchange API credentials.
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
	"io"
	"strings"
)

const (
	// KeySize is the required size for AES-256 keys.
	KeySize = 32
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor handles AES-256-GCM encryption of account secrets.
// Ciphertext format: ENC[vN]:base64(nonce+ciphertext).
type Encryptor struct {
	key     []byte
	version int
}

// NewEncryptor derives a 32-byte key from the configured secret. A 64-char
// hex string is decoded directly; anything else is hashed with SHA-256 so a
// passphrase-style ENCRYPTION_KEY still works.
func NewEncryptor(secret string, version int) (*Encryptor, error) {
	if secret == "" {
		return nil, errors.New("encryption key is empty")
	}
	var key []byte
	if len(secret) == KeySize*2 {
		if decoded, err := hex.DecodeString(secret); err == nil {
			key = decoded
		}
	}
	if key == nil {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}
	return &Encryptor{key: key, version: version}, nil
}

// Encrypt encrypts plaintext and prefixes the key version.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:", e.version) + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. A failure here disables trading on the owning
// account rather than being retried.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "ENC[v") {
		return "", ErrInvalidCiphertext
	}
	sep := strings.Index(ciphertext, "]:")
	if sep == -1 {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext[sep+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Version returns the key version stamped on new ciphertexts.
func (e *Encryptor) Version() int {
	return e.version
}

// ParseVersion extracts the key version from a ciphertext, 0 when invalid.
func ParseVersion(ciphertext string) int {
	var version int
	if _, err := fmt.Sscanf(ciphertext, "ENC[v%d]:", &version); err != nil {
		return 0
	}
	return version
}
