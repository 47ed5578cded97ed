// Package secretbox encrypts provider API keys at rest and keeps
// plaintext secrets out of logs.
//
// The AES-256-GCM key is derived from APP_SECRET_KEY with HKDF-SHA256
// rather than using the raw secret directly, so the stored key material
// differs from the configured value even if the latter ever leaks
// through a misconfigured log line.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var ErrEmptyKey = errors.New("secretbox: secret key must not be empty")

const hkdfInfo = "worldline-provider-secret"

type Cipher struct {
	gcm cipher.AEAD
}

func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	var key [32]byte
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt returns a base64url-encoded nonce||ciphertext blob suitable
// for storage in a text column.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. An empty input decrypts to an empty string.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	nonceSize := c.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("secretbox: ciphertext too short")
	}
	nonce, body := raw[:nonceSize], raw[nonceSize:]
	plain, err := c.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// String wraps a decrypted secret so that accidental logging via %s,
// %v, or %#v never writes plaintext into a log sink: its String and
// GoString methods panic, and fmt prints a %!v(PANIC=...) marker in
// place of the value. The only way to get the plaintext back out is
// Reveal.
type String string

func (String) String() string { panic("secretbox.String: plaintext formatted via %s/%v, use Reveal") }

func (String) GoString() string {
	panic("secretbox.String: plaintext formatted via %#v, use Reveal")
}

// Reveal returns the wrapped plaintext for the one place that needs it:
// building the outbound request to the provider.
func (s String) Reveal() string { return string(s) }
