package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealPrefix = "sealed:v1:"

// ErrUnseal is returned when a sealed value cannot be opened.
var ErrUnseal = errors.New("store: cannot unseal token")

// Sealer encrypts provider tokens at rest with XChaCha20-Poly1305.
// Values without the sealed prefix are read back unchanged.
// A nil *Sealer stores plaintext.
type Sealer struct {
	key []byte
}

// NewSealer derives a 32-byte key from secret with HKDF-SHA256.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("store: empty seal secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("area provider tokens v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("store: derive seal key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext. Empty input stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("store: seal nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a sealed value; unsealed values pass through.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealPrefix) {
		return value, nil
	}
	if s == nil {
		return "", fmt.Errorf("%w: no seal key configured", ErrUnseal)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: short value", ErrUnseal)
	}
	pt, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	return string(pt), nil
}
