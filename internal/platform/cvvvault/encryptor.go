package cvvvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidCiphertext indicates a payload that cannot be authenticated.
var ErrInvalidCiphertext = errors.New("cvvvault: invalid ciphertext")

// Encryptor seals verification codes with AES-GCM under a deployment-time
// key. This protects against transport-log and process-log exposure; it is
// not a substitute for transport security.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor constructs an Encryptor from a hex-encoded 32-byte key.
func NewEncryptor(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("cvvvault: decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("cvvvault: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cvvvault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cvvvault: init gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals the code and returns base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(code string) (string, error) {
	if e == nil || e.aead == nil {
		return "", errors.New("cvvvault: encryptor not initialised")
	}
	if code == "" {
		return "", errors.New("cvvvault: empty code")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cvvvault: nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(code), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt. Used by tests and tooling;
// the service itself only ever encrypts.
func (e *Encryptor) Decrypt(payload string) (string, error) {
	if e == nil || e.aead == nil {
		return "", errors.New("cvvvault: encryptor not initialised")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	nonceSize := e.aead.NonceSize()
	if len(raw) <= nonceSize {
		return "", ErrInvalidCiphertext
	}
	plain, err := e.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
