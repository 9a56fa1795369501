// Package seal encrypts and authenticates small blobs such as the persisted token set.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidEnvelope  = errors.New("invalid sealed envelope")
	ErrInvalidSignature = errors.New("invalid signature")
)

// envelopePrefix marks sealed content so plain JSON files can still be read.
const envelopePrefix = "sealed.v1."

// MinSecretLength is the shortest secret NewSealer accepts.
const MinSecretLength = 32

// Sealer handles AES-GCM encryption followed by an HMAC-SHA256 signature.
// Both keys are derived from a single secret.
type Sealer struct {
	signingKey    []byte
	encryptionKey []byte
}

// NewSealer derives signing and encryption keys from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
	}

	kdf := hkdf.New(sha256.New, secret, nil, []byte("saxotrader token seal"))
	signingKey := make([]byte, 32)
	encryptionKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, signingKey); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	if _, err := io.ReadFull(kdf, encryptionKey); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return &Sealer{
		signingKey:    signingKey,
		encryptionKey: encryptionKey,
	}, nil
}

// Seal returns an encrypted, signed and encoded copy of plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	encrypted, err := s.encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	signed := s.sign(encrypted)
	return []byte(envelopePrefix + base64.RawURLEncoding.EncodeToString(signed)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(string(sealed)), envelopePrefix)
	if !ok {
		return nil, ErrInvalidEnvelope
	}

	signed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}

	encrypted, err := s.verify(signed)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether data carries the sealed envelope prefix.
func IsSealed(data []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(data)), envelopePrefix)
}

// encrypt encrypts data using AES-GCM
func (s *Sealer) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt decrypts data using AES-GCM
func (s *Sealer) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

// sign prepends an HMAC-SHA256 signature to data.
func (s *Sealer) sign(data []byte) []byte {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write(data)
	signature := h.Sum(nil)

	signed := make([]byte, len(signature)+len(data))
	copy(signed, signature)
	copy(signed[len(signature):], data)
	return signed
}

// verify checks the signature and returns the payload after it.
func (s *Sealer) verify(signed []byte) ([]byte, error) {
	if len(signed) < sha256.Size {
		return nil, ErrInvalidSignature
	}

	signature := signed[:sha256.Size]
	data := signed[sha256.Size:]

	h := hmac.New(sha256.New, s.signingKey)
	h.Write(data)

	// Constant-time comparison
	if !hmac.Equal(signature, h.Sum(nil)) {
		return nil, ErrInvalidSignature
	}
	return data, nil
}

// GenerateSecret returns a random secret suitable for NewSealer.
func GenerateSecret() ([]byte, error) {
	key := make([]byte, MinSecretLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
