// Package vault seals CRM credentials at rest with AES-256-GCM.
//
// Envelopes are JSON objects {"iv","ciphertext","authTag"} with hex-encoded
// values. The key is fixed for the process lifetime and never generated here:
// losing or changing it makes every stored envelope undecryptable.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/crmgateway/backend/internal/domain/integration"
)

const (
	// KeyHexLength is the required length of the configured key.
	KeyHexLength = 64
	nonceSize    = 16
	tagSize      = 16
)

// Envelope is the stored form of an encrypted payload.
type Envelope struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	AuthTag    string `json:"authTag"`
}

// Vault encrypts and decrypts credential payloads under one key.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

var _ integration.CredentialCipher = (*Vault)(nil)

// New builds a Vault from a 64-character hex key. Any other input is a
// configuration error.
func New(hexKey string) (*Vault, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, fmt.Errorf("%w: credential encryption key is not set", integration.ErrConfiguration)
	}
	if len(hexKey) != KeyHexLength {
		return nil, fmt.Errorf("%w: credential encryption key must be %d hex characters, got %d",
			integration.ErrConfiguration, KeyHexLength, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: credential encryption key is not valid hex", integration.ErrConfiguration)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrConfiguration, err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrConfiguration, err)
	}

	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// ValidateKey checks a key without keeping it.
func ValidateKey(hexKey string) error {
	_, err := New(hexKey)
	return err
}

// Encrypt serializes and seals the credentials.
func (v *Vault) Encrypt(creds integration.Credentials) (string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("vault: marshal credentials: %w", err)
	}
	return v.EncryptBytes(payload)
}

// Decrypt opens an envelope and deserializes the credentials.
func (v *Vault) Decrypt(envelope string) (integration.Credentials, error) {
	var creds integration.Credentials
	payload, err := v.DecryptBytes(envelope)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(payload, &creds); err != nil {
		return creds, integration.NewDecryptionError(fmt.Errorf("decode payload: %w", err))
	}
	return creds, nil
}

// EncryptBytes seals an arbitrary payload under a fresh random nonce.
func (v *Vault) EncryptBytes(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - tagSize

	out, err := json.Marshal(Envelope{
		IV:         hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(sealed[:split]),
		AuthTag:    hex.EncodeToString(sealed[split:]),
	})
	if err != nil {
		return "", fmt.Errorf("vault: marshal envelope: %w", err)
	}
	return string(out), nil
}

// DecryptBytes opens an envelope. Every failure, including a tag mismatch
// from a tampered payload or a different key, wraps ErrDecryptionFailed.
func (v *Vault) DecryptBytes(envelope string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(envelope), &env); err != nil {
		return nil, integration.NewDecryptionError(fmt.Errorf("malformed envelope: %w", err))
	}

	nonce, err := hex.DecodeString(env.IV)
	if err != nil || len(nonce) != nonceSize {
		return nil, integration.NewDecryptionError(fmt.Errorf("invalid iv"))
	}
	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, integration.NewDecryptionError(fmt.Errorf("invalid ciphertext encoding"))
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil || len(tag) != tagSize {
		return nil, integration.NewDecryptionError(fmt.Errorf("invalid auth tag"))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, integration.NewDecryptionError(err)
	}
	return plaintext, nil
}
